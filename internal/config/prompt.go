package config

import (
	"fmt"
	"os"
	"strings"
)

// outputInstruction is appended to every role prompt so the model answers in
// the shape the gateway decodes.
const outputInstruction = `В ответе отдавай результат строго в формате JSON со следующей структурой:

{
  "recommendations": [
    {
      "criterion": "Название критерия проверки (например, Стиль изложения)",
      "issues": [
        "Конкретная проблема по этому критерию",
        "Еще одна проблема"
      ]
    }
  ],
  "corrected_report": "Исправленный текст отчета с учетом рекомендаций. Для мест, которые требуют уточнения или корректировки, используй скобки [ ] без выдуманных данных"
}

Правила:
1. В массиве "recommendations" перечисляй только конкретные замечания по критериям проверки, указанным выше
2. Поле "corrected_report" содержит готовый к исправлению отчет со вставленными скобками [ ] там, где требуется исправление или уточнение
3. Не добавляй лишнего текста вне JSON
4. Все рекомендации и исправления должны строго соответствовать чек-листу и примерам выше`

// LoadSystemPrompt reads the role prompt and joins it with the output format
// instruction. A missing or empty prompt file is an error.
func LoadSystemPrompt(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt %s: %w", path, err)
	}
	role := strings.TrimSpace(string(data))
	if role == "" {
		return "", fmt.Errorf("system prompt %s is empty", path)
	}
	return role + "\n\n---\n\n" + outputInstruction, nil
}
