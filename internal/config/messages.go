package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Messages holds every user-facing text. Keys absent from the YAML file keep
// their defaults.
type Messages struct {
	MenuTitle       string `yaml:"menu_title"`
	MenuDescription string `yaml:"menu_description"`
	StartButton     string `yaml:"start_button"`
	HelpButton      string `yaml:"help_button"`
	Help            string `yaml:"help"`

	Start          string `yaml:"start"`
	StartNotify    string `yaml:"start_notify"`
	AlreadyStarted string `yaml:"already_started"`
	TooManyClients string `yaml:"too_many_clients"`
	Unreachable    string `yaml:"unreachable"`
	NotAllowed     string `yaml:"not_allowed"`

	InactiveSession string `yaml:"inactive_session"`
	PleaseWait      string `yaml:"please_wait"`
	WrongFormat     string `yaml:"wrong_format"`
	EmptyInput      string `yaml:"empty_input"`
	CheckStarted    string `yaml:"check_started"`
	CheckFailed     string `yaml:"check_failed"`

	LimitReached string `yaml:"limit_reached"`
	IdleClosed   string `yaml:"idle_closed"`
	ManualClosed string `yaml:"manual_closed"`

	ResultTitle    string `yaml:"result_title"`
	ChecksLeft     string `yaml:"checks_left"`
	PageFooter     string `yaml:"page_footer"`
	NoIssues       string `yaml:"no_issues"`
	PrevButton     string `yaml:"prev_button"`
	NextButton     string `yaml:"next_button"`
	FinishButton   string `yaml:"finish_button"`
	ReportFileName string `yaml:"report_file_name"`
	ResultExpired  string `yaml:"result_expired"`

	DailySummary string `yaml:"daily_summary"`
}

func DefaultMessages() Messages {
	return Messages{
		MenuTitle:       "Проверка отчетов",
		MenuDescription: "Бот проверяет отчеты по чек-листу и предлагает исправленный вариант.",
		StartButton:     "Начать проверку",
		HelpButton:      "Инструкция",
		Help:            "Отправь текст отчета сообщением или .txt файлом. Бот вернет замечания по критериям и исправленный текст.",

		Start:          "Сессия начата. Отправь текст отчета или .txt файл.",
		StartNotify:    "Я написал тебе в личные сообщения.",
		AlreadyStarted: "У тебя уже есть активная сессия.",
		TooManyClients: "Сейчас слишком много одновременных проверок. Попробуй позже.",
		Unreachable:    "Не удалось написать тебе в личные сообщения. Начни диалог с ботом и попробуй снова.",
		NotAllowed:     "У тебя нет доступа к проверке отчетов.",

		InactiveSession: "Нет активной сессии. Нажми «Начать проверку», чтобы открыть новую.",
		PleaseWait:      "Предыдущая проверка еще не завершена, подожди.",
		WrongFormat:     "Поддерживаются только текстовые .txt файлы.",
		EmptyInput:      "Отчет пустой. Отправь текст или непустой .txt файл.",
		CheckStarted:    "Проверяю отчет…",
		CheckFailed:     "Не удалось проверить отчет:",

		LimitReached: "Лимит проверок исчерпан, сессия завершена.",
		IdleClosed:   "⏰ Сессия завершена автоматически из-за простоя. Чтобы начать новую проверку, нажми «Начать проверку».",
		ManualClosed: "✅ Сессия завершена вручную",

		ResultTitle:    "📋 Результат проверки отчета",
		ChecksLeft:     "Осталось проверок: %d",
		PageFooter:     "Страница %d из %d",
		NoIssues:       "Нет замечаний",
		PrevButton:     "⏮ Назад",
		NextButton:     "⏭ Вперед",
		FinishButton:   "🚫 Завершить сессию",
		ReportFileName: "report_example.txt",
		ResultExpired:  "Результат больше недоступен.",

		DailySummary: "Статистика за %s: проверок %d, ошибок %d, пользователей %d",
	}
}

// LoadMessages returns the defaults overlaid with the YAML file at path. An
// empty path yields the defaults.
func LoadMessages(path string) (Messages, error) {
	msgs := DefaultMessages()
	if path == "" {
		return msgs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Messages{}, fmt.Errorf("read messages %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &msgs); err != nil {
		return Messages{}, fmt.Errorf("parse messages %s: %w", path, err)
	}
	return msgs, nil
}
