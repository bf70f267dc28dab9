package history

import (
	"sync"

	"report-checker/internal/llm"
)

// Transcript is the append-only conversation of one session.
type Transcript struct {
	mu   sync.RWMutex
	msgs []llm.Message
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) AppendUser(content string) {
	t.append(llm.Message{Role: llm.RoleUser, Content: content})
}

func (t *Transcript) AppendAssistant(content string) {
	t.append(llm.Message{Role: llm.RoleAssistant, Content: content})
}

func (t *Transcript) append(msg llm.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.msgs = append(t.msgs, msg)
}

// Messages returns a copy of the transcript in order.
func (t *Transcript) Messages() []llm.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]llm.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.msgs)
}
