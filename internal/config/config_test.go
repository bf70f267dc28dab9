package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNew_DefaultsAndValidation(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("OPENAI_API_KEY", "key")
	t.Setenv("ALLOWED_USERS", "1:2")

	cfg, err := New()
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if cfg.MaxChecks != 5 || cfg.MaxActiveSessions != 20 || cfg.MaxConcurrent != 10 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if cfg.IdleTimeout != 10*time.Minute {
		t.Fatalf("unexpected idle timeout: %s", cfg.IdleTimeout)
	}
	if len(cfg.AllowedUsers) != 2 || cfg.AllowedUsers[1] != 2 {
		t.Fatalf("unexpected allowlist: %v", cfg.AllowedUsers)
	}
	if cfg.OpenAIBaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("unexpected base url: %s", cfg.OpenAIBaseURL)
	}
}

func TestNew_RejectsMissingKey(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New(); err == nil || !strings.Contains(err.Error(), "OPENAI_API_KEY") {
		t.Fatalf("expected api key error, got %v", err)
	}
}

func TestValidate_Limits(t *testing.T) {
	base := Config{
		LLMProvider:        ProviderOpenAI,
		OpenAIAPIKey:       "k",
		MaxChecks:          1,
		MaxActiveSessions:  1,
		IdleTimeout:        time.Second,
		MaxConcurrent:      1,
		MaxAttachmentBytes: 1,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := base
	bad.MaxConcurrent = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("zero concurrency accepted")
	}
	bad = base
	bad.LLMProvider = "other"
	if err := bad.Validate(); err == nil {
		t.Fatalf("unknown provider accepted")
	}
}

func TestLoadMessages_OverridesSubset(t *testing.T) {
	p := filepath.Join(t.TempDir(), "messages.yaml")
	if err := os.WriteFile(p, []byte("please_wait: wait!\nlimit_reached: done\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	msgs, err := LoadMessages(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if msgs.PleaseWait != "wait!" || msgs.LimitReached != "done" {
		t.Fatalf("overrides not applied: %+v", msgs)
	}
	if msgs.Help != DefaultMessages().Help {
		t.Fatalf("default lost: %q", msgs.Help)
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(p, []byte("  role text \n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadSystemPrompt(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !strings.HasPrefix(got, "role text\n\n---\n\n") || !strings.Contains(got, "corrected_report") {
		t.Fatalf("unexpected prompt: %q", got)
	}
	if _, err := LoadSystemPrompt(filepath.Join(dir, "missing.txt")); err == nil {
		t.Fatalf("missing prompt accepted")
	}
}
