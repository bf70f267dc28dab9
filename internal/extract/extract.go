// Package extract pulls a JSON object out of free-form model output.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PreviewLimit bounds the offending text carried by ParseError.
const PreviewLimit = 500

// ErrNoObject is wrapped by ExtractionError.
var ErrNoObject = errors.New("no JSON object found in text")

// ExtractionError reports that no {...} span exists in the text.
type ExtractionError struct {
	Len int
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%v (%d bytes inspected)", ErrNoObject, e.Len)
}

func (e *ExtractionError) Unwrap() error { return ErrNoObject }

// ParseError reports that the located span is not valid JSON.
type ParseError struct {
	Preview string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid JSON object: %v; raw: %q", e.Err, e.Preview)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Span returns the text from the first '{' to the last '}'.
func Span(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(raw, '}')
	if end < start {
		return "", false
	}
	return raw[start : end+1], true
}

// Object locates the outermost JSON object in raw and decodes its top-level
// keys. Values are left undecoded for the caller.
func Object(raw string) (map[string]json.RawMessage, error) {
	span, ok := Span(raw)
	if !ok {
		return nil, &ExtractionError{Len: len(raw)}
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal([]byte(span), &out); err != nil {
		return nil, &ParseError{Preview: preview(span), Err: err}
	}
	return out, nil
}

func preview(s string) string {
	if len(s) <= PreviewLimit {
		return s
	}
	cut := PreviewLimit
	// keep the preview valid UTF-8
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
