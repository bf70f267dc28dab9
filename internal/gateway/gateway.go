// Package gateway turns a report into structured feedback through one
// completion call, bounded by a process-wide concurrency limit.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"report-checker/internal/llm"
)

const (
	OpAcquire  = "acquire"
	OpComplete = "complete"
	OpDecode   = "decode"
)

// GatewayError wraps every failure of Submit. It is never retried here.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("gateway %s: %v", e.Op, e.Err) }

func (e *GatewayError) Unwrap() error { return e.Err }

// Observer receives call accounting; *metrics.Metrics satisfies it.
type Observer interface {
	GatewayStarted()
	GatewayFinished(outcome string, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) GatewayStarted()                       {}
func (nopObserver) GatewayFinished(string, time.Duration) {}

type Gateway struct {
	client       llm.Client
	systemPrompt string
	sem          *semaphore.Weighted
	obs          Observer
	log          logrus.FieldLogger
}

type Option func(*Gateway)

func WithObserver(o Observer) Option {
	return func(g *Gateway) {
		if o != nil {
			g.obs = o
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(g *Gateway) { g.log = l }
}

// New returns a gateway admitting at most maxConcurrent simultaneous calls.
func New(client llm.Client, systemPrompt string, maxConcurrent int64, opts ...Option) *Gateway {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	g := &Gateway{
		client:       client,
		systemPrompt: systemPrompt,
		sem:          semaphore.NewWeighted(maxConcurrent),
		obs:          nopObserver{},
		log:          logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(g)
	}
	g.log = g.log.WithField("component", "gateway")
	return g
}

// Messages assembles system prompt, history and the new user message, in
// that order.
func (g *Gateway) Messages(userText string, history []llm.Message) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: g.systemPrompt})
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userText})
	return msgs
}

// Submit waits for a limiter slot, performs the completion call and decodes
// the answer. The slot is released on every return path.
func (g *Gateway) Submit(ctx context.Context, userText string, history []llm.Message) (Result, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return Result{}, &GatewayError{Op: OpAcquire, Err: err}
	}
	defer g.sem.Release(1)

	started := time.Now()
	outcome := "transport_error"
	g.obs.GatewayStarted()
	defer func() { g.obs.GatewayFinished(outcome, time.Since(started)) }()

	resp, err := g.client.Generate(ctx, g.Messages(userText, history))
	if err != nil {
		return Result{}, &GatewayError{Op: OpComplete, Err: err}
	}
	g.log.WithFields(logrus.Fields{
		"model":             resp.Model,
		"prompt_tokens":     resp.PromptTokens,
		"completion_tokens": resp.CompletionTokens,
		"total_tokens":      resp.TotalTokens,
		"elapsed":           time.Since(started).String(),
	}).Debug("completion received")

	res, err := Decode(resp.Content)
	if err != nil {
		outcome = "decode_error"
		return Result{}, &GatewayError{Op: OpDecode, Err: err}
	}
	outcome = "ok"
	return res, nil
}
