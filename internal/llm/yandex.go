package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Morwran/yagpt"
)

// iamTTL is how long an issued IAM token is reused. Yandex tokens live up to
// 12 hours.
const iamTTL = time.Hour

type YandexClient struct {
	ya    yagpt.YaGPTFace
	issue func() (string, error)

	mu       sync.Mutex
	iamToken string
	issuedAt time.Time
	now      func() time.Time
}

func NewYandex(oauthToken, folderID string) (*YandexClient, error) {
	iam, err := yagpt.NewYaIam(oauthToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init yandex iam: %w", err)
	}
	ya, err := yagpt.NewYagpt(folderID)
	if err != nil {
		return nil, fmt.Errorf("failed to init yagpt: %w", err)
	}

	c := &YandexClient{
		ya: ya,
		issue: func() (string, error) {
			resp, err := iam.Create()
			if err != nil {
				return "", err
			}
			return resp.IamToken, nil
		},
		now: time.Now,
	}
	// fail fast on a bad oauth token
	if _, err := c.token(); err != nil {
		return nil, err
	}
	return c, nil
}

// token returns a cached IAM token, issuing a new one when it is stale.
func (c *YandexClient) token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.iamToken != "" && c.now().Sub(c.issuedAt) < iamTTL {
		return c.iamToken, nil
	}
	tok, err := c.issue()
	if err != nil {
		return "", fmt.Errorf("failed to create iam token: %w", err)
	}
	c.iamToken, c.issuedAt = tok, c.now()
	return tok, nil
}

func (c *YandexClient) Generate(ctx context.Context, messages []Message) (Response, error) {
	iam, err := c.token()
	if err != nil {
		return Response{}, err
	}
	yaMsgs := make([]yagpt.Message, 0, len(messages))
	for _, m := range messages {
		yaMsgs = append(yaMsgs, yagpt.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := c.ya.CompletionWithCtx(ctx, iam, yaMsgs)
	if err != nil {
		return Response{}, fmt.Errorf("yagpt completion failed: %w", err)
	}
	if resp == nil || len(resp.Alternatives) == 0 {
		return Response{}, ErrEmptyCompletion
	}
	return Response{
		Content:          resp.Alternatives[0].Message.Content,
		Model:            yagpt.YaModelLite,
		PromptTokens:     int(resp.Usage.InputTextTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}, nil
}
