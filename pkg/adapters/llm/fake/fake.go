// Package fake provides a scripted LLM for tests and offline examples.
// Each Generate call pops the next canned reply; when the script runs out
// the client keeps returning the last reply.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/protean-ai/protean/pkg/adapters/llm"
)

// Client replays a fixed sequence of replies.
type Client struct {
	mu      sync.Mutex
	replies []string
	next    int
	// Calls records every prompt seen, newest last.
	Calls [][]llm.Message
}

// New builds a scripted client.
func New(replies ...string) *Client {
	return &Client{replies: replies}
}

func (c *Client) Name() string { return "fake" }

func (c *Client) Generate(_ context.Context, messages []llm.Message, _ map[string]any) (llm.GenerateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.replies) == 0 {
		return llm.GenerateResult{}, fmt.Errorf("fake: no scripted replies")
	}
	c.Calls = append(c.Calls, messages)
	i := c.next
	if i >= len(c.replies) {
		i = len(c.replies) - 1
	}
	c.next++
	return llm.GenerateResult{Text: c.replies[i], Model: "fake"}, nil
}

// Factory builds a scripted client from cfg key "replies" ([]any of string).
func Factory(_ context.Context, cfg map[string]any) (llm.LLM, error) {
	var replies []string
	if raw, ok := cfg["replies"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				replies = append(replies, s)
			}
		}
	}
	return New(replies...), nil
}

func init() {
	_ = llm.Register("fake", Factory)
}
