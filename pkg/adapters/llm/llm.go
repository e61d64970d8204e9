// Package llm defines the minimal chat interface the agent core generates
// text through, plus a named factory registry so providers can be selected
// from configuration. Provider packages register themselves in init.
package llm

import (
	"context"
	"fmt"
	"sync"
)

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// GenerateResult carries the model's text output and token usage when the
// provider reports it.
type GenerateResult struct {
	Text         string
	PromptTokens int
	OutputTokens int
	TotalTokens  int
	Model        string
}

// LLM is a chat/text generation client. Supported opts keys are "model"
// (string) and "temperature" (float64); providers ignore keys they do not
// understand.
type LLM interface {
	// Name returns the provider name (e.g. "openai").
	Name() string
	Generate(ctx context.Context, messages []Message, opts map[string]any) (GenerateResult, error)
}

// Factory constructs an LLM from provider-specific config.
type Factory func(ctx context.Context, cfg map[string]any) (LLM, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers an LLM factory under a provider name.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("llm: empty provider name")
	}
	if f == nil {
		return fmt.Errorf("llm: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("llm: provider %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve gets a registered factory by name.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// New resolves and invokes the factory for a provider in one step.
func New(ctx context.Context, provider string, cfg map[string]any) (LLM, error) {
	f, ok := Resolve(provider)
	if !ok {
		return nil, fmt.Errorf("llm: unknown provider %q", provider)
	}
	return f(ctx, cfg)
}

// Range iterates all registered factories.
func Range(fn func(name string, f Factory)) {
	regMu.RLock()
	defer regMu.RUnlock()
	for n, f := range factories {
		fn(n, f)
	}
}

// Temperature extracts a temperature option if present.
func Temperature(opts map[string]any) (float64, bool) {
	if opts == nil {
		return 0, false
	}
	switch v := opts["temperature"].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}
