// Package assemble builds the bounded context block handed to a delegated
// sub-agent. Selection is deterministic: pinned blocks first, duplicates
// dropped, and nothing past the token budget.
package assemble

import (
	"sort"
	"strings"
)

// Block is one retrievable piece of context, identified by (Origin, ID).
type Block struct {
	Origin string
	ID     string
	Text   string
}

// Pin marks a block that must be considered before the rest.
type Pin struct {
	Origin string
	ID     string
}

// Report summarizes an assembly decision.
type Report struct {
	IncludedTokens int
	Dropped        int // blocks excluded by the budget; duplicates not counted
}

// TokenEstimator estimates the token cost of text.
type TokenEstimator func(text string) int

// Builder assembles context respecting pins, dedup, and a token budget.
type Builder struct {
	estimate TokenEstimator
	budget   int
}

// Option configures a Builder.
type Option func(*Builder)

// WithEstimator sets the token estimator. Defaults to rune count.
func WithEstimator(est TokenEstimator) Option {
	return func(b *Builder) {
		if est != nil {
			b.estimate = est
		}
	}
}

// WithBudget sets the token budget. Defaults to effectively unbounded.
func WithBudget(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.budget = n
		}
	}
}

// New creates a Builder.
func New(opts ...Option) *Builder {
	b := &Builder{
		estimate: func(s string) int { return len([]rune(s)) },
		budget:   1_000_000_000,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns a deterministic selection: dedup by (Origin, ID), pinned
// blocks first, both groups ordered by Origin then ID, and the budget never
// exceeded.
func (b *Builder) Build(blocks []Block, pins []Pin) ([]Block, Report) {
	type key struct{ o, i string }
	seen := make(map[key]Block, len(blocks))
	for _, bl := range blocks {
		k := key{bl.Origin, bl.ID}
		if _, ok := seen[k]; !ok {
			seen[k] = bl
		}
	}
	pinned := make(map[key]bool, len(pins))
	for _, p := range pins {
		pinned[key{p.Origin, p.ID}] = true
	}

	var first, rest []Block
	for k, bl := range seen {
		if pinned[k] {
			first = append(first, bl)
		} else {
			rest = append(rest, bl)
		}
	}
	byOriginID := func(s []Block) {
		sort.Slice(s, func(i, j int) bool {
			if s[i].Origin != s[j].Origin {
				return s[i].Origin < s[j].Origin
			}
			return s[i].ID < s[j].ID
		})
	}
	byOriginID(first)
	byOriginID(rest)

	var rep Report
	remaining := b.budget
	out := make([]Block, 0, len(seen))
	take := func(bl Block) {
		cost := b.estimate(bl.Text)
		if cost > remaining {
			rep.Dropped++
			return
		}
		remaining -= cost
		rep.IncludedTokens += cost
		out = append(out, bl)
	}
	for _, bl := range first {
		take(bl)
	}
	for _, bl := range rest {
		take(bl)
	}
	return out, rep
}

// BoundText trims free-form context text to the budget: paragraphs become
// blocks in their original order and the selection is re-joined. Earlier
// paragraphs are pinned implicitly by ordering.
func (b *Builder) BoundText(text string) string {
	paras := strings.Split(text, "\n\n")
	blocks := make([]Block, 0, len(paras))
	for i, p := range paras {
		if strings.TrimSpace(p) == "" {
			continue
		}
		// Zero-padded IDs keep the lexical order equal to the input order.
		blocks = append(blocks, Block{Origin: "context", ID: padID(i), Text: p})
	}
	selected, _ := b.Build(blocks, nil)
	parts := make([]string, len(selected))
	for i, bl := range selected {
		parts[i] = bl.Text
	}
	return strings.Join(parts, "\n\n")
}

func padID(i int) string {
	const digits = "0123456789"
	buf := []byte{'0', '0', '0', '0', '0', '0'}
	for p := len(buf) - 1; p >= 0 && i > 0; p-- {
		buf[p] = digits[i%10]
		i /= 10
	}
	return string(buf)
}
