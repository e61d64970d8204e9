// Package middleware implements the per-session request lifecycle around
// the host model: refreshing the active capability set before each model
// call, injecting it into the outgoing request, intercepting capability
// invocations for statistics and creation detection, and scheduling registry
// refreshes after mutating turns. One Session per conversation; a Manager
// owns the sessions and exposes the introspection surface.
package middleware

import "time"

// EventKind labels a step event.
type EventKind string

const (
	EventTurnStart  EventKind = "turn_start"
	EventModelCall  EventKind = "model_call"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventCreated    EventKind = "capability_created"
	EventRefresh    EventKind = "registry_refresh"
	EventError      EventKind = "error"
	EventTurnEnd    EventKind = "turn_end"
)

// StepEvent is one observable step of a turn. Events are advisory display
// for front ends; emitting them never blocks or reorders the turn itself.
type StepEvent struct {
	Kind    EventKind      `json:"kind"`
	Session string         `json:"session"`
	Turn    string         `json:"turn"`
	Seq     int            `json:"seq"`
	Time    time.Time      `json:"time"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Emitter receives step events. A nil emitter disables emission.
type Emitter func(StepEvent)

// Stat is the in-memory invocation record kept per capability name.
type Stat struct {
	Calls    int64         `json:"calls"`
	Failures int64         `json:"failures"`
	Elapsed  time.Duration `json:"elapsed_total"`
	LastUsed time.Time     `json:"last_used"`
}
