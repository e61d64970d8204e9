package middleware

import (
	"sync"
	"time"

	"github.com/protean-ai/protean/pkg/errmodel"
	"github.com/protean-ai/protean/pkg/subagent"
)

// Manager is the host-owned session registry. Sessions are created on
// demand, keyed by identifier, and evicted explicitly or least-recently-used
// when the cap is exceeded. Nothing here ties a session's lifetime to
// garbage collection.
type Manager struct {
	cfg Config
	max int

	mu       sync.Mutex
	sessions map[string]*Session
	lastUse  map[string]time.Time
}

const defaultMaxSessions = 64

// NewManager builds a session registry. max <= 0 applies the default cap.
func NewManager(cfg Config, max int) *Manager {
	if max <= 0 {
		max = defaultMaxSessions
	}
	return &Manager{
		cfg:      cfg,
		max:      max,
		sessions: map[string]*Session{},
		lastUse:  map[string]time.Time{},
	}
}

// Session returns the session for id, creating it if needed. An empty id
// gets a generated one; read it back from the returned session.
func (m *Manager) Session(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		if s, ok := m.sessions[id]; ok {
			m.lastUse[id] = time.Now()
			return s
		}
	}
	s := NewSession(id, m.cfg)
	if len(m.sessions) >= m.max {
		m.evictOldest()
	}
	m.sessions[s.ID()] = s
	m.lastUse[s.ID()] = time.Now()
	return s
}

func (m *Manager) evictOldest() {
	var oldest string
	var when time.Time
	for id, t := range m.lastUse {
		if oldest == "" || t.Before(when) {
			oldest, when = id, t
		}
	}
	if oldest != "" {
		delete(m.sessions, oldest)
		delete(m.lastUse, oldest)
	}
}

// Evict removes a session; false if it was not present.
func (m *Manager) Evict(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	delete(m.lastUse, id)
	return true
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ListCapabilities returns the global capability summaries plus the
// built-in operations, for front-end display.
func (m *Manager) ListCapabilities() map[string]string {
	out := m.cfg.Global.Summaries()
	probe := NewSession("", m.cfg)
	for name, op := range probe.ops {
		out[name] = op.Describe().Description
	}
	return out
}

// ListAgents returns every registered agent definition.
func (m *Manager) ListAgents() []*subagent.Definition {
	if m.cfg.Agents == nil {
		return nil
	}
	return m.cfg.Agents.List()
}

// UsageStats aggregates invocation statistics across all live sessions.
func (m *Manager) UsageStats() map[string]Stat {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	out := map[string]Stat{}
	for _, s := range sessions {
		for name, st := range s.Stats() {
			agg := out[name]
			agg.Calls += st.Calls
			agg.Failures += st.Failures
			agg.Elapsed += st.Elapsed
			if st.LastUsed.After(agg.LastUsed) {
				agg.LastUsed = st.LastUsed
			}
			out[name] = agg
		}
	}
	return out
}

// ExportNamespace snapshots a namespace: "global" for the global capability
// registry, "agents" for the agent registry, or an agent name for that
// agent's private namespace.
func (m *Manager) ExportNamespace(target string) ([]byte, error) {
	switch target {
	case "", "global":
		return m.cfg.Global.Export()
	case "agents":
		if m.cfg.Agents == nil {
			return nil, errmodel.NotFound("no agent registry configured", nil)
		}
		return m.cfg.Agents.Export()
	default:
		if m.cfg.Agents == nil || !m.cfg.Agents.Exists(target) {
			return nil, errmodel.NotFound("no such namespace",
				map[string]any{"target": target})
		}
		reg, err := m.cfg.Agents.ToolsRegistry(target)
		if err != nil {
			return nil, err
		}
		return reg.Export()
	}
}
