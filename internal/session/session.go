// Package session implements the per-conversation history store. Only
// the Agent Loop mutates sessions; the store persists opaquely to JSON
// files under {workspace}/sessions/, per the runtime's external
// interfaces.
package session

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/nanoclaw/nanoclaw/internal/message"
)

// historyTail bounds how many turns GetHistory returns; older turns
// are still persisted on disk but summarized by the agent loop's
// context builder rather than replayed verbatim.
const historyTail = 200

// Session is the in-memory record for one session_key.
type Session struct {
	Key     string          `json:"key"`
	Turns   []message.Turn  `json:"turns"`
	Summary string          `json:"summary,omitempty"`

	mu sync.Mutex
}

// AddMessage appends a turn to the session.
func (s *Session) AddMessage(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Turns = append(s.Turns, message.Turn{Role: role, Content: content})
}

// GetHistory returns a deterministic bounded tail of the session's
// turns. The bound is fixed (historyTail) rather than
// content-dependent, so behavior is reproducible across runs.
func (s *Session) GetHistory() []message.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Turns) <= historyTail {
		out := make([]message.Turn, len(s.Turns))
		copy(out, s.Turns)
		return out
	}
	out := make([]message.Turn, historyTail)
	copy(out, s.Turns[len(s.Turns)-historyTail:])
	return out
}

// SetSummary records a rolling summary of turns older than the
// retained tail, produced by the agent loop's summarization pass.
func (s *Session) SetSummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Summary = summary
}

// GetSummary returns the session's current rolling summary, if any.
func (s *Session) GetSummary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Summary
}

// TrimTurns replaces the session's stored turns, used by the
// summarization pass to collapse older history once it has been
// folded into Summary.
func (s *Session) TrimTurns(turns []message.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Turns = turns
}

// Reset discards all history and summary, used by a channel's
// conversation-reset command (e.g. the CLI's /clear).
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Turns = nil
	s.Summary = ""
}

// Store creates sessions on demand and persists them as one JSON file
// per session_key under {workspace}/sessions/.
type Store struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore creates a Store rooted at {workspace}/sessions/, creating
// the directory if absent.
func NewStore(workspace string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Join(workspace, "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir, logger: logger, sessions: make(map[string]*Session)}, nil
}

// GetOrCreate returns the session for key, loading it from disk on
// first reference within this process and creating an empty one if no
// file exists yet.
func (st *Store) GetOrCreate(key string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[key]; ok {
		return s
	}

	s := &Session{Key: key}
	if data, err := os.ReadFile(st.path(key)); err == nil {
		if err := json.Unmarshal(data, s); err != nil {
			st.logger.Warn("session: failed to parse stored session, starting fresh", "key", key, "error", err)
			s = &Session{Key: key}
		}
	}
	st.sessions[key] = s
	return s
}

// Save persists s to its JSON file. Called by the agent loop after
// every full turn, before the outbound reply is published.
func (st *Store) Save(s *Session) error {
	s.mu.Lock()
	data, err := json.MarshalIndent(s, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return err
	}
	tmp := st.path(s.Key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, st.path(s.Key))
}

func (st *Store) path(key string) string {
	return filepath.Join(st.dir, sanitizeKey(key)+".json")
}

// sanitizeKey maps a session_key (which may contain ':' or '/') to a
// safe filename component.
func sanitizeKey(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
