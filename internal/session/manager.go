package session

import (
	"fmt"
	"sync"

	"github.com/ajaxzhan/agentsh/internal/logging"
	"github.com/ajaxzhan/agentsh/pkg/types"
)

// maxSessions caps the number of concurrent sessions.
const maxSessions = 10

// Manager owns the map of named sessions.
//
// The map mutex is held for the whole duration of Exec and Send, which
// serializes commands across all sessions. Sessions are not safe for
// concurrent use of a single PTY stream, so this is the simplest
// correct discipline; per-session locks would be the next step if
// independent concurrent sessions were needed.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create starts a new session under the given ID. Duplicate IDs are
// rejected; callers replace a session with an explicit close + create.
func (m *Manager) Create(id, workingDirectory string) (types.SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return types.SessionInfo{}, fmt.Errorf("session with id '%s' %w", id, types.ErrDuplicateID)
	}
	if len(m.sessions) >= maxSessions {
		return types.SessionInfo{}, fmt.Errorf("%w (%d/%d); close some sessions first",
			types.ErrTooManySessions, len(m.sessions), maxSessions)
	}

	s, err := New(workingDirectory)
	if err != nil {
		return types.SessionInfo{}, err
	}
	m.sessions[id] = s

	logging.Info("session created",
		logging.String("id", id),
		logging.String("cwd", workingDirectory),
	)
	return types.SessionInfo{ID: id, Alive: true}, nil
}

// Exec runs a command in a session.
func (m *Manager) Exec(id, command string, timeoutSeconds, idleTimeoutSeconds int) (ExecResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ExecResult{}, fmt.Errorf("no session with id '%s': %w", id, types.ErrNotFound)
	}
	if !s.Alive() {
		return ExecResult{}, fmt.Errorf("session '%s': %w (bash process exited)", id, types.ErrSessionDead)
	}

	result, err := s.Exec(command, timeoutSeconds, idleTimeoutSeconds)
	if err != nil {
		return ExecResult{}, err
	}
	result.SessionID = id
	return result, nil
}

// Send writes raw input to a session's PTY and collects output until it
// settles. Used for full-screen/TUI programs.
func (m *Manager) Send(id, input string, idleTimeoutSeconds int) (ExecResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ExecResult{}, fmt.Errorf("no session with id '%s': %w", id, types.ErrNotFound)
	}
	if !s.Alive() {
		return ExecResult{}, fmt.Errorf("session '%s': %w (bash process exited)", id, types.ErrSessionDead)
	}

	result, err := s.Send(input, idleTimeoutSeconds)
	if err != nil {
		return ExecResult{}, err
	}
	result.SessionID = id
	return result, nil
}

// List reports every session's ID and liveness.
func (m *Manager) List() []types.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]types.SessionInfo, 0, len(m.sessions))
	for id, s := range m.sessions {
		infos = append(infos, types.SessionInfo{ID: id, Alive: s.Alive()})
	}
	return infos
}

// Close removes a session and tears down its shell.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("no session with id '%s': %w", id, types.ErrNotFound)
	}
	delete(m.sessions, id)
	s.Close()

	logging.Info("session closed", logging.String("id", id))
	return nil
}

// CloseAll tears down every session. Used on server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		delete(m.sessions, id)
		s.Close()
	}
}
