package line

import (
	"crypto/subtle"
	"fmt"

	"github.com/charlesng35/lineauth/pkg/crypto"
)

const (
	// SessionKeyState holds the pending CSRF state between begin and callback.
	SessionKeyState = "line_state"
	// SessionKeyRedirect holds the sanitized post-login target.
	SessionKeyRedirect = "redirect_to"
	// SessionKeyAction holds the action selected at begin.
	SessionKeyAction = "line_action"

	stateBytes = 32
)

// Session is the per-browser storage the flow reads and writes.
type Session interface {
	Get(key string) string
	Set(key, value string)
	Delete(key string)
}

// StateManager issues and verifies one-time CSRF state values.
type StateManager struct {
	generate func(int) (string, error)
}

// NewStateManager returns a StateManager using crypto-grade randomness.
func NewStateManager() *StateManager {
	return &StateManager{generate: crypto.GenerateToken}
}

// Issue stores a fresh state in the session, replacing any previous one.
func (m *StateManager) Issue(sess Session) (string, error) {
	state, err := m.generate(stateBytes)
	if err != nil {
		return "", fmt.Errorf("line: generate state: %w", err)
	}
	sess.Set(SessionKeyState, state)
	return state, nil
}

// Verify consumes the stored state and reports whether received matches it.
func (m *StateManager) Verify(sess Session, received string) bool {
	expected := sess.Get(SessionKeyState)
	sess.Delete(SessionKeyState)

	if expected == "" || received == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(received)) == 1
}
