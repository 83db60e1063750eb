// Package admin implements the credential-checked toggle controlling
// visibility of the transcript log. This is a capability switch for a
// low-traffic survey kiosk, not an authentication system: a plaintext
// comparison against configured secrets, no lockout, no hashing.
package admin

import (
	"crypto/subtle"
	"errors"
	"log/slog"
)

var (
	// ErrGateDisabled is returned when no credentials are configured.
	// There is no built-in default; an unconfigured gate stays shut.
	ErrGateDisabled = errors.New("admin gate is not configured")

	// ErrBadCredentials is returned on a failed login attempt.
	ErrBadCredentials = errors.New("invalid admin credentials")
)

// Gate compares submitted credentials against the configured pair.
type Gate struct {
	id       string
	password string
	logger   *slog.Logger
}

// NewGate creates a gate for the given credentials. When either value is
// empty the gate is disabled and every authentication attempt fails.
func NewGate(id, password string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		id:       id,
		password: password,
		logger:   logger.With("component", "admin_gate"),
	}
	if !g.Enabled() {
		g.logger.Warn("Admin credentials not configured, admin view is disabled")
	}
	return g
}

// Enabled reports whether credentials are configured.
func (g *Gate) Enabled() bool {
	return g.id != "" && g.password != ""
}

// Authenticate checks the submitted pair against the configured secrets.
func (g *Gate) Authenticate(id, password string) error {
	if !g.Enabled() {
		return ErrGateDisabled
	}

	idOK := subtle.ConstantTimeCompare([]byte(id), []byte(g.id)) == 1
	pwOK := subtle.ConstantTimeCompare([]byte(password), []byte(g.password)) == 1
	if !idOK || !pwOK {
		g.logger.Warn("Admin login rejected", "submitted_id", id)
		return ErrBadCredentials
	}

	g.logger.Info("Admin login accepted", "admin_id", id)
	return nil
}
