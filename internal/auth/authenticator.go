// Package auth validates player credentials and enforces one live connection
// per username.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Reason is the machine-readable cause of a rejected login.
type Reason string

const (
	// ReasonBadCredentials covers both an unknown user and a wrong password.
	ReasonBadCredentials Reason = "BAD_CREDENTIALS"
	// ReasonAlreadyLoggedIn means the username is bound to another live connection.
	ReasonAlreadyLoggedIn Reason = "ALREADY_LOGGED_IN"
)

// ErrRejected is the sentinel every RejectedError unwraps to.
var ErrRejected = errors.New("login rejected")

// RejectedError reports why a login was refused.
type RejectedError struct {
	Reason Reason
}

func (e *RejectedError) Error() string { return fmt.Sprintf("login rejected: %s", e.Reason) }
func (e *RejectedError) Unwrap() error { return ErrRejected }

// Message returns the human-readable text sent back to the client.
func (e *RejectedError) Message() string {
	switch e.Reason {
	case ReasonAlreadyLoggedIn:
		return "User is already logged in"
	default:
		return "Invalid username or password"
	}
}

// Holder is the connection a username is bound to while logged in.
type Holder interface {
	IsAlive() bool
}

// Authenticator checks credentials and owns the active username registry.
type Authenticator struct {
	store  CredentialStore
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]Holder
}

// NewAuthenticator creates an Authenticator over store.
//
// Precondition: store and logger must be non-nil.
func NewAuthenticator(store CredentialStore, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		store:  store,
		logger: logger,
		active: make(map[string]Holder),
	}
}

// Authenticate verifies the credentials and binds the normalized username to holder.
//
// A username bound to a connection that is no longer alive is taken over; its
// owner's deferred Release becomes a no-op.
//
// Postcondition: On success returns the normalized username, which stays bound
// until Release(username, holder). On refusal returns a *RejectedError. Store
// failures are returned as-is.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string, holder Holder) (string, error) {
	name := NormalizeUsername(username)
	if name == "" || password == "" {
		return "", &RejectedError{Reason: ReasonBadCredentials}
	}

	hash, err := a.store.Lookup(ctx, name)
	if err != nil {
		if errors.Is(err, ErrUnknownUser) {
			a.logger.Info("login rejected", zap.String("username", name), zap.String("reason", string(ReasonBadCredentials)))
			return "", &RejectedError{Reason: ReasonBadCredentials}
		}
		return "", fmt.Errorf("looking up %q: %w", name, err)
	}
	if !CheckPassword(password, hash) {
		a.logger.Info("login rejected", zap.String("username", name), zap.String("reason", string(ReasonBadCredentials)))
		return "", &RejectedError{Reason: ReasonBadCredentials}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.active[name]; ok && cur != holder && cur.IsAlive() {
		a.logger.Info("login rejected", zap.String("username", name), zap.String("reason", string(ReasonAlreadyLoggedIn)))
		return "", &RejectedError{Reason: ReasonAlreadyLoggedIn}
	}
	a.active[name] = holder
	a.logger.Info("login accepted", zap.String("username", name))
	return name, nil
}

// Release unbinds username if it is still bound to holder.
//
// Postcondition: username is free for a new login unless another holder had already taken it over.
func (a *Authenticator) Release(username string, holder Holder) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.active[username]; ok && cur == holder {
		delete(a.active, username)
		a.logger.Debug("username released", zap.String("username", username))
	}
}

// IsOnline reports whether username is currently bound.
func (a *Authenticator) IsOnline(username string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.active[NormalizeUsername(username)]
	return ok
}

// Online returns the number of bound usernames.
func (a *Authenticator) Online() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active)
}
