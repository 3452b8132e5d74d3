// Package auth checks dashboard logins against configured Argon2id hashes.
package auth

import (
	"context"
	"sync"

	ferrors "github.com/lvonguyen/cloudspend/internal/errors"
)

// Authenticator verifies username/password pairs. It is safe for concurrent use.
type Authenticator struct {
	users  map[string]string
	params Params

	dummyOnce sync.Once
	dummy     string
}

// NewAuthenticator creates an Authenticator over a username to PHC hash map.
// params only shape the hash used to keep unknown-user logins as slow as known ones.
func NewAuthenticator(users map[string]string, params Params) *Authenticator {
	copied := make(map[string]string, len(users))
	for name, hash := range users {
		copied[name] = hash
	}
	return &Authenticator{users: copied, params: params}
}

// Login returns nil when the credentials match and ErrInvalidCredentials
// otherwise. A malformed stored hash also rejects the login.
func (a *Authenticator) Login(ctx context.Context, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	hash, ok := a.users[username]
	if !ok {
		_, _ = VerifyPassword(password, a.dummyHash())
		return ferrors.ErrInvalidCredentials
	}

	match, err := VerifyPassword(password, hash)
	if err != nil || !match {
		return ferrors.ErrInvalidCredentials
	}
	return nil
}

func (a *Authenticator) dummyHash() string {
	a.dummyOnce.Do(func() {
		a.dummy, _ = HashPassword("cloudspend-unknown-user", a.params)
	})
	return a.dummy
}
