package auth

import (
	"context"
	"errors"
)

// ErrUnauthorized indicates authentication failed or no valid credentials
// were supplied. The wrapped cause is for server-side logging only and must
// never be echoed to the caller.
var ErrUnauthorized = errors.New("unauthorized")

// Identity represents an authenticated principal. Implementations are
// immutable and safe for concurrent use.
type Identity interface {
	// Subject returns the unique identifier for the user.
	Subject() string
	// Username returns the display/login name, if the token carried one.
	Username() string
	// Email returns the contact email, if the token carried one.
	Email() string
	// Groups returns the user's group memberships.
	Groups() []string
	// Claims unmarshals the raw token claims into the provided struct reference.
	Claims(ref any) error
}

// Authenticator validates bearer tokens and returns the associated identity.
// It returns an error wrapping ErrUnauthorized for invalid credentials.
type Authenticator interface {
	CheckAuthentication(ctx context.Context, tok string) (Identity, error)
}
