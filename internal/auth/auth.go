// Package auth resolves a process-wide identity from the secret phrase
// submitted at session start.
package auth

import "strings"

// GuestName is the identity assigned when no phrase is submitted or
// verification fails.
const GuestName = "Guest"

// Identity is the privilege token carried by every turn for the
// lifetime of the process. It is resolved once at session start and
// never re-validated per command.
type Identity struct {
	Username  string `json:"username"`
	IsCreator bool   `json:"is_creator"`
}

// Guest returns the default unprivileged identity.
func Guest() Identity {
	return Identity{Username: GuestName, IsCreator: false}
}

// CredentialVerifier is the subset of the credential store the
// authenticator needs.
type CredentialVerifier interface {
	Configured() bool
	SetSecret(phrase string) error
	Verify(phrase string) bool
}

// Authenticator validates a submitted secret phrase and yields the
// session identity. Failure never aborts the session; it degrades to
// guest privilege.
type Authenticator struct {
	creds       CredentialVerifier
	creatorName string
}

func New(creds CredentialVerifier, creatorName string) *Authenticator {
	name := strings.TrimSpace(creatorName)
	if name == "" {
		name = "Creator"
	}
	return &Authenticator{creds: creds, creatorName: name}
}

// Configured reports whether a creator secret phrase exists. False
// means first-run: sessions start as guest until Setup is called.
func (a *Authenticator) Configured() bool {
	return a.creds.Configured()
}

// Setup configures (or replaces) the creator secret phrase.
func (a *Authenticator) Setup(phrase string) error {
	return a.creds.SetSecret(phrase)
}

// Authenticate resolves the submitted phrase to an identity.
//
// An empty submission is an explicit guest login; no verification is
// attempted. A wrong phrase, or an unconfigured credential store,
// resolves to guest as well rather than raising an error.
func (a *Authenticator) Authenticate(phrase string) Identity {
	if strings.TrimSpace(phrase) == "" {
		return Guest()
	}
	if !a.creds.Verify(phrase) {
		return Guest()
	}
	return Identity{Username: a.creatorName, IsCreator: true}
}
