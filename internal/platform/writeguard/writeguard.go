// Package writeguard implements the capability check that keeps guarded
// records (diagnoses, prescriptions, receipts, ledger entries, ...) from
// being created outside the orchestrating services.
//
// A Guard is handed to orchestrators once at wiring time. For each write the
// orchestrator mints an ephemeral Token bound to the subject and passes it
// down to the repository, which verifies it before touching the database.
// Tokens are never persisted or serialized; the zero value is invalid, so
// code paths that did not come through an orchestrator cannot fabricate one.
//
// This is defense in depth: who may call the API is decided upstream. The
// guard protects against direct repository writes that would bypass the
// workflow's business rules.
package writeguard

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/afyalink/careflow/internal/platform/apperr"
)

// Guard mints write tokens. Construct one per process with New and hand it
// only to orchestrating services.
type Guard struct {
	secret uint64
}

// New creates a Guard with a process-local random secret.
func New() *Guard {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing means the process is unusable anyway.
		panic("writeguard: cannot read random secret: " + err.Error())
	}
	s := binary.BigEndian.Uint64(b[:])
	if s == 0 {
		s = 1
	}
	return &Guard{secret: s}
}

// Token is an ephemeral, per-call write capability. The zero value is invalid.
type Token struct {
	secret  uint64
	subject string
}

// Mint issues a token for a single write concerning the given subject.
func (g *Guard) Mint(subject string) Token {
	return Token{secret: g.secret, subject: subject}
}

// Subject returns the subject the token was minted for.
func (t Token) Subject() string { return t.subject }

// Valid reports whether the token was minted by a Guard.
func (t Token) Valid() bool { return t.secret != 0 }

// Check returns an UnauthorizedMutation error unless the token is valid.
// Guarded repositories call this at the top of every create path.
func Check(t Token, record string) error {
	if !t.Valid() {
		return apperr.New(apperr.UnauthorizedMutation,
			"%s creation forbidden outside the workflow orchestrator", record)
	}
	return nil
}
