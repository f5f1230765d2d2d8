package upstream

import (
	"github.com/nimbuspos/dispatchboard/internal/core/domain"
	"github.com/nimbuspos/dispatchboard/internal/core/ports"
)

// StaticSession resolves the upstream identity from configuration. It
// implements ports.SessionProvider; token and client id both being present
// is the precondition for starting a stream.
type StaticSession struct {
	Token    string
	ClientID string
}

func (s StaticSession) Identity() (domain.Session, error) {
	if s.Token == "" || s.ClientID == "" {
		return domain.Session{}, ports.ErrNoIdentity
	}
	return domain.Session{Token: s.Token, ClientID: s.ClientID}, nil
}
