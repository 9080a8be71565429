package ledger

import (
	"time"

	"github.com/jwalitptl/health-ledger/internal/model"
	apperrors "github.com/jwalitptl/health-ledger/pkg/errors"
)

// Registry stores one identity per principal.
type Registry struct {
	identities map[model.Principal]model.Identity
}

func NewRegistry() *Registry {
	return &Registry{identities: make(map[model.Principal]model.Identity)}
}

// CanRegister checks registration preconditions without mutating anything.
func (r *Registry) CanRegister(principal model.Principal, name, contact string) error {
	if _, ok := r.identities[principal]; ok {
		return apperrors.AlreadyRegistered("user")
	}
	if name == "" {
		return apperrors.EmptyField("name")
	}
	if contact == "" {
		return apperrors.EmptyField("contact")
	}
	return nil
}

// Register creates the identity. A second call for the same principal fails.
func (r *Registry) Register(principal model.Principal, name, contact string, isProvider bool, now time.Time) error {
	if err := r.CanRegister(principal, name, contact); err != nil {
		return err
	}
	r.identities[principal] = model.Identity{
		Principal:    principal,
		Name:         name,
		Contact:      contact,
		Role:         model.RoleFor(isProvider),
		Registered:   true,
		RegisteredAt: now,
	}
	return nil
}

// Get returns the identity and whether it exists.
func (r *Registry) Get(principal model.Principal) (model.Identity, bool) {
	id, ok := r.identities[principal]
	return id, ok
}

// Lookup is Get returning nil for an absent principal.
func (r *Registry) Lookup(principal model.Principal) *model.Identity {
	id, ok := r.identities[principal]
	if !ok {
		return nil
	}
	return &id
}

func (r *Registry) Len() int {
	return len(r.identities)
}
