package auth

import (
	"fmt"

	"github.com/offsoc/copr/internal/session"
)

// Registry holds the configured backends. The primary backend handles
// /login; every registered backend's session marker is honoured when
// resolving the current user.
type Registry struct {
	primary  Backend
	backends map[string]Backend
	order    []Backend
}

// NewRegistry registers primary and the optional extra backends by name.
// Backend names must be unique; nil backends are skipped.
func NewRegistry(primary Backend, others ...Backend) *Registry {
	r := &Registry{primary: primary, backends: make(map[string]Backend)}
	for _, b := range append([]Backend{primary}, others...) {
		if b == nil {
			continue
		}
		if _, dup := r.backends[b.Name()]; dup {
			continue
		}
		r.backends[b.Name()] = b
		r.order = append(r.order, b)
	}
	return r
}

// Select picks the primary backend once at start-up: federated login when
// enabled, Kerberos otherwise.
func Select(federatedEnabled bool, federated *Federated, kerberos *Kerberos) (*Registry, error) {
	if federatedEnabled {
		if federated == nil {
			return nil, fmt.Errorf("%w: federated login enabled without a provider", ErrUnknownBackend)
		}
		if kerberos == nil {
			return NewRegistry(federated), nil
		}
		return NewRegistry(federated, kerberos), nil
	}
	if kerberos == nil {
		return nil, fmt.Errorf("%w: no login backend configured", ErrUnknownBackend)
	}
	return NewRegistry(kerberos), nil
}

func (r *Registry) Primary() Backend {
	return r.primary
}

// Get returns the backend by name or ErrUnknownBackend.
func (r *Registry) Get(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return b, nil
}

// CurrentUsername returns the authenticated username and the backend that
// recorded it.
func (r *Registry) CurrentUsername(sess *session.Values) (username, backend string, ok bool) {
	if sess == nil {
		return "", "", false
	}
	for _, b := range r.order {
		if u, ok := b.CurrentUsername(sess); ok {
			return u, b.Name(), true
		}
	}
	return "", "", false
}

// Logout clears every backend's marker.
func (r *Registry) Logout(sess *session.Values) {
	if sess == nil {
		return
	}
	for _, b := range r.order {
		b.Logout(sess)
	}
}

// IsAllowed delegates to the primary backend's gate.
func (r *Registry) IsAllowed(username string) bool {
	return r.primary.IsAllowed(username)
}
