// Package registry holds the static catalog of SPID Identity Providers the
// gateway can dispatch a login to. The catalog is read-only after
// construction and safe for concurrent use.
package registry

import (
	"net/url"
	"sort"

	"github.com/pkg/errors"
)

// ErrUnknownProvider is returned by Resolve for keys not present in the
// registry. Callers must treat it as a client error and never substitute a
// default provider.
var ErrUnknownProvider = errors.New("unknown identity provider")

// Descriptor describes one Identity Provider endpoint set.
type Descriptor struct {
	// Key is the short stable identifier used in login URLs.
	Key string `yaml:"key"`
	// EntityID is the federation-unique URI of the IdP.
	EntityID string `yaml:"entityId"`
	// EntryPoint is the SSO URL the browser is redirected to.
	EntryPoint string `yaml:"entryPoint"`
	// LogoutURL is the single logout endpoint, empty if the IdP has none.
	LogoutURL string `yaml:"logoutUrl,omitempty"`
	// DisplayName is the human readable label shown on the login page.
	DisplayName string `yaml:"displayName"`
}

// Registry maps provider keys to descriptors. The optional fallback key is
// used only when the caller supplies no key at all, never on lookup failure.
type Registry struct {
	providers map[string]Descriptor
	fallback  string
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithFallback sets the key substituted when ResolveOrFallback is called
// with an empty key. The key must exist in the registry.
func WithFallback(key string) Option {
	return func(r *Registry) { r.fallback = key }
}

// New builds a registry from the given descriptors. Keys must be unique and
// every entry point must be a well-formed absolute URL.
func New(descriptors []Descriptor, opts ...Option) (*Registry, error) {
	r := &Registry{providers: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if err := validate(d); err != nil {
			return nil, errors.Wrapf(err, "descriptor %q", d.Key)
		}
		if _, ok := r.providers[d.Key]; ok {
			return nil, errors.Errorf("duplicate provider key %q", d.Key)
		}
		r.providers[d.Key] = d
	}
	for _, o := range opts {
		o(r)
	}
	if r.fallback != "" {
		if _, ok := r.providers[r.fallback]; !ok {
			return nil, errors.Errorf("fallback key %q not in registry", r.fallback)
		}
	}
	return r, nil
}

// Default returns a registry with the built-in SPID production providers,
// the AgID validator and the local demo environment, with demo as the
// fallback for key-less login requests.
func Default() *Registry {
	r, err := New(builtin, WithFallback("demo"))
	if err != nil {
		// the built-in table is static, a failure here is a programming error
		panic(err)
	}
	return r
}

// Resolve returns the descriptor for key. Unknown keys yield
// ErrUnknownProvider, wrapped with the offending key.
func (r *Registry) Resolve(key string) (Descriptor, error) {
	d, ok := r.providers[key]
	if !ok {
		return Descriptor{}, errors.Wrapf(ErrUnknownProvider, "key %q", key)
	}
	return d, nil
}

// ResolveOrFallback behaves like Resolve, except that an empty key is
// replaced with the configured fallback before lookup. An empty key with no
// fallback configured resolves like any other unknown key.
func (r *Registry) ResolveOrFallback(key string) (Descriptor, error) {
	if key == "" && r.fallback != "" {
		key = r.fallback
	}
	return r.Resolve(key)
}

// ResolveByEntityID returns the descriptor whose SAML entity ID matches,
// attributing an inbound response to its originating provider. An empty or
// unregistered entity ID yields ErrUnknownProvider.
func (r *Registry) ResolveByEntityID(entityID string) (Descriptor, error) {
	if entityID != "" {
		for _, d := range r.providers {
			if d.EntityID == entityID {
				return d, nil
			}
		}
	}
	return Descriptor{}, errors.Wrapf(ErrUnknownProvider, "entity id %q", entityID)
}

// Keys returns all provider keys in lexical order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.providers))
	for k := range r.providers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns the descriptors in key order, for the provider selection view.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.providers))
	for _, k := range r.Keys() {
		out = append(out, r.providers[k])
	}
	return out
}

func validate(d Descriptor) error {
	if d.Key == "" {
		return errors.New("empty key")
	}
	if d.EntityID == "" {
		return errors.New("empty entityId")
	}
	u, err := url.Parse(d.EntryPoint)
	if err != nil {
		return errors.Wrap(err, "parsing entryPoint")
	}
	if !u.IsAbs() || u.Host == "" {
		return errors.Errorf("entryPoint %q is not an absolute URL", d.EntryPoint)
	}
	return nil
}
