package session

import (
	"context"
	"encoding/gob"

	"github.com/pkg/errors"

	"github.com/protezionecivile/spid-cie-gateway/identity"
)

const (
	userKey = "user"
	// OIDC login attempt correlation values, cleared at callback time.
	oidcStateKey = "oidc-state"
	oidcNonceKey = "oidc-nonce"
)

func init() {
	gob.Register(&identity.User{})
}

// SignIn stores the normalized user in the request's session.
func SignIn(ctx context.Context, u *identity.User) error {
	sess := FromContext(ctx)
	if sess == nil {
		return errors.New("no session on context")
	}
	sess.Values[userKey] = u
	return nil
}

// SignOut drops the whole session, expiring the cookie.
func SignOut(ctx context.Context) error {
	sess := FromContext(ctx)
	if sess == nil {
		return errors.New("no session on context")
	}
	for k := range sess.Values {
		delete(sess.Values, k)
	}
	sess.Options.MaxAge = -1
	return nil
}

// UserFromContext returns the signed-in user, if any.
func UserFromContext(ctx context.Context) (*identity.User, bool) {
	sess := FromContext(ctx)
	if sess == nil {
		return nil, false
	}
	u, ok := sess.Values[userKey].(*identity.User)
	return u, ok
}

// StashLoginAttempt records the state and nonce for an in-flight OIDC login.
func StashLoginAttempt(ctx context.Context, state, nonce string) error {
	sess := FromContext(ctx)
	if sess == nil {
		return errors.New("no session on context")
	}
	sess.Values[oidcStateKey] = state
	sess.Values[oidcNonceKey] = nonce
	return nil
}

// TakeLoginAttempt returns and clears the stashed state and nonce. The
// values are single-use: a second call returns ok=false.
func TakeLoginAttempt(ctx context.Context) (state, nonce string, ok bool) {
	sess := FromContext(ctx)
	if sess == nil {
		return "", "", false
	}
	state, sok := sess.Values[oidcStateKey].(string)
	nonce, nok := sess.Values[oidcNonceKey].(string)
	delete(sess.Values, oidcStateKey)
	delete(sess.Values, oidcNonceKey)
	return state, nonce, sok && nok
}
