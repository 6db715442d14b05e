// Package session provides the cookie-backed HTTP session the gateway keeps
// a logged-in identity in, exposed through the request context.
package session

import (
	"context"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/pkg/errors"
)

type contextKey struct{}

// Middleware registers the named session on each request's context and
// saves it transparently before the first byte of the response is written.
func Middleware(store sessions.Store, sessionName string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			sess, err := store.Get(r, sessionName)
			if err != nil { // a bad or rotated key just starts a fresh session
				mErr, ok := err.(securecookie.MultiError)
				if !ok || mErr.Error() != securecookie.ErrMacInvalid.Error() {
					http.Error(w, "Failed to load session", http.StatusInternalServerError)
					return
				}
			}

			r = r.WithContext(context.WithValue(r.Context(), contextKey{}, sess))

			next.ServeHTTP(&savingWriter{ResponseWriter: w, req: r, sess: sess}, r)
		}
		return http.HandlerFunc(fn)
	}
}

// FromContext returns the request's session, or nil outside the middleware.
func FromContext(ctx context.Context) *sessions.Session {
	s, ok := ctx.Value(contextKey{}).(*sessions.Session)
	if !ok {
		return nil
	}
	return s
}

// savingWriter wraps a ResponseWriter so the session cookie is written just
// before headers or body go out.
type savingWriter struct {
	http.ResponseWriter
	req   *http.Request
	sess  *sessions.Session
	saved bool
}

func (s *savingWriter) WriteHeader(statusCode int) {
	if !s.saved {
		if err := s.sess.Save(s.req, s.ResponseWriter); err != nil {
			http.Error(s.ResponseWriter, "Failed to save session", http.StatusInternalServerError)
			return
		}
	}
	s.saved = true
	s.ResponseWriter.WriteHeader(statusCode)
}

func (s *savingWriter) Write(b []byte) (int, error) {
	if !s.saved {
		if err := s.sess.Save(s.req, s.ResponseWriter); err != nil {
			http.Error(s.ResponseWriter, "Failed to save session", http.StatusInternalServerError)
			return 0, errors.Wrap(err, "saving session in hooked writer")
		}
	}
	s.saved = true
	return s.ResponseWriter.Write(b)
}
