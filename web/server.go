// Package web wires the gateway's HTTP surface: provider selection, the
// SPID and CIE login flows, SP metadata and the session endpoints.
package web

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/protezionecivile/spid-cie-gateway/cie"
	"github.com/protezionecivile/spid-cie-gateway/identity"
	"github.com/protezionecivile/spid-cie-gateway/registry"
	"github.com/protezionecivile/spid-cie-gateway/session"
	"github.com/protezionecivile/spid-cie-gateway/spid"
)

//go:embed templates
var templates embed.FS

var (
	indexTemplate = template.Must(template.ParseFS(templates, "templates/index.tmpl.html"))
	loginTemplate = template.Must(template.ParseFS(templates, "templates/login.tmpl.html"))
	errorTemplate = template.Must(template.ParseFS(templates, "templates/error.tmpl.html"))
)

// Server hosts the gateway routes. All fields are set at construction and
// immutable afterwards; per-request state lives in the request context and
// the session only.
type Server struct {
	logger logrus.FieldLogger

	registry        *registry.Registry
	broker          *spid.Broker
	validatorBroker *spid.Broker
	profile         *spid.Profile
	validatorProf   *spid.Profile
	cie             *cie.Client
}

// New assembles the server. Both SPID profiles must validate; the CIE
// client may still be initializing, its routes are gated on readiness.
func New(l logrus.FieldLogger, reg *registry.Registry, profile, validatorProfile *spid.Profile, cieClient *cie.Client) (*Server, error) {
	// One request cache across both brokers: every response posts to the
	// shared ACS endpoint, whichever profile started the attempt.
	requests := spid.NewRequestIDCache()
	broker, err := spid.NewBroker(l, profile, reg, requests)
	if err != nil {
		return nil, errors.Wrap(err, "building SPID broker")
	}
	validatorBroker, err := spid.NewBroker(l, validatorProfile, reg, requests)
	if err != nil {
		return nil, errors.Wrap(err, "building validator broker")
	}
	return &Server{
		logger:          l,
		registry:        reg,
		broker:          broker,
		validatorBroker: validatorBroker,
		profile:         profile,
		validatorProf:   validatorProfile,
		cie:             cieClient,
	}, nil
}

// MountRoutes attaches every gateway route to the mux.
func (s *Server) MountRoutes(mux *chi.Mux) {
	mux.Get("/", s.home)
	mux.Get("/login", s.loginPage)
	mux.Get("/login/spid", s.loginSPID)
	mux.Get("/login/validator", s.loginValidator)
	mux.Get("/login/cie", s.loginCIE)
	mux.Post("/acs", s.assertionConsumer)
	mux.Get("/callback", s.oidcCallback)
	mux.Get("/logout", s.logout)
	mux.Get("/metadata", s.metadata(s.profile))
	mux.Get("/metadata/validator", s.metadata(s.validatorProf))
	mux.Get("/error", s.errorPage)
	mux.Get("/healthz", s.healthz)
	mux.Method("GET", "/metrics", promhttp.Handler())
}

func (s *Server) home(w http.ResponseWriter, r *http.Request) {
	user, _ := session.UserFromContext(r.Context())
	if err := indexTemplate.Execute(w, struct{ User *identity.User }{User: user}); err != nil {
		s.logger.WithError(err).Error("rendering index")
	}
}

func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	if err := loginTemplate.Execute(w, struct {
		Providers []registry.Descriptor
	}{Providers: s.registry.All()}); err != nil {
		s.logger.WithError(err).Error("rendering login page")
	}
}

func (s *Server) loginSPID(w http.ResponseWriter, r *http.Request) {
	s.startSAMLLogin(w, r, s.broker, r.URL.Query().Get("idp"), sanitizeRelayState(r.URL.Query().Get("relayState")))
}

// loginValidator pins the attempt to the AgID validator endpoint using the
// strict profile.
func (s *Server) loginValidator(w http.ResponseWriter, r *http.Request) {
	s.startSAMLLogin(w, r, s.validatorBroker, "validator", "/")
}

func (s *Server) startSAMLLogin(w http.ResponseWriter, r *http.Request, broker *spid.Broker, idp, relayState string) {
	login, err := broker.StartLogin(idp, relayState)
	if err != nil {
		if errors.Cause(err) == registry.ErrUnknownProvider {
			loginAttempts.WithLabelValues(idp, outcomeRejected).Inc()
			http.Error(w, "Invalid Identity Provider selected", http.StatusBadRequest)
			return
		}
		s.logger.WithError(err).WithField("idp", idp).Error("starting SPID login")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	loginAttempts.WithLabelValues(login.Provider.Key, outcomeStarted).Inc()

	if login.RedirectURL != nil {
		http.Redirect(w, r, login.RedirectURL.String(), http.StatusFound)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	if _, err := w.Write(login.PostBody); err != nil {
		s.logger.WithError(err).Error("writing post binding form")
	}
}

func (s *Server) assertionConsumer(w http.ResponseWriter, r *http.Request) {
	user, err := s.broker.HandleACS(r)
	if err != nil {
		// protocol details stay in the server log, the user sees a
		// generic failure page
		s.logger.WithError(err).Warn("SAML assertion rejected")
		loginAttempts.WithLabelValues(string(s.profile.Provider), outcomeFailed).Inc()
		http.Redirect(w, r, "/error", http.StatusFound)
		return
	}

	if err := session.SignIn(r.Context(), user); err != nil {
		s.logger.WithError(err).Error("establishing session")
		http.Redirect(w, r, "/error", http.StatusFound)
		return
	}
	loginAttempts.WithLabelValues(string(user.Provider), outcomeSucceeded).Inc()
	s.logger.WithFields(logrus.Fields{
		"provider": user.Provider,
		"subject":  user.SubjectID,
	}).Info("SPID login completed")

	http.Redirect(w, r, sanitizeRelayState(r.FormValue("RelayState")), http.StatusFound)
}

func (s *Server) loginCIE(w http.ResponseWriter, r *http.Request) {
	if !s.cie.Ready() {
		http.Error(w, "CIE Provider not initialized", http.StatusInternalServerError)
		return
	}

	state := uuid.NewString()
	nonce := uuid.NewString()
	if err := session.StashLoginAttempt(r.Context(), state, nonce); err != nil {
		s.logger.WithError(err).Error("stashing CIE login attempt")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	authURL, err := s.cie.AuthCodeURL(state, nonce)
	if err != nil {
		s.logger.WithError(err).Error("building CIE authorization URL")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	loginAttempts.WithLabelValues(string(identity.ProviderCIE), outcomeStarted).Inc()
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Server) oidcCallback(w http.ResponseWriter, r *http.Request) {
	if !s.cie.Ready() {
		http.Error(w, "CIE Provider not initialized", http.StatusInternalServerError)
		return
	}
	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		s.logger.WithFields(logrus.Fields{
			"error":       errMsg,
			"description": r.URL.Query().Get("error_description"),
		}).Warn("CIE provider returned an error")
		s.failCIELogin(w, r)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		s.logger.Warn("CIE callback without code")
		s.failCIELogin(w, r)
		return
	}

	state, nonce, ok := session.TakeLoginAttempt(r.Context())
	if !ok || state != r.URL.Query().Get("state") {
		s.logger.Warn("CIE callback state mismatch")
		s.failCIELogin(w, r)
		return
	}

	claims, err := s.cie.Callback(r.Context(), code, nonce)
	if err != nil {
		s.logger.WithError(err).Warn("CIE token exchange failed")
		s.failCIELogin(w, r)
		return
	}

	user := identity.FromOIDCClaims(claims)
	if err := session.SignIn(r.Context(), user); err != nil {
		s.logger.WithError(err).Error("establishing session")
		s.failCIELogin(w, r)
		return
	}
	loginAttempts.WithLabelValues(string(identity.ProviderCIE), outcomeSucceeded).Inc()
	s.logger.WithField("subject", user.SubjectID).Info("CIE login completed")

	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) failCIELogin(w http.ResponseWriter, r *http.Request) {
	loginAttempts.WithLabelValues(string(identity.ProviderCIE), outcomeFailed).Inc()
	http.Redirect(w, r, "/error", http.StatusFound)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	if err := session.SignOut(r.Context()); err != nil {
		s.logger.WithError(err).Error("destroying session")
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) metadata(profile *spid.Profile) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := spid.RenderMetadata(profile)
		if err != nil {
			s.logger.WithError(err).Error("rendering SP metadata")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		if _, err := w.Write(doc); err != nil {
			s.logger.WithError(err).Error("writing SP metadata")
		}
	}
}

func (s *Server) errorPage(w http.ResponseWriter, r *http.Request) {
	if err := errorTemplate.Execute(w, struct{ Message string }{Message: "Authentication Failed"}); err != nil {
		s.logger.WithError(err).Error("rendering error page")
	}
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"cie_ready": s.cie.Ready(),
	}); err != nil {
		s.logger.WithError(err).Error("writing healthz")
	}
}

// sanitizeRelayState keeps post-login redirects on this host. Anything that
// is not a plain relative path collapses to the home page.
func sanitizeRelayState(rs string) string {
	if rs == "" || !strings.HasPrefix(rs, "/") || strings.HasPrefix(rs, "//") {
		return "/"
	}
	return rs
}
