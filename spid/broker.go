package spid

import (
	"encoding/base64"
	"encoding/xml"
	"net/http"
	"net/url"
	"strings"

	"github.com/crewjam/saml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/protezionecivile/spid-cie-gateway/identity"
	"github.com/protezionecivile/spid-cie-gateway/registry"
)

// ErrNoKeyMaterial is returned when a login is attempted on a profile whose
// key material never loaded. Callers should surface it as a server error.
var ErrNoKeyMaterial = errors.New("profile has no usable key material")

// Login is the outcome of starting an authentication attempt: either a
// redirect URL (redirect binding) or an auto-submitting form body (post
// binding), never both.
type Login struct {
	Provider    registry.Descriptor
	RequestID   string
	RedirectURL *url.URL
	PostBody    []byte
}

// Broker dispatches authentication attempts to the IdP selected per
// request. It never mutates shared client state: every attempt gets its own
// saml.ServiceProvider derived from the immutable profile and the resolved
// descriptor, so concurrent logins to different IdPs cannot observe each
// other's entry point.
type Broker struct {
	profile  *Profile
	registry *registry.Registry
	requests *RequestIDCache
	logger   logrus.FieldLogger
}

// NewBroker validates the profile and returns a broker bound to it. Brokers
// answering on the same ACS endpoint must share one requests cache so a
// response reaches the attempt that started it regardless of which broker
// built the request.
func NewBroker(l logrus.FieldLogger, profile *Profile, reg *registry.Registry, requests *RequestIDCache) (*Broker, error) {
	if err := profile.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating profile")
	}
	if requests == nil {
		requests = NewRequestIDCache()
	}
	return &Broker{
		profile:  profile,
		registry: reg,
		requests: requests,
		logger:   l,
	}, nil
}

// StartLogin resolves the provider key and produces the redirect for this
// single authentication attempt. An empty key falls back to the registry's
// configured default; unknown keys fail with registry.ErrUnknownProvider
// before any request is issued.
func (b *Broker) StartLogin(providerKey, relayState string) (*Login, error) {
	descriptor, err := b.registry.ResolveOrFallback(providerKey)
	if err != nil {
		return nil, err
	}
	if b.profile.Keys == nil || b.profile.Keys.Key == nil {
		return nil, ErrNoKeyMaterial
	}

	sp := b.serviceProvider(descriptor)

	binding := saml.HTTPRedirectBinding
	if b.profile.BindingPreference == BindingPost {
		binding = saml.HTTPPostBinding
	}

	req, err := sp.MakeAuthenticationRequest(descriptor.EntryPoint, binding, saml.HTTPPostBinding)
	if err != nil {
		return nil, errors.Wrapf(err, "building authn request for %s", descriptor.Key)
	}
	b.requests.Store(req.ID, b.profile.Provider)

	login := &Login{Provider: descriptor, RequestID: req.ID}
	if binding == saml.HTTPRedirectBinding {
		u, err := req.Redirect(relayState, sp)
		if err != nil {
			return nil, errors.Wrapf(err, "building redirect for %s", descriptor.Key)
		}
		login.RedirectURL = u
	} else {
		login.PostBody = req.Post(relayState)
	}

	b.logger.WithFields(logrus.Fields{
		"provider":   descriptor.Key,
		"request_id": req.ID,
	}).Info("started SPID login")

	return login, nil
}

// HandleACS validates the posted SAML response and returns the normalized
// user. Validation is entirely the library's; this only correlates the
// response with an outstanding request ID and maps the attributes.
func (b *Broker) HandleACS(r *http.Request) (*identity.User, error) {
	// crewjam reads the response from PostForm and does not parse the
	// form itself.
	if err := r.ParseForm(); err != nil {
		return nil, errors.Wrap(err, "parsing ACS form")
	}

	descriptor, err := b.responseDescriptor(r.PostForm.Get("SAMLResponse"))
	if err != nil {
		return nil, err
	}
	sp := b.serviceProvider(descriptor)

	assertion, err := sp.ParseResponse(r, b.requests.Outstanding())
	if err != nil {
		return nil, errors.Wrap(responseError(err), "validating SAML response")
	}

	provider := b.profile.Provider
	if assertion.Subject != nil {
		for _, sc := range assertion.Subject.SubjectConfirmations {
			if sc.SubjectConfirmationData == nil || sc.SubjectConfirmationData.InResponseTo == "" {
				continue
			}
			if p, ok := b.requests.Consume(sc.SubjectConfirmationData.InResponseTo); ok {
				provider = p
			}
		}
	}

	return identity.FromSAMLAssertion(provider, assertion)
}

// responseDescriptor reads just the Issuer of the posted response and
// resolves the originating IdP from the registry, so validation pins that
// IdP's entity ID rather than the gateway's own. Full validation of the
// document happens afterwards in ParseResponse.
func (b *Broker) responseDescriptor(encoded string) (registry.Descriptor, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return registry.Descriptor{}, errors.Wrap(err, "decoding SAML response")
	}
	var peek struct {
		Issuer struct {
			Value string `xml:",chardata"`
		} `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`
	}
	if err := xml.Unmarshal(raw, &peek); err != nil {
		return registry.Descriptor{}, errors.Wrap(err, "reading response issuer")
	}
	return b.registry.ResolveByEntityID(strings.TrimSpace(peek.Issuer.Value))
}

// serviceProvider builds the single-use SAML client for one attempt. The
// returned value is owned by the caller and discarded after use.
func (b *Broker) serviceProvider(descriptor registry.Descriptor) *saml.ServiceProvider {
	acsURL, _ := url.Parse(b.profile.CallbackURL) // validated with the profile
	metadataURL := url.URL{Scheme: acsURL.Scheme, Host: acsURL.Host, Path: "/metadata"}

	forceAuthn := b.profile.ForceAuthn

	return &saml.ServiceProvider{
		EntityID:          b.profile.Issuer,
		Key:               b.profile.Keys.Key,
		Certificate:       b.profile.Keys.Certificate,
		AcsURL:            *acsURL,
		MetadataURL:       metadataURL,
		AuthnNameIDFormat: saml.TransientNameIDFormat,
		SignatureMethod:   signatureMethods[b.profile.SignatureAlgorithm],
		ForceAuthn:        &forceAuthn,
		RequestedAuthnContext: &saml.RequestedAuthnContext{
			Comparison:           "minimum",
			AuthnContextClassRef: b.profile.AuthnContextClassRefs[0],
		},
		IDPMetadata: b.idpMetadata(descriptor),
	}
}

// idpMetadata synthesizes an entity descriptor for the selected IdP. The
// per-IdP federation certificates are not distributed with this demo; the SP
// certificate stands in as the trust anchor, matching what the local test
// environments sign with.
func (b *Broker) idpMetadata(descriptor registry.Descriptor) *saml.EntityDescriptor {
	return &saml.EntityDescriptor{
		EntityID: descriptor.EntityID,
		IDPSSODescriptors: []saml.IDPSSODescriptor{{
			SingleSignOnServices: []saml.Endpoint{
				{Binding: saml.HTTPRedirectBinding, Location: descriptor.EntryPoint},
				{Binding: saml.HTTPPostBinding, Location: descriptor.EntryPoint},
			},
			SSODescriptor: saml.SSODescriptor{
				RoleDescriptor: saml.RoleDescriptor{
					KeyDescriptors: []saml.KeyDescriptor{{
						Use: "signing",
						KeyInfo: saml.KeyInfo{
							X509Data: saml.X509Data{
								X509Certificates: []saml.X509Certificate{{
									Data: certificateData(b.profile.Keys),
								}},
							},
						},
					}},
				},
			},
		}},
	}
}

// responseError surfaces the library's private error detail for server-side
// logging. The public error shown to users stays generic.
func responseError(err error) error {
	var ire *saml.InvalidResponseError
	if errors.As(err, &ire) && ire.PrivateErr != nil {
		return ire.PrivateErr
	}
	return err
}
