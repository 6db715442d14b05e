// Package spid implements the Service Provider side of the SPID federation:
// per-deployment profiles, the multi-IdP authentication broker and SP
// metadata generation. Protocol parsing, signing and validation are
// delegated to github.com/crewjam/saml.
package spid

import (
	"net/url"
	"time"

	"github.com/pkg/errors"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/protezionecivile/spid-cie-gateway/identity"
)

// Algorithm enumerates the digest/signature hash choices SPID permits.
type Algorithm string

const (
	AlgorithmSHA256 Algorithm = "sha256"
	AlgorithmSHA384 Algorithm = "sha384"
	AlgorithmSHA512 Algorithm = "sha512"
)

var signatureMethods = map[Algorithm]string{
	AlgorithmSHA256: dsig.RSASHA256SignatureMethod,
	AlgorithmSHA384: dsig.RSASHA384SignatureMethod,
	AlgorithmSHA512: dsig.RSASHA512SignatureMethod,
}

// Binding selects the wire binding used to deliver the authentication
// request to the IdP.
type Binding string

const (
	BindingRedirect Binding = "redirect"
	BindingPost     Binding = "post"
)

// AuthnContextSPIDL2 is the authentication strength SPID public services
// request by default.
const AuthnContextSPIDL2 = "https://www.spid.gov.it/SpidL2"

// TransientNameIDFormat is mandated by the SPID technical rules.
const TransientNameIDFormat = "urn:oasis:names:tc:SAML:2.0:nameid-format:transient"

// Organization is embedded in generated metadata for profiles that require
// the AgID organization block.
type Organization struct {
	Name        string
	DisplayName string
	URL         string
}

// TechnicalContact is the technical ContactPerson block AgID validation
// requires alongside Organization.
type TechnicalContact struct {
	Company   string
	GivenName string
	Surname   string
	Email     string
}

// Profile is the per-deployment Service Provider configuration. A profile is
// immutable once validated; the broker derives an independent SAML client
// from it for every authentication attempt.
type Profile struct {
	// Provider names the federation variant this profile serves, spid or
	// spid-validator.
	Provider identity.Provider
	// Issuer is the gateway's own entity ID.
	Issuer string
	// CallbackURL is the assertion consumer service endpoint.
	CallbackURL string
	// Keys holds the signing/decryption key and SP certificate.
	Keys *KeyMaterial
	// AuthnContextClassRefs lists acceptable authentication strengths, in
	// preference order. The first entry is requested with minimum
	// comparison.
	AuthnContextClassRefs []string
	// ClockSkewTolerance is the tolerance applied to assertion time
	// validity checks. The validator profile requires zero.
	ClockSkewTolerance time.Duration
	SignatureAlgorithm Algorithm
	DigestAlgorithm    Algorithm
	// BindingPreference selects redirect or post delivery of authn
	// requests. SPID environments conventionally use redirect.
	BindingPreference Binding
	// ForceAuthn asks the IdP to re-authenticate even with a live session.
	ForceAuthn bool
	// Organization and Contact, when set, are guaranteed present in
	// generated metadata. Required for the validator profile.
	Organization *Organization
	Contact      *TechnicalContact
}

// Validate checks the profile invariants. It must pass before the profile is
// handed to a Broker or Assembler.
func (p *Profile) Validate() error {
	if p.Provider != identity.ProviderSPID && p.Provider != identity.ProviderSPIDValidator {
		return errors.Errorf("profile provider %q is not a SPID variant", p.Provider)
	}
	if p.Issuer == "" {
		return errors.New("profile issuer is required")
	}
	u, err := url.Parse(p.CallbackURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.Errorf("callback URL %q is not an absolute URL", p.CallbackURL)
	}
	if p.Keys == nil || p.Keys.Key == nil || p.Keys.Certificate == nil {
		return errors.New("profile key material is required")
	}
	if len(p.AuthnContextClassRefs) == 0 {
		return errors.New("at least one authn context class ref is required")
	}
	if p.ClockSkewTolerance < 0 {
		return errors.New("clock skew tolerance must be non-negative")
	}
	if p.Provider == identity.ProviderSPIDValidator && p.ClockSkewTolerance != 0 {
		return errors.New("validator profile requires zero clock skew tolerance")
	}
	if _, ok := signatureMethods[p.SignatureAlgorithm]; !ok {
		return errors.Errorf("unsupported signature algorithm %q", p.SignatureAlgorithm)
	}
	if _, ok := signatureMethods[p.DigestAlgorithm]; !ok {
		return errors.Errorf("unsupported digest algorithm %q", p.DigestAlgorithm)
	}
	if p.BindingPreference != BindingRedirect && p.BindingPreference != BindingPost {
		return errors.Errorf("unsupported binding preference %q", p.BindingPreference)
	}
	if p.Provider == identity.ProviderSPIDValidator && (p.Organization == nil || p.Contact == nil) {
		return errors.New("validator profile requires organization and contact blocks")
	}
	return nil
}

// DefaultOrganization and DefaultTechnicalContact are the blocks injected
// into validator metadata when the deployment does not override them.
var (
	DefaultOrganization = Organization{
		Name:        "Dipartimento Protezione Civile",
		DisplayName: "Dipartimento Protezione Civile",
		URL:         "https://www.protezionecivile.gov.it",
	}
	DefaultTechnicalContact = TechnicalContact{
		Company:   "Protezione Civile",
		GivenName: "Responsabile",
		Surname:   "Tecnico",
		Email:     "tech@protezionecivile.local",
	}
)

// ProductionProfile returns the standard SPID profile for the given issuer
// and callback, with the tolerances the production federation accepts.
func ProductionProfile(issuer, callbackURL string, keys *KeyMaterial) *Profile {
	return &Profile{
		Provider:              identity.ProviderSPID,
		Issuer:                issuer,
		CallbackURL:           callbackURL,
		Keys:                  keys,
		AuthnContextClassRefs: []string{AuthnContextSPIDL2},
		ClockSkewTolerance:    2 * time.Second,
		SignatureAlgorithm:    AlgorithmSHA256,
		DigestAlgorithm:       AlgorithmSHA256,
		BindingPreference:     BindingRedirect,
		ForceAuthn:            true,
	}
}

// ValidatorProfile returns the strict profile used against the AgID
// conformance validator: zero clock skew and guaranteed organization and
// contact metadata blocks.
func ValidatorProfile(issuer, callbackURL string, keys *KeyMaterial) *Profile {
	org := DefaultOrganization
	contact := DefaultTechnicalContact
	return &Profile{
		Provider:              identity.ProviderSPIDValidator,
		Issuer:                issuer,
		CallbackURL:           callbackURL,
		Keys:                  keys,
		AuthnContextClassRefs: []string{AuthnContextSPIDL2},
		ClockSkewTolerance:    0,
		SignatureAlgorithm:    AlgorithmSHA256,
		DigestAlgorithm:       AlgorithmSHA256,
		BindingPreference:     BindingRedirect,
		ForceAuthn:            true,
		Organization:          &org,
		Contact:               &contact,
	}
}
