// Package identity defines the canonical user record the gateway stores in a
// session, and the fixed mappings from provider-specific assertion
// attributes or userinfo claims onto it.
package identity

import (
	"github.com/crewjam/saml"
	"github.com/pkg/errors"
)

// Provider identifies which federation produced an identity.
type Provider string

const (
	ProviderSPID          Provider = "spid"
	ProviderCIE           Provider = "cie"
	ProviderSPIDValidator Provider = "spid-validator"
)

// User is the normalized shape every login flow produces, regardless of
// protocol. Claim fields are optional and left zero when the provider does
// not assert them.
type User struct {
	Provider     Provider
	SubjectID    string
	GivenName    string
	FamilyName   string
	FiscalNumber string
	Email        string
	// RawClaims keeps the unmodified source attribute/claim set for audit
	// and debugging. Values are strings for SAML, arbitrary JSON values for
	// OIDC userinfo.
	RawClaims map[string]interface{}
}

// canonical field names, used as mapping table keys.
const (
	fieldGivenName    = "givenName"
	fieldFamilyName   = "familyName"
	fieldFiscalNumber = "fiscalNumber"
	fieldEmail        = "email"
)

var canonicalFields = []string{fieldGivenName, fieldFamilyName, fieldFiscalNumber, fieldEmail}

// Mapping binds each canonical field to the attribute or claim name a
// provider variant uses for it.
type Mapping map[string]string

// samlMappings maps SPID assertion attribute names (per the AgID attribute
// set) onto canonical fields. The validator environment asserts the same
// attribute names as production SPID.
var samlMappings = map[Provider]Mapping{
	ProviderSPID: {
		fieldGivenName:    "name",
		fieldFamilyName:   "familyName",
		fieldFiscalNumber: "fiscalNumber",
		fieldEmail:        "email",
	},
	ProviderSPIDValidator: {
		fieldGivenName:    "name",
		fieldFamilyName:   "familyName",
		fieldFiscalNumber: "fiscalNumber",
		fieldEmail:        "email",
	},
}

// oidcMapping maps CIE userinfo claim names onto canonical fields.
var oidcMapping = Mapping{
	fieldGivenName:    "given_name",
	fieldFamilyName:   "family_name",
	fieldFiscalNumber: "fiscal_number",
	fieldEmail:        "email",
}

func init() {
	for p, m := range samlMappings {
		if err := checkComplete(m); err != nil {
			panic(errors.Wrapf(err, "saml mapping for %s", p))
		}
	}
	if err := checkComplete(oidcMapping); err != nil {
		panic(errors.Wrap(err, "oidc mapping"))
	}
}

// checkComplete verifies a mapping names a source for every canonical field.
func checkComplete(m Mapping) error {
	for _, f := range canonicalFields {
		if m[f] == "" {
			return errors.Errorf("no source for field %q", f)
		}
	}
	return nil
}

// FromSAMLAssertion maps a validated assertion into a User. Attributes the
// IdP did not assert are left empty.
func FromSAMLAssertion(provider Provider, assertion *saml.Assertion) (*User, error) {
	mapping, ok := samlMappings[provider]
	if !ok {
		return nil, errors.Errorf("no attribute mapping for provider %q", provider)
	}

	u := &User{
		Provider:  provider,
		RawClaims: map[string]interface{}{},
	}
	if assertion.Subject != nil && assertion.Subject.NameID != nil {
		u.SubjectID = assertion.Subject.NameID.Value
	}

	attrs := map[string]string{}
	for _, stmt := range assertion.AttributeStatements {
		for _, attr := range stmt.Attributes {
			if len(attr.Values) == 0 {
				continue
			}
			name := attr.FriendlyName
			if name == "" {
				name = attr.Name
			}
			attrs[name] = attr.Values[0].Value
			u.RawClaims[name] = attr.Values[0].Value
		}
	}

	u.GivenName = attrs[mapping[fieldGivenName]]
	u.FamilyName = attrs[mapping[fieldFamilyName]]
	u.FiscalNumber = attrs[mapping[fieldFiscalNumber]]
	u.Email = attrs[mapping[fieldEmail]]
	return u, nil
}

// FromOIDCClaims maps a CIE userinfo claim set into a User. Missing claims
// are left empty, never an error.
func FromOIDCClaims(claims map[string]interface{}) *User {
	u := &User{
		Provider:  ProviderCIE,
		RawClaims: claims,
	}
	u.SubjectID = stringClaim(claims, "sub")
	u.GivenName = stringClaim(claims, oidcMapping[fieldGivenName])
	u.FamilyName = stringClaim(claims, oidcMapping[fieldFamilyName])
	u.FiscalNumber = stringClaim(claims, oidcMapping[fieldFiscalNumber])
	u.Email = stringClaim(claims, oidcMapping[fieldEmail])
	return u
}

func stringClaim(claims map[string]interface{}, name string) string {
	v, _ := claims[name].(string)
	return v
}
