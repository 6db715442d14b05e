package spid

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"github.com/protezionecivile/spid-cie-gateway/identity"
	"github.com/protezionecivile/spid-cie-gateway/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r, err := registry.New([]registry.Descriptor{
		{Key: "alpha", EntityID: "https://alpha.example", EntryPoint: "https://alpha.example/sso", DisplayName: "Alpha"},
		{Key: "beta", EntityID: "https://beta.example", EntryPoint: "https://beta.example/sso", DisplayName: "Beta"},
		{Key: "demo", EntityID: "https://idp.example", EntryPoint: "https://idp.example/sso", DisplayName: "Demo"},
		{Key: "validator", EntityID: "https://validator.spid.gov.it", EntryPoint: "https://validator.spid.gov.it/samlsso", DisplayName: "AgID Validator"},
	}, registry.WithFallback("demo"))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func testBroker(t *testing.T) *Broker {
	t.Helper()
	profile := ProductionProfile("https://gateway.example", "https://gateway.example/acs", testKeys(t))
	b, err := NewBroker(testLogger(), profile, testRegistry(t), NewRequestIDCache())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// acsRequest wraps an encoded response in the form post an IdP would send.
func acsRequest(t *testing.T, encodedResponse string) *http.Request {
	t.Helper()
	form := url.Values{"SAMLResponse": {encodedResponse}}
	req := httptest.NewRequest("POST", "https://gateway.example/acs", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestStartLoginRedirectsToSelectedIdP(t *testing.T) {
	b := testBroker(t)

	login, err := b.StartLogin("alpha", "/deep/link")
	if err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	if login.RedirectURL == nil {
		t.Fatal("expected a redirect URL for the redirect binding")
	}
	if login.RedirectURL.Host != "alpha.example" {
		t.Errorf("redirect host = %q, want alpha.example", login.RedirectURL.Host)
	}
	if got := login.RedirectURL.Query().Get("RelayState"); got != "/deep/link" {
		t.Errorf("RelayState = %q, want /deep/link", got)
	}
	if login.RedirectURL.Query().Get("SAMLRequest") == "" {
		t.Error("redirect URL carries no SAMLRequest")
	}
	if login.RequestID == "" {
		t.Error("request ID not recorded")
	}
}

func TestStartLoginFallback(t *testing.T) {
	b := testBroker(t)

	login, err := b.StartLogin("", "/")
	if err != nil {
		t.Fatalf("StartLogin with empty key: %v", err)
	}
	if login.Provider.Key != "demo" {
		t.Errorf("fallback provider = %q, want demo", login.Provider.Key)
	}
	if login.RedirectURL.Host != "idp.example" {
		t.Errorf("redirect host = %q, want idp.example", login.RedirectURL.Host)
	}
}

func TestStartLoginUnknownProvider(t *testing.T) {
	b := testBroker(t)

	login, err := b.StartLogin("doesnotexist", "/")
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if errors.Cause(err) != registry.ErrUnknownProvider {
		t.Errorf("expected ErrUnknownProvider, got %v", err)
	}
	if login != nil {
		t.Error("no login must be produced for an unknown provider")
	}
}

func TestStartLoginPostBinding(t *testing.T) {
	profile := ProductionProfile("https://gateway.example", "https://gateway.example/acs", testKeys(t))
	profile.BindingPreference = BindingPost
	b, err := NewBroker(testLogger(), profile, testRegistry(t), NewRequestIDCache())
	if err != nil {
		t.Fatal(err)
	}

	login, err := b.StartLogin("alpha", "/")
	if err != nil {
		t.Fatal(err)
	}
	if login.RedirectURL != nil {
		t.Error("post binding must not produce a redirect URL")
	}
	if len(login.PostBody) == 0 {
		t.Fatal("post binding produced no form body")
	}
	body := string(login.PostBody)
	if !strings.Contains(body, "https://alpha.example/sso") || !strings.Contains(body, "SAMLRequest") {
		t.Errorf("post body does not target the selected IdP: %s", body)
	}
}

// Two concurrent attempts against different IdPs must each be redirected to
// their own entry point. This guards the per-request client construction:
// there is no shared mutable entry point to race on.
func TestConcurrentLoginsKeepTheirEntryPoints(t *testing.T) {
	b := testBroker(t)

	const iterations = 50
	var wg sync.WaitGroup
	errc := make(chan error, 2*iterations)

	attempt := func(key, wantHost string) {
		defer wg.Done()
		login, err := b.StartLogin(key, "/")
		if err != nil {
			errc <- err
			return
		}
		if login.RedirectURL.Host != wantHost {
			errc <- fmt.Errorf("login for %s redirected to %s, want %s", key, login.RedirectURL.Host, wantHost)
		}
	}

	for i := 0; i < iterations; i++ {
		wg.Add(2)
		go attempt("alpha", "alpha.example")
		go attempt("beta", "beta.example")
	}
	wg.Wait()
	close(errc)

	for err := range errc {
		t.Error(err)
	}
}

func TestStartLoginWithoutKeyMaterial(t *testing.T) {
	profile := ProductionProfile("https://gateway.example", "https://gateway.example/acs", testKeys(t))
	b, err := NewBroker(testLogger(), profile, testRegistry(t), NewRequestIDCache())
	if err != nil {
		t.Fatal(err)
	}
	b.profile.Keys = nil

	if _, err := b.StartLogin("alpha", "/"); errors.Cause(err) != ErrNoKeyMaterial {
		t.Errorf("expected ErrNoKeyMaterial, got %v", err)
	}
}

func TestRequestIDCacheSingleUse(t *testing.T) {
	c := NewRequestIDCache()
	c.Store("id-1", identity.ProviderSPIDValidator)
	c.Store("id-2", identity.ProviderSPID)

	ids := c.Outstanding()
	if len(ids) != 2 {
		t.Fatalf("Outstanding() = %v, want two entries", ids)
	}

	p, ok := c.Consume("id-1")
	if !ok || p != identity.ProviderSPIDValidator {
		t.Errorf("Consume(id-1) = %v, %v, want validator provider", p, ok)
	}
	if _, ok := c.Consume("id-1"); ok {
		t.Error("second Consume of the same ID must miss")
	}
	ids = c.Outstanding()
	if len(ids) != 1 || ids[0] != "id-2" {
		t.Errorf("after Consume, Outstanding() = %v, want [id-2]", ids)
	}
}

func TestHandleACSDeliversNormalizedUser(t *testing.T) {
	b := testBroker(t)

	login, err := b.StartLogin("demo", "/")
	if err != nil {
		t.Fatal(err)
	}

	encoded := signedLoginResponse(t, b.profile.Keys,
		"https://idp.example", "https://gateway.example", "https://gateway.example/acs",
		login.RequestID, "subject-1", map[string]string{
			"name":         "Mario",
			"familyName":   "Rossi",
			"fiscalNumber": "TINIT-MRARSS77T05E472W",
			"email":        "mario.rossi@example.com",
		})

	user, err := b.HandleACS(acsRequest(t, encoded))
	if err != nil {
		t.Fatalf("HandleACS: %v", err)
	}
	if user.Provider != identity.ProviderSPID {
		t.Errorf("Provider = %q, want %q", user.Provider, identity.ProviderSPID)
	}
	if user.SubjectID != "subject-1" {
		t.Errorf("SubjectID = %q, want subject-1", user.SubjectID)
	}
	if user.GivenName != "Mario" || user.FamilyName != "Rossi" {
		t.Errorf("name = %q %q, want Mario Rossi", user.GivenName, user.FamilyName)
	}
	if user.Email != "mario.rossi@example.com" {
		t.Errorf("Email = %q", user.Email)
	}

	// the request ID is spent, so replaying the same response must fail
	if _, err := b.HandleACS(acsRequest(t, encoded)); err == nil {
		t.Error("replayed response must be rejected")
	}
}

// A login started by the validator broker posts its response to the shared
// ACS endpoint served by the standard broker. The shared request cache keeps
// the correlation and attributes the user to the validator profile.
func TestValidatorLoginCompletesAtSharedACS(t *testing.T) {
	keys := testKeys(t)
	reg := testRegistry(t)
	cache := NewRequestIDCache()

	std, err := NewBroker(testLogger(), ProductionProfile("https://gateway.example", "https://gateway.example/acs", keys), reg, cache)
	if err != nil {
		t.Fatal(err)
	}
	val, err := NewBroker(testLogger(), ValidatorProfile("https://gateway.example", "https://gateway.example/acs", keys), reg, cache)
	if err != nil {
		t.Fatal(err)
	}

	login, err := val.StartLogin("validator", "/")
	if err != nil {
		t.Fatal(err)
	}

	encoded := signedLoginResponse(t, keys,
		"https://validator.spid.gov.it", "https://gateway.example", "https://gateway.example/acs",
		login.RequestID, "validator-subject", map[string]string{"name": "Test", "familyName": "Utente"})

	user, err := std.HandleACS(acsRequest(t, encoded))
	if err != nil {
		t.Fatalf("HandleACS: %v", err)
	}
	if user.Provider != identity.ProviderSPIDValidator {
		t.Errorf("Provider = %q, want %q", user.Provider, identity.ProviderSPIDValidator)
	}
	if user.SubjectID != "validator-subject" {
		t.Errorf("SubjectID = %q", user.SubjectID)
	}
}

func TestHandleACSRejectsUnknownIssuer(t *testing.T) {
	b := testBroker(t)

	login, err := b.StartLogin("demo", "/")
	if err != nil {
		t.Fatal(err)
	}

	encoded := signedLoginResponse(t, b.profile.Keys,
		"https://rogue.example", "https://gateway.example", "https://gateway.example/acs",
		login.RequestID, "subject-1", nil)

	if _, err := b.HandleACS(acsRequest(t, encoded)); errors.Cause(err) != registry.ErrUnknownProvider {
		t.Errorf("expected ErrUnknownProvider for an unregistered issuer, got %v", err)
	}
}

func TestServiceProviderIsIndependentPerCall(t *testing.T) {
	b := testBroker(t)

	alpha, _ := b.registry.Resolve("alpha")
	beta, _ := b.registry.Resolve("beta")

	spAlpha := b.serviceProvider(alpha)
	spBeta := b.serviceProvider(beta)

	if spAlpha == spBeta {
		t.Fatal("service providers must not be shared between attempts")
	}
	if spAlpha.IDPMetadata.EntityID == spBeta.IDPMetadata.EntityID {
		t.Error("per-attempt clients share IdP metadata")
	}

	u, _ := url.Parse("https://gateway.example/acs")
	if spAlpha.AcsURL != *u {
		t.Errorf("AcsURL = %v", spAlpha.AcsURL)
	}
}
