package spid

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/crewjam/saml"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/sirupsen/logrus"
)

// testKeys generates throwaway key material for a test.
func testKeys(t *testing.T) *KeyMaterial {
	t.Helper()
	km, err := GenerateDemoKeyMaterial("gateway.test")
	if err != nil {
		t.Fatalf("generating test keys: %v", err)
	}
	return km
}

// encodeKeyPEM renders a key pair's private key back to PEM.
func encodeKeyPEM(t *testing.T, km *KeyMaterial) string {
	t.Helper()
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(km.Key),
	}))
}

// signedLoginResponse mints a base64-encoded SAML response the way a real
// IdP would, signed with the given key pair, answering the outstanding
// request ID.
func signedLoginResponse(t *testing.T, keys *KeyMaterial, idpEntityID, spEntityID, acsURL, requestID, nameID string, attrs map[string]string) string {
	t.Helper()

	metadataURL, err := url.Parse(idpEntityID)
	if err != nil {
		t.Fatal(err)
	}
	ssoURL := *metadataURL
	ssoURL.Path = "/sso"

	idp := &saml.IdentityProvider{
		Key:             keys.Key,
		Certificate:     keys.Certificate,
		MetadataURL:     *metadataURL,
		SSOURL:          ssoURL,
		SignatureMethod: dsig.RSASHA256SignatureMethod,
	}

	req := &saml.IdpAuthnRequest{
		IDP:         idp,
		Now:         saml.TimeNow(),
		HTTPRequest: httptest.NewRequest("GET", ssoURL.String(), nil),
		Request: saml.AuthnRequest{
			ID:           requestID,
			IssueInstant: saml.TimeNow(),
		},
		ServiceProviderMetadata: &saml.EntityDescriptor{EntityID: spEntityID},
		SPSSODescriptor:         &saml.SPSSODescriptor{},
		ACSEndpoint: &saml.IndexedEndpoint{
			Binding:  saml.HTTPPostBinding,
			Location: acsURL,
		},
	}

	ses := &saml.Session{
		ID:         "test-session",
		CreateTime: saml.TimeNow(),
		ExpireTime: saml.TimeNow().Add(time.Hour),
		Index:      "test-session-index",
		NameID:     nameID,
	}
	for name, value := range attrs {
		ses.CustomAttributes = append(ses.CustomAttributes, saml.Attribute{
			Name:       name,
			NameFormat: "urn:oasis:names:tc:SAML:2.0:attrname-format:basic",
			Values:     []saml.AttributeValue{{Type: "xs:string", Value: value}},
		})
	}

	if err := (saml.DefaultAssertionMaker{}).MakeAssertion(req, ses); err != nil {
		t.Fatalf("making assertion: %v", err)
	}
	if err := req.MakeResponse(); err != nil {
		t.Fatalf("making response: %v", err)
	}

	doc := etree.NewDocument()
	doc.SetRoot(req.ResponseEl)
	raw, err := doc.WriteToString()
	if err != nil {
		t.Fatal(err)
	}
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}
