package main

import (
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/protezionecivile/spid-cie-gateway/spid"
)

// config collects the environment-driven settings. Required fields are
// enforced in load; key material is resolved separately so demo mode can
// fall back to an ephemeral pair.
type config struct {
	listenAddr    string
	baseURL       string
	sessionSecret string
	demoMode      bool

	spidIssuer    string
	spidKeyPEM    string
	spidCertPEM   string
	spidKeyFile   string
	spidCertFile  string
	providersFile string

	cieIssuer       string
	cieClientID     string
	cieClientSecret string
}

func loadConfig() (*config, error) {
	c := &config{
		listenAddr:    envDefault("LISTEN_ADDR", "localhost:3000"),
		baseURL:       strings.TrimSuffix(envDefault("BASE_URL", "https://localhost:3000"), "/"),
		sessionSecret: os.Getenv("SESSION_SECRET"),
		demoMode:      os.Getenv("DEMO_MODE") == "true" || os.Getenv("DEMO_MODE") == "1",

		spidIssuer:    os.Getenv("SPID_ISSUER"),
		spidKeyPEM:    os.Getenv("SPID_PRIVATE_KEY"),
		spidCertPEM:   os.Getenv("SPID_PUBLIC_CERT"),
		spidKeyFile:   os.Getenv("SPID_PRIVATE_KEY_FILE"),
		spidCertFile:  os.Getenv("SPID_PUBLIC_CERT_FILE"),
		providersFile: os.Getenv("SPID_PROVIDERS_FILE"),

		cieIssuer:       os.Getenv("CIE_DISCOVERY_URL"),
		cieClientID:     os.Getenv("CIE_CLIENT_ID"),
		cieClientSecret: os.Getenv("CIE_CLIENT_SECRET"),
	}

	if c.spidIssuer == "" {
		c.spidIssuer = c.baseURL
	}

	if !c.demoMode {
		if c.sessionSecret == "" {
			return nil, errors.New("SESSION_SECRET must be set outside demo mode")
		}
		if c.cieIssuer == "" || c.cieClientID == "" || c.cieClientSecret == "" {
			return nil, errors.New("CIE_DISCOVERY_URL, CIE_CLIENT_ID and CIE_CLIENT_SECRET must be set outside demo mode")
		}
	}
	if c.cieIssuer == "" {
		c.cieIssuer = "https://cie-provider.example.com"
	}
	if c.cieClientID == "" {
		c.cieClientID = "demo-client"
	}
	if c.cieClientSecret == "" {
		c.cieClientSecret = "demo-secret"
	}

	return c, nil
}

// keyMaterial resolves the SP key pair: inline PEM wins over files. Missing
// material is fatal outside demo mode; demo mode generates an ephemeral
// self-signed pair.
func (c *config) keyMaterial() (*spid.KeyMaterial, error) {
	switch {
	case c.spidKeyPEM != "" && c.spidCertPEM != "":
		return spid.LoadKeyMaterial(c.spidKeyPEM, c.spidCertPEM)
	case c.spidKeyFile != "" && c.spidCertFile != "":
		return spid.LoadKeyMaterialFromFiles(c.spidKeyFile, c.spidCertFile)
	case c.demoMode:
		return spid.GenerateDemoKeyMaterial(c.spidIssuer)
	default:
		return nil, errors.New("SPID key material must be configured outside demo mode (SPID_PRIVATE_KEY/SPID_PUBLIC_CERT or *_FILE)")
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
