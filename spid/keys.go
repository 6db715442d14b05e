package spid

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"io/ioutil"
	"math/big"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// KeyMaterial is the SP signing/decryption key pair. SPID uses the same RSA
// key for request signing and assertion decryption.
type KeyMaterial struct {
	Key         *rsa.PrivateKey
	Certificate *x509.Certificate
	// CertificatePEM is the certificate as originally loaded, embedded in
	// generated metadata.
	CertificatePEM string
}

// LoadKeyMaterial parses a PEM private key and certificate. Inline values
// from environment variables often carry literal "\n" sequences, those are
// unescaped before parsing.
func LoadKeyMaterial(keyPEM, certPEM string) (*KeyMaterial, error) {
	keyPEM = strings.ReplaceAll(keyPEM, `\n`, "\n")
	certPEM = strings.ReplaceAll(certPEM, `\n`, "\n")

	key, err := parsePrivateKey([]byte(keyPEM))
	if err != nil {
		return nil, errors.Wrap(err, "parsing private key")
	}
	cert, err := parseCertificate([]byte(certPEM))
	if err != nil {
		return nil, errors.Wrap(err, "parsing certificate")
	}
	return &KeyMaterial{Key: key, Certificate: cert, CertificatePEM: certPEM}, nil
}

// LoadKeyMaterialFromFiles reads the key pair from PEM files on disk.
func LoadKeyMaterialFromFiles(keyPath, certPath string) (*KeyMaterial, error) {
	keyPEM, err := ioutil.ReadFile(keyPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading key file %s", keyPath)
	}
	certPEM, err := ioutil.ReadFile(certPath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading certificate file %s", certPath)
	}
	return LoadKeyMaterial(string(keyPEM), string(certPEM))
}

func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Errorf("unsupported key type %T, SPID requires RSA", parsed)
	}
	return key, nil
}

func parseCertificate(pemBytes []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	return x509.ParseCertificate(block.Bytes)
}

// certificateData returns the certificate in the raw base64 form metadata
// KeyDescriptors carry.
func certificateData(km *KeyMaterial) string {
	return base64.StdEncoding.EncodeToString(km.Certificate.Raw)
}

// GenerateDemoKeyMaterial creates an ephemeral self-signed RSA key pair.
// Only usable in demo mode, production deployments must supply registered
// key material.
func GenerateDemoKeyMaterial(commonName string) (*KeyMaterial, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, errors.Wrap(err, "generating RSA key")
	}

	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, errors.Wrap(err, "generating serial number")
	}

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"SPID CIE Gateway Demo"},
			CommonName:   commonName,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, errors.Wrap(err, "creating self-signed certificate")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	return &KeyMaterial{Key: key, Certificate: cert, CertificatePEM: string(certPEM)}, nil
}
