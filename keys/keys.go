// Package keys loads software signing credentials: certificates and
// private keys from PEM or DER files, and PKCS#12 bundles.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// Common errors
var (
	ErrNoCertFound      = errors.New("no certificate found in data")
	ErrNoKeyFound       = errors.New("no private key found in data")
	ErrUnknownKeyType   = errors.New("unknown private key type")
	ErrInvalidPEMBlock  = errors.New("invalid PEM block")
	ErrDecryptionFailed = errors.New("failed to decrypt private key")
	ErrMultipleCerts    = errors.New("expected exactly one certificate")
	ErrKeyMismatch      = errors.New("private key does not match certificate")
)

// PrivateKey is a key usable for CMS signatures: RSA or ECDSA.
type PrivateKey interface {
	crypto.Signer
}

// Credential is a signing certificate with its key and any extra
// certificates to embed.
type Credential struct {
	Certificate *x509.Certificate
	PrivateKey  PrivateKey
	Chain       []*x509.Certificate
}

// LoadCertFromPemDer loads a single certificate from a PEM or DER encoded file.
func LoadCertFromPemDer(filename string) (*x509.Certificate, error) {
	certs, err := LoadCertsFromPemDer(filename)
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, fmt.Errorf("%w: found %d certificates in %s", ErrMultipleCerts, len(certs), filename)
	}
	return certs[0], nil
}

// LoadCertsFromPemDer loads certificates from a PEM or DER encoded file.
func LoadCertsFromPemDer(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadCertsFromPemDerData(data)
}

// LoadCertsFromPemDerData parses every certificate in PEM or DER data.
// Non-certificate PEM blocks are skipped.
func LoadCertsFromPemDerData(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	if isPEM(data) {
		for rest := data; len(rest) > 0; {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DER certificate: %w", err)
		}
		certs = parsed
	}
	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// LoadCertsFromPemDerFiles loads certificates from multiple files.
func LoadCertsFromPemDerFiles(filenames []string) ([]*x509.Certificate, error) {
	var all []*x509.Certificate
	for _, filename := range filenames {
		certs, err := LoadCertsFromPemDer(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to load certs from %s: %w", filename, err)
		}
		all = append(all, certs...)
	}
	return all, nil
}

// LoadPrivateKeyFromPemDer loads a private key from a PEM or DER encoded file.
func LoadPrivateKeyFromPemDer(filename string, passphrase []byte) (PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPrivateKeyFromPemDerData(data, passphrase)
}

// LoadPrivateKeyFromPemDerData loads a private key from PEM or DER encoded data.
func LoadPrivateKeyFromPemDerData(data []byte, passphrase []byte) (PrivateKey, error) {
	if !isPEM(data) {
		return parseDERKey(data)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrInvalidPEMBlock
	}
	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if passphrase == nil {
			return nil, fmt.Errorf("%w: key is encrypted but no passphrase was given", ErrDecryptionFailed)
		}
		var err error
		keyBytes, err = x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(keyBytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
		}
		return toPrivateKey(key)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKeyType, block.Type)
}

func parseDERKey(data []byte) (PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return toPrivateKey(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(data); err == nil {
		return key, nil
	}
	return nil, ErrNoKeyFound
}

func toPrivateKey(key any) (PrivateKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
}

func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}

// LoadPemDer loads a credential from a certificate file, a key file and
// optional extra certificate files.
func LoadPemDer(certFile, keyFile string, passphrase []byte, otherCerts ...string) (*Credential, error) {
	cert, err := LoadCertFromPemDer(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}
	key, err := LoadPrivateKeyFromPemDer(keyFile, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	chain, err := LoadCertsFromPemDerFiles(otherCerts)
	if err != nil {
		return nil, err
	}
	cred := &Credential{Certificate: cert, PrivateKey: key, Chain: chain}
	return cred, cred.Check()
}

// LoadPKCS12 loads a credential from a PKCS#12 bundle.
func LoadPKCS12(filename, password string) (*Credential, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filename, err)
	}
	return LoadPKCS12Data(data, password)
}

// LoadPKCS12Data decodes a PKCS#12 bundle.
func LoadPKCS12Data(data []byte, password string) (*Credential, error) {
	rawKey, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	key, err := toPrivateKey(rawKey)
	if err != nil {
		return nil, err
	}
	cred := &Credential{Certificate: cert, PrivateKey: key, Chain: caCerts}
	return cred, cred.Check()
}

// Check verifies that the key belongs to the certificate.
func (c *Credential) Check() error {
	type equaler interface{ Equal(crypto.PublicKey) bool }
	pub, ok := c.PrivateKey.Public().(equaler)
	if !ok || !pub.Equal(c.Certificate.PublicKey) {
		return ErrKeyMismatch
	}
	return nil
}

// Describe summarises a key for logs, e.g. "RSA-2048" or "ECDSA-P-256".
func Describe(key PrivateKey) string {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return fmt.Sprintf("RSA-%d", k.N.BitLen())
	case *ecdsa.PrivateKey:
		return "ECDSA-" + k.Curve.Params().Name
	}
	return "unknown"
}
