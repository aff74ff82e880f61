package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"software.sslmate.com/src/go-pkcs12"
)

func selfSigned(t *testing.T, key crypto.Signer, cn string) *x509.Certificate {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert
}

func writePEM(t *testing.T, dir, name, typ string, der []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestIsPEM(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"PEM data", []byte("-----BEGIN CERTIFICATE-----\ndata\n-----END CERTIFICATE-----"), true},
		{"DER data", []byte{0x30, 0x82, 0x01, 0x22}, false},
		{"Empty", []byte{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isPEM(tt.data); got != tt.want {
				t.Errorf("isPEM() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadCertsFromPemDerData(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	a := selfSigned(t, key, "A")
	b := selfSigned(t, key, "B")

	bundle := append(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: a.Raw}),
		pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: []byte{1}})...)
	bundle = append(bundle, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: b.Raw})...)

	tests := []struct {
		name  string
		data  []byte
		names []string
		err   error
	}{
		{"pem bundle skips other blocks", bundle, []string{"A", "B"}, nil},
		{"der", a.Raw, []string{"A"}, nil},
		{"pem without certificates", pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: []byte{1}}), nil, ErrNoCertFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			certs, err := LoadCertsFromPemDerData(tt.data)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("got %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, c := range certs {
				got = append(got, c.Subject.CommonName)
			}
			if len(got) != len(tt.names) || got[0] != tt.names[0] {
				t.Errorf("got %v, want %v", got, tt.names)
			}
		})
	}
}

func TestLoadPrivateKeyFromPemDerData(t *testing.T) {
	rk, _ := rsa.GenerateKey(rand.Reader, 2048)
	ek, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	pkcs8, _ := x509.MarshalPKCS8PrivateKey(ek)
	ecDER, _ := x509.MarshalECPrivateKey(ek)
	_, edKey, _ := ed25519.GenerateKey(rand.Reader)
	edPKCS8, _ := x509.MarshalPKCS8PrivateKey(edKey)

	tests := []struct {
		name string
		data []byte
		want string
		err  error
	}{
		{"pkcs1 pem", pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(rk)}), "RSA-2048", nil},
		{"ec pem", pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: ecDER}), "ECDSA-P-256", nil},
		{"pkcs8 pem", pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}), "ECDSA-P-256", nil},
		{"pkcs8 der", pkcs8, "ECDSA-P-256", nil},
		{"ed25519 rejected", edPKCS8, "", ErrUnknownKeyType},
		{"garbage der", []byte{1, 2, 3}, "", ErrNoKeyFound},
		{"unknown block", pem.EncodeToMemory(&pem.Block{Type: "DSA PRIVATE KEY", Bytes: []byte{1}}), "", ErrUnknownKeyType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := LoadPrivateKeyFromPemDerData(tt.data, nil)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("got %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := Describe(key); got != tt.want {
				t.Errorf("Describe() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadPemDer(t *testing.T) {
	dir := t.TempDir()
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	cert := selfSigned(t, key, "Signer")
	keyDER, _ := x509.MarshalECPrivateKey(key)

	certPath := writePEM(t, dir, "cert.pem", "CERTIFICATE", cert.Raw)
	keyPath := writePEM(t, dir, "key.pem", "EC PRIVATE KEY", keyDER)

	cred, err := LoadPemDer(certPath, keyPath, nil, certPath)
	if err != nil {
		t.Fatalf("LoadPemDer: %v", err)
	}
	if cred.Certificate.Subject.CommonName != "Signer" || len(cred.Chain) != 1 {
		t.Errorf("unexpected credential: %+v", cred)
	}

	other, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	otherDER, _ := x509.MarshalECPrivateKey(other)
	otherPath := writePEM(t, dir, "other.pem", "EC PRIVATE KEY", otherDER)
	if _, err := LoadPemDer(certPath, otherPath, nil); !errors.Is(err, ErrKeyMismatch) {
		t.Errorf("mismatched key: got %v, want ErrKeyMismatch", err)
	}
	if _, err := LoadPemDer(filepath.Join(dir, "missing.pem"), keyPath, nil); err == nil {
		t.Error("expected error for missing certificate file")
	}
}

func TestLoadPKCS12(t *testing.T) {
	key, _ := rsa.GenerateKey(rand.Reader, 2048)
	cert := selfSigned(t, key, "Bundle")
	ca := selfSigned(t, key, "CA")

	pfx, err := pkcs12.Modern.Encode(key, cert, []*x509.Certificate{ca}, "secret")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "signer.p12")
	if err := os.WriteFile(path, pfx, 0o600); err != nil {
		t.Fatal(err)
	}

	cred, err := LoadPKCS12(path, "secret")
	if err != nil {
		t.Fatalf("LoadPKCS12: %v", err)
	}
	if cred.Certificate.Subject.CommonName != "Bundle" {
		t.Errorf("certificate CN = %q", cred.Certificate.Subject.CommonName)
	}
	if len(cred.Chain) != 1 || cred.Chain[0].Subject.CommonName != "CA" {
		t.Errorf("chain = %v", cred.Chain)
	}
	if _, err := LoadPKCS12(path, "wrong"); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("wrong password: got %v, want ErrDecryptionFailed", err)
	}
}
