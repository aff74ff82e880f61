// Package signers produces PDF signatures: the Signer abstraction over
// software keys and PKCS#11 tokens, the incremental PDF signer, and the
// attempt ladder that retries across signing mechanisms.
package signers

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/imzaci/imzala/sign/cms"
)

// Common errors
var (
	// ErrMechanismUnsupported is returned by signers that cannot honour the
	// requested mechanism. The attempt ladder moves on to the next one.
	ErrMechanismUnsupported = errors.New("signing mechanism not supported")
	ErrSignerRequired       = errors.New("signer is required")
)

// Mechanism selects how a signature value is produced. Raw asks the token
// for a bare RSA/ECDSA operation over a digest prepared by the caller
// instead of a combined hash-and-sign mechanism. PreferPSS selects
// RSASSA-PSS for RSA keys.
type Mechanism struct {
	Raw       bool
	PreferPSS bool
}

func (m Mechanism) String() string {
	mode := "hash-and-sign"
	if m.Raw {
		mode = "raw"
	}
	padding := "pkcs1v15"
	if m.PreferPSS {
		padding = "pss"
	}
	return mode + "/" + padding
}

// SigningError represents an error during the signing process.
type SigningError struct {
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *SigningError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *SigningError) Unwrap() error {
	return e.Cause
}

// NewSigningError creates a new SigningError.
func NewSigningError(message string, cause error) *SigningError {
	return &SigningError{Message: message, Cause: cause}
}

// Signer is the interface for signing operations.
type Signer interface {
	// Sign returns a detached CMS signature over data using mech.
	Sign(data []byte, mech Mechanism) ([]byte, error)
	// GetCertificate returns the signing certificate.
	GetCertificate() *x509.Certificate
	// GetCertificateChain returns the certificate chain.
	GetCertificateChain() []*x509.Certificate
	// GetSignatureSize returns the space to reserve for the CMS blob.
	GetSignatureSize() int
}

// SimpleSigner implements Signer using a certificate and an in-memory key.
// Raw has no meaning for software keys; PreferPSS applies to RSA keys.
type SimpleSigner struct {
	Certificate *x509.Certificate
	CertChain   []*x509.Certificate
	PrivateKey  crypto.Signer
	// Clock supplies the signing-time attribute; nil uses the real clock.
	Clock clockwork.Clock
}

// NewSimpleSigner creates a new SimpleSigner.
func NewSimpleSigner(cert *x509.Certificate, key crypto.Signer) *SimpleSigner {
	return &SimpleSigner{Certificate: cert, PrivateKey: key}
}

// SetCertificateChain sets the certificate chain.
func (s *SimpleSigner) SetCertificateChain(chain []*x509.Certificate) {
	s.CertChain = chain
}

// Sign implements Signer.
func (s *SimpleSigner) Sign(data []byte, mech Mechanism) ([]byte, error) {
	if s.Certificate == nil || s.PrivateKey == nil {
		return nil, ErrSignerRequired
	}
	_, isRSA := s.PrivateKey.Public().(*rsa.PublicKey)
	alg, err := cms.AlgorithmFor(s.PrivateKey.Public(), mech.PreferPSS && isRSA)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMechanismUnsupported, err)
	}
	builder := cms.NewCMSBuilder(s.Certificate, alg)
	builder.SetCertificateChain(s.CertChain)
	if s.Clock != nil {
		builder.SetSigningTime(s.Clock.Now())
	}
	return builder.Sign(data, cms.KeySignFunc(s.PrivateKey, alg))
}

// GetCertificate implements Signer.
func (s *SimpleSigner) GetCertificate() *x509.Certificate {
	return s.Certificate
}

// GetCertificateChain implements Signer.
func (s *SimpleSigner) GetCertificateChain() []*x509.Certificate {
	return s.CertChain
}

// GetSignatureSize implements Signer.
func (s *SimpleSigner) GetSignatureSize() int {
	return estimateSignatureSize(s.Certificate, s.CertChain)
}

func estimateSignatureSize(cert *x509.Certificate, chain []*x509.Certificate) int {
	size := 8192 // CMS structure, attributes and signature value
	if cert != nil {
		size += len(cert.Raw)
	}
	for _, c := range chain {
		size += len(c.Raw)
	}
	return size
}

// Serialized guards a Signer with a mutex so concurrent documents never
// interleave operations on a single token session.
type Serialized struct {
	mu     sync.Mutex
	signer Signer
}

// NewSerialized wraps s.
func NewSerialized(s Signer) *Serialized {
	return &Serialized{signer: s}
}

// Sign implements Signer.
func (s *Serialized) Sign(data []byte, mech Mechanism) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signer.Sign(data, mech)
}

// GetCertificate implements Signer.
func (s *Serialized) GetCertificate() *x509.Certificate { return s.signer.GetCertificate() }

// GetCertificateChain implements Signer.
func (s *Serialized) GetCertificateChain() []*x509.Certificate {
	return s.signer.GetCertificateChain()
}

// GetSignatureSize implements Signer.
func (s *Serialized) GetSignatureSize() int { return s.signer.GetSignatureSize() }
