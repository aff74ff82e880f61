package config

import (
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/imzaci/imzala/keys"
)

// TokenCriteria defines search criteria for finding a PKCS#11 token.
type TokenCriteria struct {
	// Label is the token label to match. If empty, no label constraint is applied.
	Label string `yaml:"label" json:"label,omitempty"`

	// Serial is the token serial number. If empty, no serial constraint is applied.
	Serial string `yaml:"serial" json:"serial,omitempty"`
}

// IsEmpty returns true if no criteria are specified.
func (c *TokenCriteria) IsEmpty() bool {
	return c == nil || (c.Label == "" && c.Serial == "")
}

// String returns a string representation of the criteria.
func (c *TokenCriteria) String() string {
	if c.IsEmpty() {
		return "<no criteria>"
	}
	var parts []string
	if c.Label != "" {
		parts = append(parts, fmt.Sprintf("label=%q", c.Label))
	}
	if c.Serial != "" {
		parts = append(parts, fmt.Sprintf("serial=%q", c.Serial))
	}
	return fmt.Sprintf("TokenCriteria{%s}", strings.Join(parts, ", "))
}

// PKCS11SignatureConfig contains configuration for PKCS#11 signing.
type PKCS11SignatureConfig struct {
	// ModulePath is the path to the PKCS#11 module shared object (.so/.dylib/.dll).
	ModulePath string `yaml:"module-path" json:"module_path"`

	// SlotNo is the slot number to use. If nil, the first matching slot is used.
	SlotNo *int `yaml:"slot-no" json:"slot_no,omitempty"`

	// TokenCriteria specifies criteria for finding the token.
	TokenCriteria *TokenCriteria `yaml:"token-criteria" json:"token_criteria,omitempty"`

	// CertLabel is the PKCS#11 label of the signer's certificate.
	CertLabel string `yaml:"cert-label" json:"cert_label,omitempty"`

	// CertIDHex is the PKCS#11 ID of the signer's certificate, hex encoded.
	CertIDHex string `yaml:"cert-id" json:"cert_id,omitempty"`

	// CertID is the decoded certificate ID (after processing).
	CertID []byte `yaml:"-" json:"-"`

	// KeyLabel is the PKCS#11 label of the private key.
	// Defaults to CertLabel if not specified and KeyID is also not specified.
	KeyLabel string `yaml:"key-label" json:"key_label,omitempty"`

	// KeyIDHex is the PKCS#11 ID of the private key, hex encoded.
	KeyIDHex string `yaml:"key-id" json:"key_id,omitempty"`

	// KeyID is the decoded key ID (after processing).
	KeyID []byte `yaml:"-" json:"-"`

	// UserPIN is the user PIN. The CLI asks for it when empty.
	UserPIN string `yaml:"user-pin" json:"user_pin,omitempty"`

	// SigningCertificatePath is an optional path to load the signing certificate from file
	// instead of from the token.
	SigningCertificatePath string `yaml:"signing-certificate" json:"signing_certificate,omitempty"`

	// SigningCertificate is the loaded signing certificate (if loaded from file).
	SigningCertificate *x509.Certificate `yaml:"-" json:"-"`

	// OtherCertsFiles are paths to other certificate files to include.
	OtherCertsFiles []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// OtherCerts contains the loaded additional certificates.
	OtherCerts []*x509.Certificate `yaml:"-" json:"-"`

	// PullAllCerts embeds every other certificate found on the token.
	PullAllCerts bool `yaml:"pull-all-certs" json:"pull_all_certs"`

	// PreferPSS restricts the attempt ladder to PSS (true) or PKCS#1 v1.5
	// (false) mechanisms. Unset keeps the full ladder.
	PreferPSS *bool `yaml:"prefer-pss" json:"prefer_pss,omitempty"`

	// RawMechanism restricts the attempt ladder to raw (true) or
	// hash-and-sign (false) mechanisms. Unset keeps the full ladder.
	RawMechanism *bool `yaml:"raw-mechanism" json:"raw_mechanism,omitempty"`
}

// Validate validates the PKCS#11 configuration.
func (c *PKCS11SignatureConfig) Validate() error {
	if c.ModulePath == "" {
		return NewConfigError("module-path", "PKCS#11 module path is required")
	}

	hasKeyIdentifier := c.KeyIDHex != "" || c.KeyID != nil || c.KeyLabel != ""
	hasCertIdentifier := c.CertIDHex != "" || c.CertID != nil || c.CertLabel != ""
	if !hasKeyIdentifier && !hasCertIdentifier {
		return NewConfigError("", "at least one of key-id, key-label, cert-label, or cert-id must be provided")
	}
	return nil
}

// ProcessConfig decodes IDs and loads certificate files. Call it after
// loading from YAML.
func (c *PKCS11SignatureConfig) ProcessConfig() error {
	if c.CertIDHex != "" {
		id, err := ProcessPKCS11ID(c.CertIDHex)
		if err != nil {
			return &ConfigError{Field: "cert-id", Message: "not a hex string", Err: err}
		}
		c.CertID = id
	}
	if c.KeyIDHex != "" {
		id, err := ProcessPKCS11ID(c.KeyIDHex)
		if err != nil {
			return &ConfigError{Field: "key-id", Message: "not a hex string", Err: err}
		}
		c.KeyID = id
	}

	if c.SigningCertificatePath != "" {
		cert, err := keys.LoadCertFromPemDer(c.SigningCertificatePath)
		if err != nil {
			return fmt.Errorf("failed to load signing certificate: %w", err)
		}
		c.SigningCertificate = cert
	}
	if len(c.OtherCertsFiles) > 0 {
		certs, err := keys.LoadCertsFromPemDerFiles(c.OtherCertsFiles)
		if err != nil {
			return fmt.Errorf("failed to load other certificates: %w", err)
		}
		c.OtherCerts = certs
	}
	return nil
}

// GetKeyLabel returns the effective key label.
func (c *PKCS11SignatureConfig) GetKeyLabel() string {
	if c.KeyLabel != "" {
		return c.KeyLabel
	}
	if c.KeyID == nil && c.CertLabel != "" {
		return c.CertLabel
	}
	return ""
}

// GetKeyID returns the effective key ID.
func (c *PKCS11SignatureConfig) GetKeyID() []byte {
	if c.KeyID != nil {
		return c.KeyID
	}
	if c.KeyLabel == "" && c.CertID != nil {
		return c.CertID
	}
	return nil
}

// GetCertLabel returns the effective cert label.
func (c *PKCS11SignatureConfig) GetCertLabel() string {
	if c.CertLabel != "" {
		return c.CertLabel
	}
	if c.CertID == nil && c.KeyLabel != "" {
		return c.KeyLabel
	}
	return ""
}

// GetCertID returns the effective cert ID.
func (c *PKCS11SignatureConfig) GetCertID() []byte {
	if c.CertID != nil {
		return c.CertID
	}
	if c.CertLabel == "" && c.KeyID != nil {
		return c.KeyID
	}
	return nil
}

// ProcessPKCS11ID converts a PKCS#11 ID value from string (hex) or int to bytes.
func ProcessPKCS11ID(value any) ([]byte, error) {
	switch v := value.(type) {
	case int:
		return []byte{byte(v)}, nil
	case int64:
		return []byte{byte(v)}, nil
	case string:
		return hex.DecodeString(strings.ReplaceAll(v, ":", ""))
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported PKCS#11 ID type: %T", value)
	}
}
