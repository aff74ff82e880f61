// Package config loads the application configuration (YAML), the PKCS#11
// token configuration and the signature stamp settings (JSON).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/imzaci/imzala/keys"
	"github.com/imzaci/imzala/sign/fields"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
)

// Signing scopes.
const (
	ScopeAllPages  = "all-pages"
	ScopeFirstPage = "first-page"
)

// Credential sources.
const (
	CredentialPKCS11 = "pkcs11"
	CredentialPemDer = "pemder"
	CredentialPKCS12 = "pkcs12"
)

// DefaultOutputDirName is the folder created next to the inputs for signed
// copies.
const DefaultOutputDirName = "imzalananlar"

// DefaultWorkers is the batch concurrency when none is configured.
const DefaultWorkers = 2

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// PKCS12SignatureConfig contains configuration for signing using a PKCS#12 file.
type PKCS12SignatureConfig struct {
	// PFXFile is the path to the PKCS#12 file.
	PFXFile string `yaml:"pfx-file" json:"pfx_file"`

	// OtherCertsFiles are paths to other certificate files.
	OtherCertsFiles []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// PFXPassphrase is the PKCS#12 passphrase.
	PFXPassphrase string `yaml:"pfx-passphrase" json:"pfx_passphrase,omitempty"`
}

// Validate validates the PKCS12 signature configuration.
func (c *PKCS12SignatureConfig) Validate() error {
	if c.PFXFile == "" {
		return &ConfigError{Field: "pfx-file", Message: "required field is missing", Err: ErrMissingRequiredField}
	}
	return nil
}

// Load reads the bundle and any extra certificates.
func (c *PKCS12SignatureConfig) Load() (*keys.Credential, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	cred, err := keys.LoadPKCS12(c.PFXFile, c.PFXPassphrase)
	if err != nil {
		return nil, err
	}
	extra, err := keys.LoadCertsFromPemDerFiles(c.OtherCertsFiles)
	if err != nil {
		return nil, fmt.Errorf("failed to load other certs: %w", err)
	}
	cred.Chain = append(cred.Chain, extra...)
	return cred, nil
}

// PemDerSignatureConfig contains configuration for signing using PEM/DER files.
type PemDerSignatureConfig struct {
	// KeyFile is the path to the private key file.
	KeyFile string `yaml:"key-file" json:"key_file"`

	// CertFile is the path to the certificate file.
	CertFile string `yaml:"cert-file" json:"cert_file"`

	// OtherCertsFiles are paths to other certificate files.
	OtherCertsFiles []string `yaml:"other-certs" json:"other_certs,omitempty"`

	// KeyPassphrase is the private key passphrase.
	KeyPassphrase string `yaml:"key-passphrase" json:"key_passphrase,omitempty"`
}

// Validate validates the PEM/DER signature configuration.
func (c *PemDerSignatureConfig) Validate() error {
	if c.KeyFile == "" {
		return &ConfigError{Field: "key-file", Message: "required field is missing", Err: ErrMissingRequiredField}
	}
	if c.CertFile == "" {
		return &ConfigError{Field: "cert-file", Message: "required field is missing", Err: ErrMissingRequiredField}
	}
	return nil
}

// Load loads the certificate and key from the configured files.
func (c *PemDerSignatureConfig) Load() (*keys.Credential, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	var passphrase []byte
	if c.KeyPassphrase != "" {
		passphrase = []byte(c.KeyPassphrase)
	}
	return keys.LoadPemDer(c.CertFile, c.KeyFile, passphrase, c.OtherCertsFiles...)
}

// SigningConfig holds the signing defaults used by the CLI and batch runs.
type SigningConfig struct {
	// Credential selects the signing credential: pkcs11, pemder or pkcs12.
	Credential string `yaml:"credential" json:"credential"`

	// ScratchDir holds per-run temporary files. Empty uses the OS temp dir.
	ScratchDir string `yaml:"scratch-dir" json:"scratch_dir,omitempty"`

	// Workers bounds concurrent documents in a batch.
	Workers int `yaml:"workers" json:"workers,omitempty"`

	// MultiSig stamps every page with the simplified stamp so later signers
	// can add their own widgets.
	MultiSig bool `yaml:"multi-sig" json:"multi_sig"`

	// Scope is all-pages or first-page.
	Scope string `yaml:"scope" json:"scope,omitempty"`

	Reason   string `yaml:"reason" json:"reason,omitempty"`
	Location string `yaml:"location" json:"location,omitempty"`
	Contact  string `yaml:"contact" json:"contact,omitempty"`

	// Permission certifies the first signature with a DocMDP policy.
	Permission fields.DocMDPPolicy `yaml:"permission" json:"permission,omitempty"`

	// LogoPath is the stamp logo. Empty signs without a stamp.
	LogoPath string `yaml:"logo-path" json:"logo_path,omitempty"`

	// SettingsFile is the signature settings JSON.
	SettingsFile string `yaml:"settings-file" json:"settings_file,omitempty"`

	// FontDirs are searched for stamp fonts before the system locations.
	FontDirs []string `yaml:"font-dirs" json:"font_dirs,omitempty"`

	// OutputDirName is created next to each input for signed copies.
	OutputDirName string `yaml:"output-dir-name" json:"output_dir_name,omitempty"`
}

// SetDefaults fills unset fields.
func (c *SigningConfig) SetDefaults() {
	if c.Credential == "" {
		c.Credential = CredentialPKCS11
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Scope == "" {
		c.Scope = ScopeAllPages
	}
	if c.OutputDirName == "" {
		c.OutputDirName = DefaultOutputDirName
	}
	if c.ScratchDir == "" {
		c.ScratchDir = filepath.Join(os.TempDir(), "imzala")
	}
}

// Validate checks enumerated values.
func (c *SigningConfig) Validate() error {
	switch c.Credential {
	case CredentialPKCS11, CredentialPemDer, CredentialPKCS12:
	default:
		return NewConfigError("credential", fmt.Sprintf("unknown credential source %q", c.Credential))
	}
	switch c.Scope {
	case ScopeAllPages, ScopeFirstPage:
	default:
		return NewConfigError("scope", fmt.Sprintf("must be %s or %s, got %q", ScopeAllPages, ScopeFirstPage, c.Scope))
	}
	if filepath.Base(c.OutputDirName) != c.OutputDirName {
		return NewConfigError("output-dir-name", "must be a plain directory name")
	}
	return nil
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level" json:"level,omitempty"`

	// Format is the log format (text, json).
	Format string `yaml:"format" json:"format,omitempty"`

	// Output is the log output (stdout, stderr, or file path).
	Output string `yaml:"output" json:"output,omitempty"`
}

// SetDefaults sets default values for logging configuration.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// AppConfig contains the complete application configuration.
type AppConfig struct {
	Logging *LoggingConfig         `yaml:"logging" json:"logging,omitempty"`
	Signing *SigningConfig         `yaml:"signing" json:"signing,omitempty"`
	PKCS11  *PKCS11SignatureConfig `yaml:"pkcs11" json:"pkcs11,omitempty"`
	PemDer  *PemDerSignatureConfig `yaml:"pemder" json:"pemder,omitempty"`
	PKCS12  *PKCS12SignatureConfig `yaml:"pkcs12" json:"pkcs12,omitempty"`
}

// DefaultAppConfig is used when no config file is given.
func DefaultAppConfig() *AppConfig {
	cfg := &AppConfig{}
	cfg.setDefaults()
	return cfg
}

func (c *AppConfig) setDefaults() {
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.SetDefaults()
	if c.Signing == nil {
		c.Signing = &SigningConfig{}
	}
	c.Signing.SetDefaults()
}

// Validate checks the selected credential section and the signing defaults.
func (c *AppConfig) Validate() error {
	if err := c.Signing.Validate(); err != nil {
		return err
	}
	switch c.Signing.Credential {
	case CredentialPKCS11:
		if c.PKCS11 == nil {
			return &ConfigError{Field: "pkcs11", Message: "section required for pkcs11 credential", Err: ErrMissingRequiredField}
		}
		return c.PKCS11.Validate()
	case CredentialPemDer:
		if c.PemDer == nil {
			return &ConfigError{Field: "pemder", Message: "section required for pemder credential", Err: ErrMissingRequiredField}
		}
		return c.PemDer.Validate()
	case CredentialPKCS12:
		if c.PKCS12 == nil {
			return &ConfigError{Field: "pkcs12", Message: "section required for pkcs12 credential", Err: ErrMissingRequiredField}
		}
		return c.PKCS12.Validate()
	}
	return nil
}

// LoadSoftwareCredential loads the pemder or pkcs12 credential.
func (c *AppConfig) LoadSoftwareCredential() (*keys.Credential, error) {
	switch c.Signing.Credential {
	case CredentialPemDer:
		return c.PemDer.Load()
	case CredentialPKCS12:
		return c.PKCS12.Load()
	}
	return nil, NewConfigError("credential", fmt.Sprintf("%q is not a software credential", c.Signing.Credential))
}

// LoadAppConfig loads the complete application configuration from a file.
func LoadAppConfig(filename string) (*AppConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseAppConfig(data)
}

// ParseAppConfig parses, defaults and validates YAML configuration.
func ParseAppConfig(data []byte) (*AppConfig, error) {
	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.setDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.PKCS11 != nil {
		if err := config.PKCS11.ProcessConfig(); err != nil {
			return nil, err
		}
	}
	return &config, nil
}
