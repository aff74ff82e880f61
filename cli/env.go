package cli

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/imzaci/imzala/config"
	"github.com/imzaci/imzala/logging"
	"github.com/imzaci/imzala/pipeline"
	"github.com/imzaci/imzala/sign/fields"
	"github.com/imzaci/imzala/sign/signers"
	"github.com/imzaci/imzala/stamp"
)

// staleAfter is how old a leftover scratch run must be before it is removed.
const staleAfter = 24 * time.Hour

// CommonOptions are the flags shared by sign and batch.
type CommonOptions struct {
	ConfigFile   string
	SettingsFile string
	LogoPath     string
	PIN          string
	Reason       string
	Location     string
	Contact      string
	Permission   string
	Scope        string
	MultiSig     bool
	LogLevel     string
}

func (o *CommonOptions) register(fs *flag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", "", "Application configuration file (YAML)")
	fs.StringVar(&o.SettingsFile, "settings", "", "Signature settings file (JSON), overrides the configured one")
	fs.StringVar(&o.LogoPath, "logo", "", "Stamp logo image, overrides the configured one")
	fs.StringVar(&o.PIN, "pin", "", "Token user PIN; prompted for when the token needs one and none is configured")
	fs.StringVar(&o.Reason, "reason", "", "Reason for signing")
	fs.StringVar(&o.Location, "location", "", "Location of the signatory")
	fs.StringVar(&o.Contact, "contact", "", "Contact information for the signatory")
	fs.StringVar(&o.Permission, "permission", "", "Certify unsigned documents: signing_only, form_fill or annotations")
	fs.StringVar(&o.Scope, "scope", "", "Pages stamped in content: all-pages or first-page")
	fs.BoolVar(&o.MultiSig, "multi-sig", false, "Prepare unsigned documents for several signers")
	fs.StringVar(&o.LogLevel, "log-level", "", "Log level: debug, info, warn or error")
}

// environment is the loaded configuration with everything built from it.
type environment struct {
	cfg      *config.AppConfig
	log      *zap.Logger
	spec     stamp.PlacementSpec
	template pipeline.Request
}

func loadEnvironment(opts *CommonOptions) (*environment, error) {
	cfg := config.DefaultAppConfig()
	if opts.ConfigFile != "" {
		var err error
		if cfg, err = config.LoadAppConfig(opts.ConfigFile); err != nil {
			return nil, err
		}
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	log, err := logging.New(*cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	sc := cfg.Signing
	settingsFile := sc.SettingsFile
	if opts.SettingsFile != "" {
		settingsFile = opts.SettingsFile
	}
	spec, err := config.LoadSignatureSettings(settingsFile)
	if err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	env := &environment{cfg: cfg, log: log, spec: spec}
	t := pipeline.Request{
		Settings:    spec,
		LogoPath:    pick(opts.LogoPath, sc.LogoPath),
		MultiSig:    opts.MultiSig || sc.MultiSig,
		Scope:       pipeline.Scope(pick(opts.Scope, sc.Scope)),
		Reason:      pick(opts.Reason, sc.Reason),
		Location:    pick(opts.Location, sc.Location),
		ContactInfo: pick(opts.Contact, sc.Contact),
		Permission:  sc.Permission,
	}
	switch t.Scope {
	case pipeline.ScopeAllPages, pipeline.ScopeFirstPage:
	default:
		return nil, config.NewConfigError("scope", fmt.Sprintf("unknown scope %q", t.Scope))
	}
	if opts.Permission != "" {
		if t.Permission, err = fields.ParseDocMDPPolicy(opts.Permission); err != nil {
			return nil, err
		}
	}
	env.template = t
	return env, nil
}

func pick(flagValue, configured string) string {
	if flagValue != "" {
		return flagValue
	}
	return configured
}

// openSigner loads the configured credential. The returned close function
// is never nil.
func (e *environment) openSigner(pin string) (signers.Signer, []signers.Mechanism, func() error, error) {
	noop := func() error { return nil }
	if e.cfg.Signing.Credential != config.CredentialPKCS11 {
		cred, err := e.cfg.LoadSoftwareCredential()
		if err != nil {
			return nil, nil, noop, err
		}
		s := signers.NewSimpleSigner(cred.Certificate, cred.PrivateKey)
		s.SetCertificateChain(cred.Chain)
		return s, nil, noop, nil
	}

	p11 := e.cfg.PKCS11
	if p11 == nil {
		return nil, nil, noop, &config.ConfigError{Field: "pkcs11", Message: "section required for pkcs11 credential", Err: config.ErrMissingRequiredField}
	}
	if pin == "" && p11.UserPIN == "" {
		var err error
		if pin, err = promptPIN(); err != nil {
			return nil, nil, noop, err
		}
	}
	sc := signers.NewPKCS11SigningContext(p11).WithUserPIN(pin)
	signer, err := sc.Open()
	if err != nil {
		return nil, nil, noop, err
	}
	attempts := signers.FilterAttempts(signers.DefaultAttempts, p11.PreferPSS, p11.RawMechanism)
	e.log.Info("token opened",
		zap.String("signer", signer.GetCertificate().Subject.CommonName),
		zap.Int("mechanisms", len(attempts)))
	return signers.NewSerialized(signer), attempts, sc.Close, nil
}

func promptPIN() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", config.NewConfigError("user-pin", "no PIN configured and stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "PIN: ")
	pin, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read PIN: %w", err)
	}
	return string(pin), nil
}

// newPipeline creates the pipeline and its scratch run, first clearing
// runs left behind by earlier processes.
func (e *environment) newPipeline(attempts []signers.Mechanism) (*pipeline.Pipeline, *pipeline.Scratch, error) {
	root := e.cfg.Signing.ScratchDir
	if n, err := pipeline.CleanStale(root, time.Now().Add(-staleAfter)); err != nil {
		e.log.Warn("could not clear stale scratch runs", zap.String("dir", root), zap.Error(err))
	} else if n > 0 {
		e.log.Info("cleared stale scratch runs", zap.String("dir", root), zap.Int("count", n))
	}
	scratch, err := pipeline.NewScratch(root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	p := pipeline.New(pipeline.Options{
		Composer: stamp.NewComposer(composerDirs(e.cfg.Signing.FontDirs), e.log),
		Scratch:  scratch,
		Attempts: attempts,
		Log:      e.log,
	})
	return p, scratch, nil
}

// composerDirs puts configured font directories ahead of the system ones.
func composerDirs(extra []string) []string {
	if len(extra) == 0 {
		return nil
	}
	return append(append([]string(nil), extra...), stamp.DefaultFontDirs()...)
}

// request fills the per-document fields of the template.
func (e *environment) request(input, output string, signer signers.Signer) pipeline.Request {
	req := e.template
	req.InputPath = input
	req.OutputPath = output
	if output == "" {
		req.OutputPath = pipeline.OutputPathFor(input, e.cfg.Signing.OutputDirName)
	}
	req.Signer = signer
	return req
}
