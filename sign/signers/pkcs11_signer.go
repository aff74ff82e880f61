package signers

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/imzaci/imzala/config"
	"github.com/imzaci/imzala/sign/cms"
)

// PKCS#11 related errors
var (
	ErrPKCS11ModuleLoad    = errors.New("failed to load PKCS#11 module")
	ErrPKCS11NoToken       = errors.New("no matching token found")
	ErrPKCS11NoKey         = errors.New("private key not found")
	ErrPKCS11NoCert        = errors.New("certificate not found")
	ErrPKCS11MultipleKeys  = errors.New("multiple private keys found")
	ErrPKCS11MultipleCerts = errors.New("multiple certificates found")
	ErrPKCS11SessionFailed = errors.New("failed to open PKCS#11 session")
	ErrPKCS11LoginFailed   = errors.New("PKCS#11 login failed")
	ErrPKCS11SignFailed    = errors.New("PKCS#11 signing failed")
)

// Token return codes meaning "this mechanism will not work here". The
// attempt ladder treats them as a cue to try the next mechanism.
var unsupportedReturnCodes = map[uint]bool{
	pkcs11.CKR_MECHANISM_INVALID:          true,
	pkcs11.CKR_MECHANISM_PARAM_INVALID:    true,
	pkcs11.CKR_FUNCTION_NOT_SUPPORTED:     true,
	pkcs11.CKR_KEY_TYPE_INCONSISTENT:      true,
	pkcs11.CKR_KEY_FUNCTION_NOT_PERMITTED: true,
	pkcs11.CKR_DATA_LEN_RANGE:             true,
}

// tokenAPI is the slice of the PKCS#11 API the signer uses. *pkcs11.Ctx
// satisfies it.
type tokenAPI interface {
	SignInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error
	Sign(sh pkcs11.SessionHandle, message []byte) ([]byte, error)
	FindObjectsInit(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) error
	FindObjects(sh pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error)
	FindObjectsFinal(sh pkcs11.SessionHandle) error
	GetAttributeValue(sh pkcs11.SessionHandle, o pkcs11.ObjectHandle, a []*pkcs11.Attribute) ([]*pkcs11.Attribute, error)
}

// PKCS11SignatureOperationSpec describes how to invoke a signature operation.
type PKCS11SignatureOperationSpec struct {
	Mechanism *pkcs11.Mechanism

	// PreSignTransform prepares the input, e.g. hashing for raw mechanisms.
	PreSignTransform func([]byte) ([]byte, error)

	// PostSignTransform converts the token output, e.g. r||s to DER.
	PostSignTransform func([]byte) ([]byte, error)
}

type hashMechanisms struct {
	rsa, rsaPSS, ecdsa, digest, mgf uint
}

var mechanismsByHash = map[crypto.Hash]hashMechanisms{
	crypto.SHA256: {pkcs11.CKM_SHA256_RSA_PKCS, pkcs11.CKM_SHA256_RSA_PKCS_PSS, pkcs11.CKM_ECDSA_SHA256, pkcs11.CKM_SHA256, pkcs11.CKG_MGF1_SHA256},
	crypto.SHA384: {pkcs11.CKM_SHA384_RSA_PKCS, pkcs11.CKM_SHA384_RSA_PKCS_PSS, pkcs11.CKM_ECDSA_SHA384, pkcs11.CKM_SHA384, pkcs11.CKG_MGF1_SHA384},
	crypto.SHA512: {pkcs11.CKM_SHA512_RSA_PKCS, pkcs11.CKM_SHA512_RSA_PKCS_PSS, pkcs11.CKM_ECDSA_SHA512, pkcs11.CKM_SHA512, pkcs11.CKG_MGF1_SHA512},
}

// PKCS11Session wraps a PKCS#11 session.
type PKCS11Session struct {
	ctx     *pkcs11.Ctx
	api     tokenAPI
	session pkcs11.SessionHandle
	slotID  uint
}

// Close closes the PKCS#11 session.
func (s *PKCS11Session) Close() error {
	if s.ctx == nil {
		return nil
	}
	err := s.ctx.CloseSession(s.session)
	s.ctx.Finalize()
	s.ctx.Destroy()
	s.ctx = nil
	return err
}

// PKCS11Signer implements Signer using a key held on a PKCS#11 token.
// The mechanism is chosen per call, so one loaded signer serves every
// rung of the attempt ladder.
type PKCS11Signer struct {
	session     *PKCS11Session
	keyHandle   pkcs11.ObjectHandle
	signingCert *x509.Certificate
	certChain   []*x509.Certificate
	hash        crypto.Hash

	certLabel string
	certID    []byte
	keyLabel  string
	keyID     []byte

	loaded bool
	mu     sync.Mutex
}

// NewPKCS11Signer creates a new PKCS#11 signer.
func NewPKCS11Signer(session *PKCS11Session) *PKCS11Signer {
	return &PKCS11Signer{session: session, hash: crypto.SHA256}
}

// WithCertLabel sets the certificate label.
func (s *PKCS11Signer) WithCertLabel(label string) *PKCS11Signer {
	s.certLabel = label
	return s
}

// WithCertID sets the certificate ID.
func (s *PKCS11Signer) WithCertID(id []byte) *PKCS11Signer {
	s.certID = id
	return s
}

// WithKeyLabel sets the key label.
func (s *PKCS11Signer) WithKeyLabel(label string) *PKCS11Signer {
	s.keyLabel = label
	return s
}

// WithKeyID sets the key ID.
func (s *PKCS11Signer) WithKeyID(id []byte) *PKCS11Signer {
	s.keyID = id
	return s
}

// WithSigningCertificate sets a pre-loaded signing certificate.
func (s *PKCS11Signer) WithSigningCertificate(cert *x509.Certificate) *PKCS11Signer {
	s.signingCert = cert
	return s
}

// WithCertificateChain sets the certificate chain.
func (s *PKCS11Signer) WithCertificateChain(chain []*x509.Certificate) *PKCS11Signer {
	s.certChain = chain
	return s
}

// Load locates the key and certificate on the token. Missing identifiers
// default to each other: a key is looked up by the certificate's label or
// ID and vice versa.
func (s *PKCS11Signer) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	keyLabel, keyID := s.keyLabel, s.keyID
	certLabel, certID := s.certLabel, s.certID
	if keyLabel == "" && keyID == nil {
		keyLabel, keyID = certLabel, certID
	}
	if certLabel == "" && certID == nil {
		certLabel, certID = keyLabel, keyID
	}

	if s.signingCert == nil {
		cert, err := s.pullCertificate(certLabel, certID)
		if err != nil {
			return fmt.Errorf("failed to load certificate: %w", err)
		}
		s.signingCert = cert
	}
	handle, err := s.findOne(privateKeyTemplate(keyLabel, keyID), ErrPKCS11NoKey, ErrPKCS11MultipleKeys)
	if err != nil {
		return fmt.Errorf("failed to load key: %w", err)
	}
	s.keyHandle = handle
	s.loaded = true
	return nil
}

func privateKeyTemplate(label string, id []byte) []*pkcs11.Attribute {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
	}
	return withIdentifiers(template, label, id)
}

func certificateTemplate(label string, id []byte) []*pkcs11.Attribute {
	template := []*pkcs11.Attribute{pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE)}
	return withIdentifiers(template, label, id)
}

func withIdentifiers(template []*pkcs11.Attribute, label string, id []byte) []*pkcs11.Attribute {
	if label != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	}
	if id != nil {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, id))
	}
	return template
}

func (s *PKCS11Signer) findObjects(template []*pkcs11.Attribute, max int) ([]pkcs11.ObjectHandle, error) {
	api, sh := s.session.api, s.session.session
	if err := api.FindObjectsInit(sh, template); err != nil {
		return nil, fmt.Errorf("FindObjectsInit failed: %w", err)
	}
	defer api.FindObjectsFinal(sh)

	var all []pkcs11.ObjectHandle
	for len(all) < max {
		objs, _, err := api.FindObjects(sh, 10)
		if err != nil {
			return nil, fmt.Errorf("FindObjects failed: %w", err)
		}
		if len(objs) == 0 {
			break
		}
		all = append(all, objs...)
	}
	return all, nil
}

func (s *PKCS11Signer) findOne(template []*pkcs11.Attribute, none, many error) (pkcs11.ObjectHandle, error) {
	objs, err := s.findObjects(template, 2)
	if err != nil {
		return 0, err
	}
	switch len(objs) {
	case 0:
		return 0, none
	case 1:
		return objs[0], nil
	}
	return 0, many
}

func (s *PKCS11Signer) readCertificate(obj pkcs11.ObjectHandle) (*x509.Certificate, error) {
	attrs, err := s.session.api.GetAttributeValue(s.session.session, obj, []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("GetAttributeValue failed: %w", err)
	}
	if len(attrs) == 0 || len(attrs[0].Value) == 0 {
		return nil, errors.New("certificate has no value")
	}
	return x509.ParseCertificate(attrs[0].Value)
}

func (s *PKCS11Signer) pullCertificate(label string, id []byte) (*x509.Certificate, error) {
	obj, err := s.findOne(certificateTemplate(label, id), ErrPKCS11NoCert, ErrPKCS11MultipleCerts)
	if err != nil {
		return nil, fmt.Errorf("%w: label=%q, id=%s", err, label, hex.EncodeToString(id))
	}
	return s.readCertificate(obj)
}

// PullAllCertificates fetches every readable certificate from the token.
func (s *PKCS11Signer) PullAllCertificates() ([]*x509.Certificate, error) {
	objs, err := s.findObjects(certificateTemplate("", nil), 256)
	if err != nil {
		return nil, err
	}
	var certs []*x509.Certificate
	for _, obj := range objs {
		cert, err := s.readCertificate(obj)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// Sign implements Signer.
func (s *PKCS11Signer) Sign(data []byte, mech Mechanism) ([]byte, error) {
	if err := s.Load(); err != nil {
		return nil, err
	}
	keyAlg := s.signingCert.PublicKeyAlgorithm
	spec, err := selectSigningParams(keyAlg, s.hash, mech)
	if err != nil {
		return nil, err
	}
	alg, err := cms.AlgorithmFor(s.signingCert.PublicKey, mech.PreferPSS && keyAlg == x509.RSA)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMechanismUnsupported, err)
	}

	builder := cms.NewCMSBuilder(s.signingCert, alg)
	builder.SetCertificateChain(s.certChain)
	return builder.Sign(data, func(attrs []byte) ([]byte, error) {
		return s.signRaw(spec, attrs)
	})
}

func (s *PKCS11Signer) signRaw(spec *PKCS11SignatureOperationSpec, data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if spec.PreSignTransform != nil {
		if data, err = spec.PreSignTransform(data); err != nil {
			return nil, fmt.Errorf("pre-sign transform failed: %w", err)
		}
	}
	api, sh := s.session.api, s.session.session
	if err := api.SignInit(sh, []*pkcs11.Mechanism{spec.Mechanism}, s.keyHandle); err != nil {
		return nil, classifyTokenError("SignInit", err)
	}
	signature, err := api.Sign(sh, data)
	if err != nil {
		return nil, classifyTokenError("Sign", err)
	}
	if spec.PostSignTransform != nil {
		if signature, err = spec.PostSignTransform(signature); err != nil {
			return nil, fmt.Errorf("post-sign transform failed: %w", err)
		}
	}
	return signature, nil
}

// classifyTokenError maps return codes that reject the mechanism onto
// ErrMechanismUnsupported.
func classifyTokenError(op string, err error) error {
	var code pkcs11.Error
	if errors.As(err, &code) && unsupportedReturnCodes[uint(code)] {
		return fmt.Errorf("%w: %s: %v", ErrMechanismUnsupported, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrPKCS11SignFailed, op, err)
}

// selectSigningParams picks the token mechanism for a key algorithm, hash
// and requested Mechanism. PSS is honoured for RSA keys only.
func selectSigningParams(keyAlg x509.PublicKeyAlgorithm, h crypto.Hash, mech Mechanism) (*PKCS11SignatureOperationSpec, error) {
	mechs, ok := mechanismsByHash[h]
	if !ok {
		return nil, fmt.Errorf("%w: hash %v", ErrMechanismUnsupported, h)
	}
	switch keyAlg {
	case x509.RSA:
		if mech.PreferPSS {
			params := pkcs11.NewPSSParams(mechs.digest, mechs.mgf, uint(h.Size()))
			if mech.Raw {
				return &PKCS11SignatureOperationSpec{
					Mechanism:        pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_PSS, params),
					PreSignTransform: hashFully(h),
				}, nil
			}
			return &PKCS11SignatureOperationSpec{Mechanism: pkcs11.NewMechanism(mechs.rsaPSS, params)}, nil
		}
		if mech.Raw {
			return &PKCS11SignatureOperationSpec{
				Mechanism:        pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil),
				PreSignTransform: hashFullyWithDigestInfo(h),
			}, nil
		}
		return &PKCS11SignatureOperationSpec{Mechanism: pkcs11.NewMechanism(mechs.rsa, nil)}, nil
	case x509.ECDSA:
		spec := &PKCS11SignatureOperationSpec{
			Mechanism:         pkcs11.NewMechanism(mechs.ecdsa, nil),
			PostSignTransform: encodeECDSASignature,
		}
		if mech.Raw {
			spec.Mechanism = pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)
			spec.PreSignTransform = hashFully(h)
		}
		return spec, nil
	}
	return nil, fmt.Errorf("%w: key algorithm %v", ErrMechanismUnsupported, keyAlg)
}

// GetCertificate implements Signer.
func (s *PKCS11Signer) GetCertificate() *x509.Certificate {
	return s.signingCert
}

// GetCertificateChain implements Signer.
func (s *PKCS11Signer) GetCertificateChain() []*x509.Certificate {
	return s.certChain
}

// GetSignatureSize implements Signer.
func (s *PKCS11Signer) GetSignatureSize() int {
	size := estimateSignatureSize(s.signingCert, s.certChain)
	if s.signingCert == nil {
		return size
	}
	switch key := s.signingCert.PublicKey.(type) {
	case *rsa.PublicKey:
		size += key.Size()
	case *ecdsa.PublicKey:
		size += key.Curve.Params().BitSize/4 + 10
	}
	return size
}

func hashFully(h crypto.Hash) func([]byte) ([]byte, error) {
	return func(data []byte) ([]byte, error) {
		if !h.Available() {
			return nil, fmt.Errorf("digest %v unavailable", h)
		}
		hasher := h.New()
		hasher.Write(data)
		return hasher.Sum(nil), nil
	}
}

func hashFullyWithDigestInfo(h crypto.Hash) func([]byte) ([]byte, error) {
	return func(data []byte) ([]byte, error) {
		digest, err := hashFully(h)(data)
		if err != nil {
			return nil, err
		}
		return wrapDigestInfo(h, digest)
	}
}

// wrapDigestInfo wraps a digest in a PKCS#1 DigestInfo structure.
func wrapDigestInfo(h crypto.Hash, digest []byte) ([]byte, error) {
	var oid asn1.ObjectIdentifier
	switch h {
	case crypto.SHA256:
		oid = cms.OIDSHA256
	case crypto.SHA384:
		oid = cms.OIDSHA384
	case crypto.SHA512:
		oid = cms.OIDSHA512
	default:
		return nil, fmt.Errorf("unknown digest algorithm: %v", h)
	}
	type digestInfo struct {
		DigestAlgorithm cms.AlgorithmIdentifier
		Digest          []byte
	}
	return asn1.Marshal(digestInfo{
		DigestAlgorithm: cms.AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue},
		Digest:          digest,
	})
}

// encodeECDSASignature encodes an ECDSA signature (r||s) to DER.
func encodeECDSASignature(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("invalid ECDSA signature length: %d", len(raw))
	}
	half := len(raw) / 2
	return asn1.Marshal(struct{ R, S *big.Int }{
		R: new(big.Int).SetBytes(raw[:half]),
		S: new(big.Int).SetBytes(raw[half:]),
	})
}

// OpenPKCS11Session loads the module, selects the token by slot number or
// criteria, opens a session and logs in when a PIN is given.
func OpenPKCS11Session(modulePath string, slotNo *int, criteria *config.TokenCriteria, userPIN string) (*PKCS11Session, error) {
	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, fmt.Errorf("%w: %s", ErrPKCS11ModuleLoad, modulePath)
	}
	fail := func(err error) (*PKCS11Session, error) {
		ctx.Finalize()
		ctx.Destroy()
		return nil, err
	}
	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("PKCS#11 initialize failed: %w", err)
	}
	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return fail(fmt.Errorf("failed to get slots: %w", err))
	}
	slot, err := FindToken(ctx, slots, slotNo, criteria)
	if err != nil {
		return fail(err)
	}
	session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrPKCS11SessionFailed, err))
	}
	if userPIN != "" {
		if err := ctx.Login(session, pkcs11.CKU_USER, userPIN); err != nil {
			ctx.CloseSession(session)
			return fail(fmt.Errorf("%w: %v", ErrPKCS11LoginFailed, err))
		}
	}
	return &PKCS11Session{ctx: ctx, api: ctx, session: session, slotID: slot}, nil
}

type tokenInfoSource interface {
	GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error)
}

// FindToken picks the slot by number or by matching token criteria. With
// neither, exactly one token must be present.
func FindToken(ctx tokenInfoSource, slots []uint, slotNo *int, criteria *config.TokenCriteria) (uint, error) {
	if len(slots) == 0 {
		return 0, fmt.Errorf("%w: no slots with tokens available", ErrPKCS11NoToken)
	}
	if slotNo != nil {
		if *slotNo < 0 || *slotNo >= len(slots) {
			return 0, fmt.Errorf("slot %d not found (only %d slots available)", *slotNo, len(slots))
		}
		slot := slots[*slotNo]
		if !criteria.IsEmpty() {
			info, err := ctx.GetTokenInfo(slot)
			if err != nil {
				return 0, fmt.Errorf("failed to get token info: %w", err)
			}
			if !tokenMatchesCriteria(info, criteria) {
				return 0, fmt.Errorf("%w: token in slot %d does not match %s", ErrPKCS11NoToken, *slotNo, criteria)
			}
		}
		return slot, nil
	}
	if criteria.IsEmpty() {
		if len(slots) > 1 {
			return 0, errors.New("multiple tokens available; specify slot number or token criteria")
		}
		return slots[0], nil
	}
	for _, slot := range slots {
		info, err := ctx.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if tokenMatchesCriteria(info, criteria) {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%w: no token matching %s", ErrPKCS11NoToken, criteria)
}

func tokenMatchesCriteria(info pkcs11.TokenInfo, criteria *config.TokenCriteria) bool {
	if criteria.IsEmpty() {
		return true
	}
	// Token strings are space padded.
	if criteria.Label != "" && strings.TrimRight(info.Label, " ") != criteria.Label {
		return false
	}
	if criteria.Serial != "" && strings.TrimRight(info.SerialNumber, " ") != criteria.Serial {
		return false
	}
	return true
}

// PKCS11SigningContext opens a session and signer from configuration and
// closes them together.
type PKCS11SigningContext struct {
	Config  *config.PKCS11SignatureConfig
	UserPIN string
	session *PKCS11Session
}

// NewPKCS11SigningContext creates a new PKCS#11 signing context.
func NewPKCS11SigningContext(cfg *config.PKCS11SignatureConfig) *PKCS11SigningContext {
	return &PKCS11SigningContext{Config: cfg}
}

// WithUserPIN overrides the configured PIN.
func (c *PKCS11SigningContext) WithUserPIN(pin string) *PKCS11SigningContext {
	c.UserPIN = pin
	return c
}

// Open opens the PKCS#11 session and loads the signer.
func (c *PKCS11SigningContext) Open() (*PKCS11Signer, error) {
	pin := c.UserPIN
	if pin == "" {
		pin = c.Config.UserPIN
	}
	session, err := OpenPKCS11Session(c.Config.ModulePath, c.Config.SlotNo, c.Config.TokenCriteria, pin)
	if err != nil {
		return nil, err
	}
	c.session = session

	signer := NewPKCS11Signer(session).
		WithCertLabel(c.Config.GetCertLabel()).
		WithCertID(c.Config.GetCertID()).
		WithKeyLabel(c.Config.GetKeyLabel()).
		WithKeyID(c.Config.GetKeyID())
	if c.Config.SigningCertificate != nil {
		signer.WithSigningCertificate(c.Config.SigningCertificate)
	}
	if err := signer.Load(); err != nil {
		session.Close()
		return nil, err
	}

	chain := append([]*x509.Certificate(nil), c.Config.OtherCerts...)
	if c.Config.PullAllCerts {
		if certs, err := signer.PullAllCertificates(); err == nil {
			for _, cert := range certs {
				if !cert.Equal(signer.signingCert) {
					chain = append(chain, cert)
				}
			}
		}
	}
	signer.WithCertificateChain(chain)
	return signer, nil
}

// Close closes the PKCS#11 session.
func (c *PKCS11SigningContext) Close() error {
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

var _ Signer = (*PKCS11Signer)(nil)
