package signers

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"testing"

	"github.com/miekg/pkcs11"

	"github.com/imzaci/imzala/config"
	"github.com/imzaci/imzala/sign/cms"
)

// fakeToken is a software token holding one RSA key and its certificate.
// It only knows CKM_RSA_PKCS and CKM_SHA256_RSA_PKCS; PSS is rejected the
// way tokens without PSS support reject it.
type fakeToken struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate

	class   []byte
	served  bool
	mech    uint
	signed  []uint
	signErr error
}

const (
	fakeKeyHandle  pkcs11.ObjectHandle = 1
	fakeCertHandle pkcs11.ObjectHandle = 2
)

func (f *fakeToken) FindObjectsInit(_ pkcs11.SessionHandle, temp []*pkcs11.Attribute) error {
	f.served = false
	for _, a := range temp {
		if a.Type == pkcs11.CKA_CLASS {
			f.class = a.Value
		}
	}
	return nil
}

func isClass(value []byte, class uint) bool {
	return bytes.Equal(value, pkcs11.NewAttribute(pkcs11.CKA_CLASS, class).Value)
}

func (f *fakeToken) FindObjects(pkcs11.SessionHandle, int) ([]pkcs11.ObjectHandle, bool, error) {
	if f.served {
		return nil, false, nil
	}
	f.served = true
	switch {
	case isClass(f.class, pkcs11.CKO_PRIVATE_KEY):
		return []pkcs11.ObjectHandle{fakeKeyHandle}, false, nil
	case isClass(f.class, pkcs11.CKO_CERTIFICATE):
		return []pkcs11.ObjectHandle{fakeCertHandle}, false, nil
	}
	return nil, false, nil
}

func (f *fakeToken) FindObjectsFinal(pkcs11.SessionHandle) error { return nil }

func (f *fakeToken) GetAttributeValue(_ pkcs11.SessionHandle, o pkcs11.ObjectHandle, _ []*pkcs11.Attribute) ([]*pkcs11.Attribute, error) {
	if o != fakeCertHandle {
		return nil, pkcs11.Error(pkcs11.CKR_ATTRIBUTE_TYPE_INVALID)
	}
	return []*pkcs11.Attribute{pkcs11.NewAttribute(pkcs11.CKA_VALUE, f.cert.Raw)}, nil
}

func (f *fakeToken) SignInit(_ pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error {
	if o != fakeKeyHandle {
		return pkcs11.Error(pkcs11.CKR_KEY_HANDLE_INVALID)
	}
	switch m[0].Mechanism {
	case pkcs11.CKM_RSA_PKCS, pkcs11.CKM_SHA256_RSA_PKCS:
		f.mech = m[0].Mechanism
		return nil
	}
	return pkcs11.Error(pkcs11.CKR_MECHANISM_INVALID)
}

func (f *fakeToken) Sign(_ pkcs11.SessionHandle, message []byte) ([]byte, error) {
	if f.signErr != nil {
		return nil, f.signErr
	}
	f.signed = append(f.signed, f.mech)
	if f.mech == pkcs11.CKM_RSA_PKCS {
		// message is a DigestInfo; hash 0 signs it as is.
		return rsa.SignPKCS1v15(rand.Reader, f.key, 0, message)
	}
	digest := sha256.Sum256(message)
	return rsa.SignPKCS1v15(rand.Reader, f.key, crypto.SHA256, digest[:])
}

func newFakeSigner(t *testing.T) (*PKCS11Signer, *fakeToken) {
	t.Helper()
	cert, key := generateTestCertAndKey(t)
	token := &fakeToken{key: key, cert: cert}
	signer := NewPKCS11Signer(&PKCS11Session{api: token}).WithCertLabel("imza")
	return signer, token
}

func TestPKCS11SignerLoadAndSign(t *testing.T) {
	signer, token := newFakeSigner(t)
	if err := signer.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if signer.GetCertificate().Subject.CommonName != "Test Signer" {
		t.Errorf("certificate = %v", signer.GetCertificate().Subject)
	}

	data := []byte("signed bytes")
	for _, mech := range []Mechanism{{Raw: true}, {}} {
		sig, err := signer.Sign(data, mech)
		if err != nil {
			t.Fatalf("Sign(%s): %v", mech, err)
		}
		if err := cms.VerifyCMSSignature(sig, data); err != nil {
			t.Errorf("Sign(%s) does not verify: %v", mech, err)
		}
	}
	want := []uint{pkcs11.CKM_RSA_PKCS, pkcs11.CKM_SHA256_RSA_PKCS}
	if len(token.signed) != 2 || token.signed[0] != want[0] || token.signed[1] != want[1] {
		t.Errorf("token mechanisms = %v, want %v", token.signed, want)
	}
}

func TestPKCS11SignerRejectedMechanism(t *testing.T) {
	signer, _ := newFakeSigner(t)
	_, err := signer.Sign([]byte("x"), Mechanism{Raw: true, PreferPSS: true})
	if !errors.Is(err, ErrMechanismUnsupported) {
		t.Errorf("PSS on a token without PSS: got %v, want ErrMechanismUnsupported", err)
	}
}

func TestPKCS11SignerTokenFailure(t *testing.T) {
	signer, token := newFakeSigner(t)
	token.signErr = pkcs11.Error(pkcs11.CKR_DEVICE_REMOVED)
	_, err := signer.Sign([]byte("x"), Mechanism{})
	if !errors.Is(err, ErrPKCS11SignFailed) || errors.Is(err, ErrMechanismUnsupported) {
		t.Errorf("device removal: got %v", err)
	}
}

func TestPKCS11SignerGetSignatureSize(t *testing.T) {
	signer, _ := newFakeSigner(t)
	if err := signer.Load(); err != nil {
		t.Fatal(err)
	}
	base := estimateSignatureSize(signer.GetCertificate(), nil)
	if got := signer.GetSignatureSize(); got != base+256 {
		t.Errorf("GetSignatureSize() = %d, want %d", got, base+256)
	}
}

func TestClassifyTokenError(t *testing.T) {
	tests := []struct {
		code        uint
		unsupported bool
	}{
		{pkcs11.CKR_MECHANISM_INVALID, true},
		{pkcs11.CKR_MECHANISM_PARAM_INVALID, true},
		{pkcs11.CKR_FUNCTION_NOT_SUPPORTED, true},
		{pkcs11.CKR_KEY_TYPE_INCONSISTENT, true},
		{pkcs11.CKR_DATA_LEN_RANGE, true},
		{pkcs11.CKR_PIN_EXPIRED, false},
		{pkcs11.CKR_DEVICE_ERROR, false},
	}
	for _, tt := range tests {
		err := classifyTokenError("Sign", pkcs11.Error(tt.code))
		if got := errors.Is(err, ErrMechanismUnsupported); got != tt.unsupported {
			t.Errorf("code %#x: unsupported = %v, want %v", tt.code, got, tt.unsupported)
		}
	}
	if errors.Is(classifyTokenError("Sign", errors.New("plain")), ErrMechanismUnsupported) {
		t.Error("non-token error classified as unsupported")
	}
}

func TestSelectSigningParams(t *testing.T) {
	tests := []struct {
		name      string
		keyAlg    x509.PublicKeyAlgorithm
		mech      Mechanism
		want      uint
		pre, post bool
	}{
		{"rsa raw pss", x509.RSA, Mechanism{Raw: true, PreferPSS: true}, pkcs11.CKM_RSA_PKCS_PSS, true, false},
		{"rsa pss", x509.RSA, Mechanism{PreferPSS: true}, pkcs11.CKM_SHA256_RSA_PKCS_PSS, false, false},
		{"rsa raw", x509.RSA, Mechanism{Raw: true}, pkcs11.CKM_RSA_PKCS, true, false},
		{"rsa", x509.RSA, Mechanism{}, pkcs11.CKM_SHA256_RSA_PKCS, false, false},
		{"ecdsa raw", x509.ECDSA, Mechanism{Raw: true, PreferPSS: true}, pkcs11.CKM_ECDSA, true, true},
		{"ecdsa", x509.ECDSA, Mechanism{}, pkcs11.CKM_ECDSA_SHA256, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := selectSigningParams(tt.keyAlg, crypto.SHA256, tt.mech)
			if err != nil {
				t.Fatal(err)
			}
			if spec.Mechanism.Mechanism != tt.want {
				t.Errorf("mechanism = %#x, want %#x", spec.Mechanism.Mechanism, tt.want)
			}
			if (spec.PreSignTransform != nil) != tt.pre || (spec.PostSignTransform != nil) != tt.post {
				t.Errorf("transforms pre=%v post=%v", spec.PreSignTransform != nil, spec.PostSignTransform != nil)
			}
		})
	}

	if _, err := selectSigningParams(x509.Ed25519, crypto.SHA256, Mechanism{}); !errors.Is(err, ErrMechanismUnsupported) {
		t.Errorf("ed25519: got %v", err)
	}
	if _, err := selectSigningParams(x509.RSA, crypto.SHA1, Mechanism{}); !errors.Is(err, ErrMechanismUnsupported) {
		t.Errorf("sha1: got %v", err)
	}
}

func TestHashFullyWithDigestInfo(t *testing.T) {
	data := []byte("attributes")
	got, err := hashFullyWithDigestInfo(crypto.SHA256)(data)
	if err != nil {
		t.Fatal(err)
	}
	var info struct {
		DigestAlgorithm cms.AlgorithmIdentifier
		Digest          []byte
	}
	if _, err := asn1.Unmarshal(got, &info); err != nil {
		t.Fatal(err)
	}
	want := sha256.Sum256(data)
	if !info.DigestAlgorithm.Algorithm.Equal(cms.OIDSHA256) || string(info.Digest) != string(want[:]) {
		t.Errorf("DigestInfo = %+v", info)
	}
	if _, err := wrapDigestInfo(crypto.MD5, want[:]); err == nil {
		t.Error("expected error for unknown digest")
	}
}

func TestEncodeECDSASignature(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	digest := sha256.Sum256([]byte("x"))
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		t.Fatal(err)
	}
	raw := make([]byte, 64)
	r.FillBytes(raw[:32])
	s.FillBytes(raw[32:])

	der, err := encodeECDSASignature(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !ecdsa.VerifyASN1(&key.PublicKey, digest[:], der) {
		t.Error("DER signature does not verify")
	}
	if _, err := encodeECDSASignature(raw[:63]); err == nil {
		t.Error("expected error for odd length")
	}
}

type fakeInfoSource map[uint]pkcs11.TokenInfo

func (f fakeInfoSource) GetTokenInfo(slot uint) (pkcs11.TokenInfo, error) {
	info, ok := f[slot]
	if !ok {
		return pkcs11.TokenInfo{}, pkcs11.Error(pkcs11.CKR_SLOT_ID_INVALID)
	}
	return info, nil
}

func TestFindToken(t *testing.T) {
	src := fakeInfoSource{
		3: {Label: "AKIS                            ", SerialNumber: "1111            "},
		7: {Label: "Backup", SerialNumber: "2222"},
	}
	slots := []uint{3, 7}
	one := 1

	tests := []struct {
		name     string
		slots    []uint
		slotNo   *int
		criteria *config.TokenCriteria
		want     uint
		wantErr  bool
	}{
		{"by label with padding", slots, nil, &config.TokenCriteria{Label: "AKIS"}, 3, false},
		{"by serial", slots, nil, &config.TokenCriteria{Serial: "2222"}, 7, false},
		{"by slot number", slots, &one, nil, 7, false},
		{"slot number mismatching criteria", slots, &one, &config.TokenCriteria{Label: "AKIS"}, 0, true},
		{"ambiguous", slots, nil, nil, 0, true},
		{"single token", []uint{7}, nil, nil, 7, false},
		{"no match", slots, nil, &config.TokenCriteria{Label: "Other"}, 0, true},
		{"no slots", nil, nil, nil, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindToken(src, tt.slots, tt.slotNo, tt.criteria)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("slot = %d, want %d", got, tt.want)
			}
		})
	}
}
