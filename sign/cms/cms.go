// Package cms builds and verifies the detached CMS SignedData blobs
// embedded in PDF signature dictionaries.
package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"sort"
	"time"

	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// OIDs for CMS and signature algorithms
var (
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

	OIDSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}

	OIDRSAEncryption   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSHA384WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSHA512WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDRSAPSS          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	OIDMGF1            = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 8}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDECDSAWithSHA512 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}

	OIDContentType          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest        = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDSigningTime          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
	OIDSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
)

// Common errors
var (
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrMissingCertificate   = errors.New("missing certificate")
)

// AlgorithmIdentifier represents an algorithm identifier.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// ContentInfo represents a CMS ContentInfo structure.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignedData represents a CMS SignedData structure.
type SignedData struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1"`
	SignerInfos      []SignerInfo    `asn1:"set"`
}

// EncapsulatedContentInfo represents encapsulated content.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignerInfo represents a signer's information. SID is always the
// IssuerAndSerialNumber alternative.
type SignerInfo struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        []Attribute `asn1:"optional,implicit,tag:0,set"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      []Attribute `asn1:"optional,implicit,tag:1,set"`
}

// signerInfoRaw keeps the signed attributes as encoded so verification
// hashes the exact bytes that were signed.
type signerInfoRaw struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

type signedDataRaw struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1"`
	SignerInfos      []asn1.RawValue `asn1:"set"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute represents a CMS attribute.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// SigningCertificateV2 represents the signing certificate attribute.
type SigningCertificateV2 struct {
	Certs []ESSCertIDv2
}

// ESSCertIDv2 represents a certificate identifier.
type ESSCertIDv2 struct {
	HashAlgorithm AlgorithmIdentifier `asn1:"optional"`
	CertHash      []byte
	IssuerSerial  IssuerSerial `asn1:"optional"`
}

// IssuerSerial identifies a certificate by issuer and serial.
type IssuerSerial struct {
	Issuer       GeneralNames
	SerialNumber *big.Int
}

// GeneralNames represents a sequence of GeneralName.
type GeneralNames struct {
	Names []asn1.RawValue
}

// SignatureAlgorithm represents a signature algorithm with its hash.
// PSS selects RSASSA-PSS with MGF1 over the same hash and a salt as long
// as the digest.
type SignatureAlgorithm struct {
	DigestAlgorithm    asn1.ObjectIdentifier
	SignatureAlgorithm asn1.ObjectIdentifier
	Hash               crypto.Hash
	PSS                bool
}

// Common signature algorithms
var (
	SHA256WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDSHA256WithRSA,
		Hash:               crypto.SHA256,
	}
	SHA384WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA384,
		SignatureAlgorithm: OIDSHA384WithRSA,
		Hash:               crypto.SHA384,
	}
	SHA512WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA512,
		SignatureAlgorithm: OIDSHA512WithRSA,
		Hash:               crypto.SHA512,
	}
	SHA256WithRSAPSS = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDRSAPSS,
		Hash:               crypto.SHA256,
		PSS:                true,
	}
	SHA256WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDECDSAWithSHA256,
		Hash:               crypto.SHA256,
	}
	SHA384WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA384,
		SignatureAlgorithm: OIDECDSAWithSHA384,
		Hash:               crypto.SHA384,
	}
)

// AlgorithmFor picks the SHA-256 based algorithm matching a public key.
// pss is honoured for RSA keys only.
func AlgorithmFor(pub crypto.PublicKey, pss bool) (SignatureAlgorithm, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		if pss {
			return SHA256WithRSAPSS, nil
		}
		return SHA256WithRSA, nil
	case *ecdsa.PublicKey:
		return SHA256WithECDSA, nil
	}
	return SignatureAlgorithm{}, fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, pub)
}

// SignFunc produces the signature value over the DER-encoded signed
// attributes. Implementations hash the input themselves, which lets
// tokens that only accept raw input receive a prepared digest.
type SignFunc func(signedAttrs []byte) ([]byte, error)

// KeySignFunc signs with a local key.
func KeySignFunc(key crypto.Signer, alg SignatureAlgorithm) SignFunc {
	return func(signedAttrs []byte) ([]byte, error) {
		h := newHash(alg.Hash)
		h.Write(signedAttrs)
		digest := h.Sum(nil)
		if alg.PSS {
			return key.Sign(rand.Reader, digest, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: alg.Hash})
		}
		return key.Sign(rand.Reader, digest, alg.Hash)
	}
}

// CMSBuilder builds CMS signed data structures.
type CMSBuilder struct {
	Certificate *x509.Certificate
	CertChain   []*x509.Certificate
	Algorithm   SignatureAlgorithm
	SigningTime time.Time
}

// NewCMSBuilder creates a new CMS builder.
func NewCMSBuilder(cert *x509.Certificate, alg SignatureAlgorithm) *CMSBuilder {
	return &CMSBuilder{
		Certificate: cert,
		Algorithm:   alg,
		SigningTime: time.Now().UTC(),
	}
}

// SetCertificateChain sets the certificate chain.
func (b *CMSBuilder) SetCertificateChain(chain []*x509.Certificate) {
	b.CertChain = chain
}

// SetSigningTime sets the signing time.
func (b *CMSBuilder) SetSigningTime(t time.Time) {
	b.SigningTime = t.UTC()
}

// SignedAttributes returns the signed attributes for data and their DER
// encoding as a SET, which is what gets signed.
func (b *CMSBuilder) SignedAttributes(data []byte) ([]Attribute, []byte, error) {
	h := newHash(b.Algorithm.Hash)
	h.Write(data)

	attrs, err := b.buildSignedAttributes(h.Sum(nil))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build signed attributes: %w", err)
	}
	attrs = derSortAttributes(attrs)

	der, err := asn1.Marshal(attrs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal signed attributes: %w", err)
	}
	der[0] = 0x31 // SET
	return attrs, der, nil
}

// Sign creates a detached CMS signature over data.
func (b *CMSBuilder) Sign(data []byte, sign SignFunc) ([]byte, error) {
	if b.Certificate == nil {
		return nil, ErrMissingCertificate
	}
	attrs, attrsDER, err := b.SignedAttributes(data)
	if err != nil {
		return nil, err
	}
	signature, err := sign(attrsDER)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sigAlg, err := b.signatureAlgorithmIdentifier()
	if err != nil {
		return nil, err
	}

	digestAlg := AlgorithmIdentifier{Algorithm: b.Algorithm.DigestAlgorithm, Parameters: asn1.NullRawValue}
	signedData := SignedData{
		Version:          1,
		DigestAlgorithms: []AlgorithmIdentifier{digestAlg},
		EncapContentInfo: EncapsulatedContentInfo{EContentType: OIDData},
		SignerInfos: []SignerInfo{{
			Version: 1,
			SID: IssuerAndSerialNumber{
				Issuer:       asn1.RawValue{FullBytes: b.Certificate.RawIssuer},
				SerialNumber: b.Certificate.SerialNumber,
			},
			DigestAlgorithm:    digestAlg,
			SignedAttrs:        attrs,
			SignatureAlgorithm: sigAlg,
			Signature:          signature,
		}},
	}
	signedData.Certificates = append(signedData.Certificates, asn1.RawValue{FullBytes: b.Certificate.Raw})
	for _, cert := range b.CertChain {
		if cert.Equal(b.Certificate) {
			continue
		}
		signedData.Certificates = append(signedData.Certificates, asn1.RawValue{FullBytes: cert.Raw})
	}

	signedDataBytes, err := asn1.Marshal(signedData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed data: %w", err)
	}
	return asn1.Marshal(ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: signedDataBytes},
	})
}

func (b *CMSBuilder) signatureAlgorithmIdentifier() (AlgorithmIdentifier, error) {
	oid := b.Algorithm.SignatureAlgorithm
	switch {
	case b.Algorithm.PSS:
		params, err := PSSParameters(b.Algorithm.Hash)
		if err != nil {
			return AlgorithmIdentifier{}, err
		}
		return AlgorithmIdentifier{Algorithm: OIDRSAPSS, Parameters: asn1.RawValue{FullBytes: params}}, nil
	case oid.Equal(OIDSHA256WithRSA), oid.Equal(OIDSHA384WithRSA), oid.Equal(OIDSHA512WithRSA):
		return AlgorithmIdentifier{Algorithm: oid, Parameters: asn1.NullRawValue}, nil
	}
	return AlgorithmIdentifier{Algorithm: oid}, nil
}

// PSSParameters encodes RSASSA-PSS-params for hash: the hash algorithm,
// MGF1 over the same hash, and a salt length equal to the digest size.
func PSSParameters(h crypto.Hash) ([]byte, error) {
	hashOID, err := digestOID(h)
	if err != nil {
		return nil, err
	}
	algID := func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
			b.AddASN1ObjectIdentifier(hashOID)
			b.AddASN1NULL()
		})
	}
	var b cryptobyte.Builder
	b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(cbasn1.Tag(0).ContextSpecific().Constructed(), algID)
		b.AddASN1(cbasn1.Tag(1).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1(cbasn1.SEQUENCE, func(b *cryptobyte.Builder) {
				b.AddASN1ObjectIdentifier(OIDMGF1)
				algID(b)
			})
		})
		b.AddASN1(cbasn1.Tag(2).ContextSpecific().Constructed(), func(b *cryptobyte.Builder) {
			b.AddASN1Int64(int64(h.Size()))
		})
	})
	return b.Bytes()
}

// pssSaltLength reads the salt length from RSASSA-PSS-params, defaulting
// to 20 when absent.
func pssSaltLength(params []byte) (int, error) {
	input := cryptobyte.String(params)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, cbasn1.SEQUENCE) {
		return 0, fmt.Errorf("%w: malformed PSS parameters", ErrInvalidSignature)
	}
	for _, tag := range []int{0, 1} {
		if !seq.SkipOptionalASN1(cbasn1.Tag(tag).ContextSpecific().Constructed()) {
			return 0, fmt.Errorf("%w: malformed PSS parameters", ErrInvalidSignature)
		}
	}
	var saltField cryptobyte.String
	var present bool
	if !seq.ReadOptionalASN1(&saltField, &present, cbasn1.Tag(2).ContextSpecific().Constructed()) {
		return 0, fmt.Errorf("%w: malformed PSS salt length", ErrInvalidSignature)
	}
	if !present {
		return 20, nil
	}
	var salt int
	if !saltField.ReadASN1Integer(&salt) {
		return 0, fmt.Errorf("%w: malformed PSS salt length", ErrInvalidSignature)
	}
	return salt, nil
}

func (b *CMSBuilder) buildSignedAttributes(messageDigest []byte) ([]Attribute, error) {
	contentType, err := asn1.Marshal(OIDData)
	if err != nil {
		return nil, err
	}
	digest, err := asn1.Marshal(messageDigest)
	if err != nil {
		return nil, err
	}
	signingTime, err := asn1.Marshal(b.SigningTime)
	if err != nil {
		return nil, err
	}

	h := newHash(b.Algorithm.Hash)
	h.Write(b.Certificate.Raw)
	signingCert, err := asn1.Marshal(SigningCertificateV2{
		Certs: []ESSCertIDv2{{
			HashAlgorithm: AlgorithmIdentifier{Algorithm: b.Algorithm.DigestAlgorithm, Parameters: asn1.NullRawValue},
			CertHash:      h.Sum(nil),
			IssuerSerial: IssuerSerial{
				Issuer: GeneralNames{Names: []asn1.RawValue{{
					Class:      asn1.ClassContextSpecific,
					Tag:        4, // directoryName
					IsCompound: true,
					Bytes:      b.Certificate.RawIssuer,
				}}},
				SerialNumber: b.Certificate.SerialNumber,
			},
		}},
	})
	if err != nil {
		return nil, err
	}

	return []Attribute{
		{Type: OIDContentType, Values: []asn1.RawValue{{FullBytes: contentType}}},
		{Type: OIDMessageDigest, Values: []asn1.RawValue{{FullBytes: digest}}},
		{Type: OIDSigningTime, Values: []asn1.RawValue{{FullBytes: signingTime}}},
		{Type: OIDSigningCertificateV2, Values: []asn1.RawValue{{FullBytes: signingCert}}},
	}, nil
}

// derSortAttributes orders attributes by their DER encoding, as SET OF
// requires.
func derSortAttributes(attrs []Attribute) []Attribute {
	type encoded struct {
		attr Attribute
		der  []byte
	}
	list := make([]encoded, len(attrs))
	for i, attr := range attrs {
		der, _ := asn1.Marshal(attr)
		list[i] = encoded{attr: attr, der: der}
	}
	sort.Slice(list, func(i, j int) bool { return bytes.Compare(list[i].der, list[j].der) < 0 })

	out := make([]Attribute, len(attrs))
	for i, e := range list {
		out[i] = e.attr
	}
	return out
}

func newHash(h crypto.Hash) hash.Hash {
	switch h {
	case crypto.SHA384:
		return sha512.New384()
	case crypto.SHA512:
		return sha512.New()
	default:
		return sha256.New()
	}
}

func digestOID(h crypto.Hash) (asn1.ObjectIdentifier, error) {
	switch h {
	case crypto.SHA256:
		return OIDSHA256, nil
	case crypto.SHA384:
		return OIDSHA384, nil
	case crypto.SHA512:
		return OIDSHA512, nil
	}
	return nil, fmt.Errorf("%w: hash %v", ErrUnsupportedAlgorithm, h)
}

func hashFromOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, nil
	}
	return 0, fmt.Errorf("%w: digest %v", ErrUnsupportedAlgorithm, oid)
}

// ParseCMSSignature parses a CMS signed data structure.
func ParseCMSSignature(data []byte) (*SignedData, error) {
	content, err := unwrapContentInfo(data)
	if err != nil {
		return nil, err
	}
	var signedData SignedData
	if _, err := asn1.Unmarshal(content, &signedData); err != nil {
		return nil, fmt.Errorf("failed to parse SignedData: %w", err)
	}
	return &signedData, nil
}

func unwrapContentInfo(data []byte) ([]byte, error) {
	var contentInfo ContentInfo
	if _, err := asn1.Unmarshal(data, &contentInfo); err != nil {
		return nil, fmt.Errorf("failed to parse ContentInfo: %w", err)
	}
	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("expected SignedData, got %v", contentInfo.ContentType)
	}
	return contentInfo.Content.Bytes, nil
}

// VerifyCMSSignature checks the first signer of cmsData against the
// detached signedContent. RSA PKCS#1 v1.5, RSASSA-PSS and ECDSA are
// supported.
func VerifyCMSSignature(cmsData, signedContent []byte) error {
	content, err := unwrapContentInfo(cmsData)
	if err != nil {
		return err
	}
	var sd signedDataRaw
	if _, err := asn1.Unmarshal(content, &sd); err != nil {
		return fmt.Errorf("failed to parse SignedData: %w", err)
	}
	if len(sd.SignerInfos) == 0 {
		return fmt.Errorf("%w: no signer infos", ErrInvalidSignature)
	}
	var si signerInfoRaw
	if _, err := asn1.Unmarshal(sd.SignerInfos[0].FullBytes, &si); err != nil {
		return fmt.Errorf("failed to parse SignerInfo: %w", err)
	}

	var signerCert *x509.Certificate
	for _, raw := range sd.Certificates {
		cert, err := x509.ParseCertificate(raw.FullBytes)
		if err != nil {
			continue
		}
		if si.SID.SerialNumber != nil && cert.SerialNumber.Cmp(si.SID.SerialNumber) == 0 &&
			bytes.Equal(cert.RawIssuer, si.SID.Issuer.FullBytes) {
			signerCert = cert
			break
		}
	}
	if signerCert == nil {
		return ErrMissingCertificate
	}

	hashType, err := hashFromOID(si.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}
	if len(si.SignedAttrs.FullBytes) == 0 {
		return fmt.Errorf("%w: no signed attributes", ErrInvalidSignature)
	}

	h := newHash(hashType)
	h.Write(signedContent)
	if err := checkMessageDigest(si.SignedAttrs.Bytes, h.Sum(nil)); err != nil {
		return err
	}

	// The signature covers the attributes re-tagged as a SET.
	attrsDER := append([]byte{0x31}, si.SignedAttrs.FullBytes[1:]...)
	h = newHash(hashType)
	h.Write(attrsDER)
	if err := verifySignature(signerCert.PublicKey, hashType, si.SignatureAlgorithm, h.Sum(nil), si.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func checkMessageDigest(attrs []byte, computed []byte) error {
	for rest := attrs; len(rest) > 0; {
		var attr Attribute
		var err error
		rest, err = asn1.Unmarshal(rest, &attr)
		if err != nil {
			return fmt.Errorf("failed to parse signed attribute: %w", err)
		}
		if !attr.Type.Equal(OIDMessageDigest) || len(attr.Values) == 0 {
			continue
		}
		var found []byte
		if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &found); err != nil {
			return fmt.Errorf("failed to parse message digest: %w", err)
		}
		if !bytes.Equal(found, computed) {
			return fmt.Errorf("%w: message digest mismatch", ErrInvalidSignature)
		}
		return nil
	}
	return fmt.Errorf("%w: message digest attribute not found", ErrInvalidSignature)
}

func verifySignature(pub crypto.PublicKey, hashType crypto.Hash, alg AlgorithmIdentifier, digest, sig []byte) error {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		if alg.Algorithm.Equal(OIDRSAPSS) {
			salt, err := pssSaltLength(alg.Parameters.FullBytes)
			if err != nil {
				return err
			}
			return rsa.VerifyPSS(key, hashType, digest, sig, &rsa.PSSOptions{SaltLength: salt, Hash: hashType})
		}
		return rsa.VerifyPKCS1v15(key, hashType, digest, sig)
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest, sig) {
			return errors.New("ecdsa verification failed")
		}
		return nil
	}
	return fmt.Errorf("%w: key type %T", ErrUnsupportedAlgorithm, pub)
}

// GetSignerCertificates extracts the certificates carried in CMS data.
func GetSignerCertificates(cmsData []byte) ([]*x509.Certificate, error) {
	signedData, err := ParseCMSSignature(cmsData)
	if err != nil {
		return nil, err
	}
	var certs []*x509.Certificate
	for _, raw := range signedData.Certificates {
		cert, err := x509.ParseCertificate(raw.FullBytes)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// GetSigningTime extracts the signing time attribute from CMS data.
func GetSigningTime(cmsData []byte) (time.Time, error) {
	signedData, err := ParseCMSSignature(cmsData)
	if err != nil {
		return time.Time{}, err
	}
	if len(signedData.SignerInfos) == 0 {
		return time.Time{}, fmt.Errorf("no signer infos")
	}
	for _, attr := range signedData.SignerInfos[0].SignedAttrs {
		if attr.Type.Equal(OIDSigningTime) && len(attr.Values) > 0 {
			var t time.Time
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &t); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("signing time not found")
}
