package signers

import (
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/imzaci/imzala/pdf/content"
	"github.com/imzaci/imzala/pdf/generic"
	"github.com/imzaci/imzala/pdf/images"
	"github.com/imzaci/imzala/pdf/reader"
	"github.com/imzaci/imzala/pdf/writer"
	"github.com/imzaci/imzala/sign/fields"
)

// SignatureMetadata contains metadata for the signature.
type SignatureMetadata struct {
	FieldName   string
	Reason      string
	Location    string
	ContactInfo string
	// Name defaults to the signing certificate's common name.
	Name      string
	SubFilter string // e.g., "adbe.pkcs7.detached"
	// Permission certifies the document when it carries no signature yet.
	Permission fields.DocMDPPolicy
}

// NewSignatureMetadata creates new signature metadata.
func NewSignatureMetadata(fieldName string) *SignatureMetadata {
	return &SignatureMetadata{
		FieldName: fieldName,
		SubFilter: "adbe.pkcs7.detached",
	}
}

// Appearance is the visible stamp of a signature widget. The image is
// drawn through Matrix, given in page space; Rect is the widget rectangle.
type Appearance struct {
	Image *images.PDFImage
	// ImageRef reuses an image XObject already added to the update.
	ImageRef *generic.Reference
	Matrix   content.Matrix
	Rect     *generic.Rectangle
}

// PdfSigner signs PDF documents with an incremental update.
type PdfSigner struct {
	Signer     Signer
	Metadata   *SignatureMetadata
	PageNumber int
	// Appearance is nil for an invisible signature.
	Appearance *Appearance
	Clock      clockwork.Clock
}

// NewPdfSigner creates a new PDF signer.
func NewPdfSigner(signer Signer, metadata *SignatureMetadata) *PdfSigner {
	return &PdfSigner{
		Signer:   signer,
		Metadata: metadata,
		Clock:    clockwork.NewRealClock(),
	}
}

// SetSignatureAppearance sets the visible signature appearance.
func (p *PdfSigner) SetSignatureAppearance(page int, appearance *Appearance) {
	p.PageNumber = page
	p.Appearance = appearance
}

// SignPdf signs the document read by r with mechanism mech.
func (p *PdfSigner) SignPdf(r *reader.PdfFileReader, mech Mechanism) ([]byte, error) {
	return p.Sign(writer.NewIncrementalPdfFileWriter(r), mech)
}

// Sign adds the signature field to w, lays the update out and embeds the
// signature. Objects already registered with w, such as stamped page
// contents, are written in the same revision.
func (p *PdfSigner) Sign(w *writer.IncrementalPdfFileWriter, mech Mechanism) ([]byte, error) {
	if p.Signer == nil {
		return nil, ErrSignerRequired
	}
	if _, err := p.Prepare(w); err != nil {
		return nil, err
	}
	sigInfo, err := w.WriteWithSignature()
	if err != nil {
		return nil, fmt.Errorf("failed to write PDF with placeholder: %w", err)
	}
	signature, err := p.Signer.Sign(sigInfo.DataToSign(), mech)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	if err := sigInfo.Embed(signature); err != nil {
		return nil, err
	}
	return sigInfo.Data, nil
}

// Prepare registers the signature dictionary, the field widget and, when
// requested, the DocMDP certification with w.
func (p *PdfSigner) Prepare(w *writer.IncrementalPdfFileWriter) (*writer.SignaturePlaceholder, error) {
	spec := fields.SigFieldSpec{Name: p.Metadata.FieldName, PageIndex: p.PageNumber}
	if p.Appearance != nil {
		spec.Box = fields.BoxFromRect(p.Appearance.Rect)
	}
	if err := spec.Validate(w.Reader.FieldNames()); err != nil {
		return nil, err
	}

	page, pageRef, err := w.Page(p.PageNumber)
	if err != nil {
		return nil, fmt.Errorf("signature page: %w", err)
	}

	sigDict := p.signatureDictionary()
	certify := p.Metadata.Permission != fields.PolicyNone && !w.Reader.HasSignatures()
	if certify {
		sigDict.Set("Reference", p.Metadata.Permission.SignatureReference())
	}
	placeholder := w.AddSignaturePlaceholder(sigDict, p.Signer.GetSignatureSize())

	widget, err := fields.CreateSignatureField(spec, placeholder.Ref, pageRef)
	if err != nil {
		return nil, err
	}
	if !spec.Invisible() {
		ap, err := p.appearanceStream(w)
		if err != nil {
			return nil, err
		}
		normal := generic.NewDictionary()
		normal.Set("N", w.AddObject(ap))
		widget.Set("AP", normal)
	}
	widgetRef := w.AddObject(widget)

	if err := appendToArray(w, page, "Annots", widgetRef); err != nil {
		return nil, fmt.Errorf("page annotations: %w", err)
	}
	form, err := w.AcroForm()
	if err != nil {
		return nil, err
	}
	if err := appendToArray(w, form, "Fields", widgetRef); err != nil {
		return nil, fmt.Errorf("form fields: %w", err)
	}
	fields.EnsureSigFlags(form, fields.SigFlagSignaturesExist|fields.SigFlagAppendOnly)

	if certify {
		root, err := w.Root()
		if err != nil {
			return nil, err
		}
		perms := generic.NewDictionary()
		perms.Set("DocMDP", placeholder.Ref)
		root.Set("Perms", perms)
	}
	return placeholder, nil
}

func (p *PdfSigner) signatureDictionary() *generic.DictionaryObject {
	m := p.Metadata
	d := generic.NewDictionary()
	d.Set("Type", generic.NameObject("Sig"))
	d.Set("Filter", generic.NameObject("Adobe.PPKLite"))
	subFilter := m.SubFilter
	if subFilter == "" {
		subFilter = "adbe.pkcs7.detached"
	}
	d.Set("SubFilter", generic.NameObject(subFilter))

	name := m.Name
	if name == "" {
		if cert := p.Signer.GetCertificate(); cert != nil {
			name = cert.Subject.CommonName
		}
	}
	for _, entry := range [][2]string{
		{"Name", name},
		{"Reason", m.Reason},
		{"Location", m.Location},
		{"ContactInfo", m.ContactInfo},
	} {
		if entry[1] != "" {
			d.Set(entry[0], generic.NewTextString(entry[1]))
		}
	}

	clock := p.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	d.Set("M", generic.NewLiteralString(writer.FormatDate(clock.Now())))
	return d
}

// appearanceStream draws the stamp image in the widget's own space: the
// page-space matrix is shifted so the rectangle's corner is the origin.
func (p *PdfSigner) appearanceStream(w *writer.IncrementalPdfFileWriter) (*generic.StreamObject, error) {
	a := p.Appearance
	var imgRef generic.Reference
	switch {
	case a.ImageRef != nil:
		imgRef = *a.ImageRef
	case a.Image != nil:
		imgRef = a.Image.AddXObject(w)
	default:
		return nil, fmt.Errorf("visible signature without an image")
	}

	m := a.Matrix
	m[4] -= a.Rect.LLX
	m[5] -= a.Rect.LLY

	xobjects := generic.NewDictionary()
	xobjects.Set(content.ImageResourceName, imgRef)
	resources := generic.NewDictionary()
	resources.Set("XObject", xobjects)

	d := generic.NewDictionary()
	d.Set("Type", generic.NameObject("XObject"))
	d.Set("Subtype", generic.NameObject("Form"))
	d.Set("BBox", (&generic.Rectangle{URX: a.Rect.Width(), URY: a.Rect.Height()}).ToArray())
	d.Set("Resources", resources)
	return generic.NewStream(d, content.DrawImage(content.ImageResourceName, m)), nil
}

// appendToArray adds item to the array under key in dict. An array held
// by reference is copied into the update rather than edited in place.
func appendToArray(w *writer.IncrementalPdfFileWriter, dict *generic.DictionaryObject, key string, item generic.PdfObject) error {
	switch v := dict.Get(key).(type) {
	case nil:
		dict.Set(key, generic.ArrayObject{item})
	case generic.ArrayObject:
		dict.Set(key, append(v, item))
	case generic.Reference:
		resolved, err := w.Resolve(v)
		if err != nil {
			return err
		}
		arr, ok := resolved.(generic.ArrayObject)
		if !ok {
			return fmt.Errorf("/%s is not an array", key)
		}
		updated := make(generic.ArrayObject, 0, len(arr)+1)
		updated = append(updated, arr...)
		w.UpdateObject(v, append(updated, item))
	default:
		return fmt.Errorf("/%s has unexpected type %T", key, v)
	}
	return nil
}
