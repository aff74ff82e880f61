package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/imzaci/imzala/pdf/generic"
	"github.com/imzaci/imzala/pdf/reader"
	"github.com/imzaci/imzala/sign/cms"
	"github.com/imzaci/imzala/sign/fields"
)

// VerifyOptions contains options for the verify command.
type VerifyOptions struct {
	JSON    bool
	Verbose bool
}

// VerifyCommand implements the 'verify' command.
func VerifyCommand(args []string) {
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)

	var opts VerifyOptions

	verifyFlags.BoolVar(&opts.JSON, "json", false, "Output results in JSON format")
	verifyFlags.BoolVar(&opts.Verbose, "verbose", false, "Show certificate details")

	verifyFlags.Usage = func() {
		fmt.Printf("Usage: %s verify [options] <input.pdf>\n\n", os.Args[0])
		fmt.Println("Check the integrity of the signatures in a PDF file.")
		fmt.Println("Certificate trust and revocation are not checked.")
		fmt.Println("")
		fmt.Println("Options:")
		verifyFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s verify imzalananlar/sozlesme.pdf\n", os.Args[0])
		fmt.Printf("  %s verify -json imzalananlar/sozlesme.pdf\n", os.Args[0])
	}

	if err := verifyFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	if len(verifyFlags.Args()) < 1 {
		verifyFlags.Usage()
		osExit(1)
	}

	output, err := verifyPDF(verifyFlags.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
	}

	if opts.JSON {
		outputJSON(output)
	} else {
		outputText(output, opts.Verbose)
	}

	for _, result := range output.Signatures {
		if result.Status == "INVALID" {
			osExit(1)
		}
	}
}

// VerifyOutput is the report for one document.
type VerifyOutput struct {
	Pages      int             `json:"pages"`
	Size       int             `json:"size"`
	Signatures []*VerifyResult `json:"signatures"`
}

// VerifyResult is a JSON-serializable result for a single signature.
type VerifyResult struct {
	SignatureIndex int              `json:"signature_index"`
	FieldName      string           `json:"field_name,omitempty"`
	Status         string           `json:"status"`
	IntegrityValid bool             `json:"integrity_valid"`
	CoversDocument bool             `json:"covers_document"`
	Certification  string           `json:"certification,omitempty"`
	SignerName     string           `json:"signer_name,omitempty"`
	SigningTime    string           `json:"signing_time,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	Location       string           `json:"location,omitempty"`
	SubFilter      string           `json:"sub_filter,omitempty"`
	Errors         []string         `json:"errors,omitempty"`
	Certificate    *CertificateInfo `json:"certificate,omitempty"`
}

// CertificateInfo contains certificate information for JSON output.
type CertificateInfo struct {
	Subject   string `json:"subject"`
	Issuer    string `json:"issuer"`
	Serial    string `json:"serial"`
	NotBefore string `json:"not_before"`
	NotAfter  string `json:"not_after"`
	IsExpired bool   `json:"is_expired"`
}

func verifyPDF(inputPath string) (*VerifyOutput, error) {
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	r, err := reader.NewPdfFileReaderFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read PDF: %w", err)
	}

	sigs := r.EmbeddedSignatures()
	if len(sigs) == 0 {
		return nil, fmt.Errorf("no signatures found in the PDF")
	}
	out := &VerifyOutput{Pages: r.NumPages(), Size: len(data)}
	for i, sig := range sigs {
		out.Signatures = append(out.Signatures, verifySignature(i+1, sig, data))
	}
	return out, nil
}

func verifySignature(index int, sig *reader.EmbeddedSignature, data []byte) *VerifyResult {
	result := &VerifyResult{
		SignatureIndex: index,
		FieldName:      sig.FieldName,
		SubFilter:      sig.SubFilter(),
		Reason:         sig.Reason(),
		Location:       textEntry(sig, "Location"),
	}
	if p, ok := fields.CertificationPolicy(sig.Dictionary); ok {
		result.Certification = p.String()
	}

	signed, err := signedBytes(sig.ByteRange, data)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
	} else if err := cms.VerifyCMSSignature(sig.Contents, signed); err != nil {
		result.Errors = append(result.Errors, err.Error())
	} else {
		result.IntegrityValid = true
	}
	br := sig.ByteRange
	result.CoversDocument = br[0] == 0 && br[2]+br[3] == int64(len(data))

	if certs, err := cms.GetSignerCertificates(sig.Contents); err == nil && len(certs) > 0 {
		c := certs[0]
		result.SignerName = c.Subject.CommonName
		result.Certificate = &CertificateInfo{
			Subject:   c.Subject.String(),
			Issuer:    c.Issuer.String(),
			Serial:    c.SerialNumber.String(),
			NotBefore: c.NotBefore.Format(time.RFC3339),
			NotAfter:  c.NotAfter.Format(time.RFC3339),
			IsExpired: time.Now().After(c.NotAfter),
		}
	}
	if t, err := cms.GetSigningTime(sig.Contents); err == nil && !t.IsZero() {
		result.SigningTime = t.Format(time.RFC3339)
	}

	result.Status = "VALID"
	if !result.IntegrityValid {
		result.Status = "INVALID"
	}
	return result
}

// signedBytes concatenates the two ranges a signature covers.
func signedBytes(br [4]int64, data []byte) ([]byte, error) {
	size := int64(len(data))
	for _, v := range br {
		if v < 0 {
			return nil, fmt.Errorf("negative byte range %v", br)
		}
	}
	if br[0]+br[1] > br[2] || br[2]+br[3] > size {
		return nil, fmt.Errorf("byte range %v outside the file (%d bytes)", br, size)
	}
	out := make([]byte, 0, br[1]+br[3])
	out = append(out, data[br[0]:br[0]+br[1]]...)
	return append(out, data[br[2]:br[2]+br[3]]...), nil
}

func textEntry(sig *reader.EmbeddedSignature, key string) string {
	if s, ok := sig.Dictionary.Get(key).(*generic.StringObject); ok {
		return s.Text()
	}
	return ""
}

func outputJSON(output *VerifyOutput) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		osExit(1)
	}
}

func outputText(output *VerifyOutput, verbose bool) {
	fmt.Printf("PDF Verification Results\n")
	fmt.Printf("========================\n\n")
	fmt.Printf("%d page(s), %d bytes, %d signature(s)\n\n", output.Pages, output.Size, len(output.Signatures))

	for _, result := range output.Signatures {
		fmt.Printf("Signature #%d\n", result.SignatureIndex)
		fmt.Printf("------------\n")
		fmt.Printf("  Status: %s %s\n", getStatusIcon(result.Status), result.Status)
		if result.FieldName != "" {
			fmt.Printf("  Field: %s\n", result.FieldName)
		}
		fmt.Printf("  Integrity: %s\n", boolToStatus(result.IntegrityValid))
		if result.CoversDocument {
			fmt.Printf("  Coverage: entire file\n")
		} else {
			fmt.Printf("  Coverage: earlier revision\n")
		}
		if result.Certification != "" {
			fmt.Printf("  Certification: %s\n", result.Certification)
		}
		if result.SignerName != "" {
			fmt.Printf("  Signer: %s\n", result.SignerName)
		}
		if result.SigningTime != "" {
			fmt.Printf("  Signing Time: %s\n", result.SigningTime)
		}
		if result.Reason != "" {
			fmt.Printf("  Reason: %s\n", result.Reason)
		}
		if result.Location != "" {
			fmt.Printf("  Location: %s\n", result.Location)
		}

		if verbose && result.Certificate != nil {
			fmt.Printf("\n  Certificate Details:\n")
			fmt.Printf("    Subject: %s\n", result.Certificate.Subject)
			fmt.Printf("    Issuer: %s\n", result.Certificate.Issuer)
			fmt.Printf("    Serial: %s\n", result.Certificate.Serial)
			fmt.Printf("    Valid: %s to %s\n", result.Certificate.NotBefore, result.Certificate.NotAfter)
			if result.Certificate.IsExpired {
				fmt.Printf("    WARNING: Certificate is expired!\n")
			}
		}

		if len(result.Errors) > 0 {
			fmt.Printf("\n  Errors:\n")
			for _, e := range result.Errors {
				fmt.Printf("    - %s\n", e)
			}
		}
		fmt.Println()
	}
}

func getStatusIcon(status string) string {
	switch status {
	case "VALID":
		return "[OK]"
	case "INVALID":
		return "[FAIL]"
	default:
		return "[?]"
	}
}

func boolToStatus(b bool) string {
	if b {
		return "OK"
	}
	return "FAILED"
}
