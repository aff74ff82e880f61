package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{StampUnavailable, "StampUnavailable"},
		{OutputFileLocked, "OutputFileLocked"},
		{AlreadySignedConstraintViolation, "AlreadySignedConstraintViolation"},
		{Kind(99), "Kind(99)"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(tt.kind), got, tt.want)
		}
	}
}

func TestFatal(t *testing.T) {
	nonFatal := []Kind{StampUnavailable, FontResolutionFailed, PageGeometryUnavailable, XObjectMergeFailed}
	for _, k := range nonFatal {
		if k.Fatal() {
			t.Errorf("%v should not be fatal", k)
		}
	}
	fatal := []Kind{OutputFileLocked, SignatureFieldNameCollision, SigningMechanismUnsupported, StructuralRepairFailed}
	for _, k := range fatal {
		if !k.Fatal() {
			t.Errorf("%v should be fatal", k)
		}
	}
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("permission denied")
	err := Wrap(OutputFileLocked, cause, "close the file and retry").WithStage("commit").WithPath("/tmp/out.pdf")
	msg := err.Error()
	for _, part := range []string{"OutputFileLocked", "[commit]", "/tmp/out.pdf", "close the file and retry", "permission denied"} {
		if !strings.Contains(msg, part) {
			t.Errorf("message %q missing %q", msg, part)
		}
	}
}

func TestIsAndKindOf(t *testing.T) {
	base := New(SignatureFieldNameCollision, "Signature_1 exists")
	wrapped := fmt.Errorf("signing: %w", base)

	if !Is(wrapped, SignatureFieldNameCollision) {
		t.Error("Is should find kind through wrapping")
	}
	if Is(wrapped, OutputFileLocked) {
		t.Error("Is matched wrong kind")
	}
	if !errors.Is(wrapped, New(SignatureFieldNameCollision, "")) {
		t.Error("errors.Is should match by kind")
	}
	if KindOf(wrapped) != SignatureFieldNameCollision {
		t.Errorf("KindOf = %v", KindOf(wrapped))
	}
	if KindOf(errors.New("plain")) != Internal {
		t.Error("plain errors should classify as Internal")
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil, "x", "y") != nil {
		t.Error("Classify(nil) should be nil")
	}

	e := Classify(errors.New("boom"), "sign", "a.pdf")
	if e.Kind != Internal || e.Stage != "sign" || e.Path != "a.pdf" {
		t.Errorf("unexpected classification: %+v", e)
	}

	kept := Classify(New(StructuralRepairFailed, "").WithStage("repair"), "sign", "a.pdf")
	if kept.Stage != "repair" {
		t.Errorf("existing stage overwritten: %q", kept.Stage)
	}
	if kept.Path != "a.pdf" {
		t.Errorf("path not filled: %q", kept.Path)
	}
}
