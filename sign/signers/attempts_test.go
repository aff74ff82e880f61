package signers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/imzaci/imzala/errs"
	"github.com/imzaci/imzala/sign/fields"
)

func boolPtr(b bool) *bool { return &b }

func TestFilterAttempts(t *testing.T) {
	tests := []struct {
		name      string
		preferPSS *bool
		raw       *bool
		want      []Mechanism
	}{
		{"no preference", nil, nil, DefaultAttempts},
		{"pkcs1v15 only", boolPtr(false), nil, []Mechanism{{Raw: true}, {}}},
		{"pss only", boolPtr(true), nil, []Mechanism{{Raw: true, PreferPSS: true}}},
		{"hash-and-sign only", nil, boolPtr(false), []Mechanism{{}}},
		{"raw pkcs1v15", boolPtr(false), boolPtr(true), []Mechanism{{Raw: true}}},
		{"nothing matches", boolPtr(true), boolPtr(false), DefaultAttempts},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterAttempts(DefaultAttempts, tt.preferPSS, tt.raw)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("FilterAttempts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// ladderStub fails mechanisms listed in reject and records every call.
type ladderStub struct {
	reject map[Mechanism]error
	calls  []Mechanism
}

func (s *ladderStub) attempt(mech Mechanism, out io.Writer) error {
	s.calls = append(s.calls, mech)
	// Partial output must never reach the destination.
	fmt.Fprintf(out, "%%PDF-1.7 %s", mech)
	if err, ok := s.reject[mech]; ok {
		return err
	}
	return nil
}

func retryDirs(t *testing.T) (scratch, dest string) {
	t.Helper()
	root := t.TempDir()
	scratch = filepath.Join(root, "scratch")
	if err := os.Mkdir(scratch, 0o755); err != nil {
		t.Fatal(err)
	}
	return scratch, filepath.Join(root, "imzalananlar", "out.pdf")
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch directory holds %d leftover files", len(entries))
	}
}

func TestSignWithRetryFallsBack(t *testing.T) {
	scratch, dest := retryDirs(t)
	stub := &ladderStub{reject: map[Mechanism]error{
		DefaultAttempts[0]: fmt.Errorf("%w: CKR_MECHANISM_INVALID", ErrMechanismUnsupported),
	}}

	report, err := SignWithRetry(context.Background(), RetryOptions{ScratchDir: scratch, Destination: dest}, stub.attempt)
	if err != nil {
		t.Fatalf("SignWithRetry: %v", err)
	}
	if len(report.Attempts) != 2 {
		t.Fatalf("attempts = %d, want 2", len(report.Attempts))
	}
	mech, ok := report.Succeeded()
	if !ok || mech != DefaultAttempts[1] {
		t.Errorf("Succeeded() = %v, %v", mech, ok)
	}
	if report.Attempts[0].TempPath == report.Attempts[1].TempPath {
		t.Error("attempts shared a temporary file")
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if want := "%PDF-1.7 raw/pkcs1v15"; string(data) != want {
		t.Errorf("destination = %q, want %q", data, want)
	}
	assertScratchEmpty(t, scratch)
}

func TestSignWithRetryThirdRungSucceeds(t *testing.T) {
	scratch, dest := retryDirs(t)
	stub := &ladderStub{reject: map[Mechanism]error{
		DefaultAttempts[0]: fmt.Errorf("%w: CKR_MECHANISM_INVALID", ErrMechanismUnsupported),
		DefaultAttempts[1]: fmt.Errorf("%w: CKR_MECHANISM_PARAM_INVALID", ErrMechanismUnsupported),
	}}

	report, err := SignWithRetry(context.Background(), RetryOptions{ScratchDir: scratch, Destination: dest}, stub.attempt)
	if err != nil {
		t.Fatalf("SignWithRetry: %v", err)
	}
	if diff := cmp.Diff(DefaultAttempts, stub.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if len(report.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(report.Attempts))
	}
	seen := map[string]bool{}
	for i, a := range report.Attempts {
		if seen[a.TempPath] {
			t.Errorf("attempt %d reused %s", i, a.TempPath)
		}
		seen[a.TempPath] = true
		if _, err := os.Stat(a.TempPath); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("attempt %d temporary file still present: %v", i, err)
		}
		if wantErr := i < 2; (a.Err != nil) != wantErr {
			t.Errorf("attempt %d err = %v", i, a.Err)
		}
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if want := "%PDF-1.7 " + DefaultAttempts[2].String(); string(data) != want {
		t.Errorf("destination = %q, want %q", data, want)
	}
	assertScratchEmpty(t, scratch)
}

func TestSignWithRetryLockedDestination(t *testing.T) {
	scratch, dest := retryDirs(t)
	locked := &os.LinkError{Op: "rename", New: dest, Err: fs.ErrPermission}
	renames := 0
	renameFile = func(string, string) error {
		renames++
		return locked
	}
	t.Cleanup(func() { renameFile = os.Rename })

	stub := &ladderStub{}
	report, err := SignWithRetry(context.Background(), RetryOptions{ScratchDir: scratch, Destination: dest}, stub.attempt)
	if !errs.Is(err, errs.OutputFileLocked) {
		t.Fatalf("got %v, want OutputFileLocked", err)
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("error %v does not wrap the rename failure", err)
	}
	if len(stub.calls) != 1 || len(report.Attempts) != 1 {
		t.Errorf("calls = %d, attempts = %d, want 1 each", len(stub.calls), len(report.Attempts))
	}
	if report.Attempts[0].Err == nil {
		t.Error("failed commit recorded as success")
	}
	if renames == 0 {
		t.Error("destination was never renamed onto")
	}
	if _, err := os.Stat(dest); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("destination exists after failure: %v", err)
	}
	assertScratchEmpty(t, scratch)
}

func TestSignWithRetryExhausted(t *testing.T) {
	scratch, dest := retryDirs(t)
	stub := &ladderStub{reject: map[Mechanism]error{}}
	for _, m := range DefaultAttempts {
		stub.reject[m] = ErrMechanismUnsupported
	}

	report, err := SignWithRetry(context.Background(), RetryOptions{ScratchDir: scratch, Destination: dest}, stub.attempt)
	if !errs.Is(err, errs.SigningMechanismUnsupported) {
		t.Fatalf("got %v, want SigningMechanismUnsupported", err)
	}
	if !errors.Is(err, ErrMechanismUnsupported) {
		t.Error("exhaustion error should wrap the attempt errors")
	}
	if len(report.Attempts) != len(DefaultAttempts) {
		t.Errorf("attempts = %d, want %d", len(report.Attempts), len(DefaultAttempts))
	}
	if _, ok := report.Succeeded(); ok {
		t.Error("Succeeded() reported success")
	}
	if _, err := os.Stat(dest); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("destination exists after failure: %v", err)
	}
	assertScratchEmpty(t, scratch)
}

func TestSignWithRetryStopsEarly(t *testing.T) {
	other := errors.New("corrupt xref")
	tests := []struct {
		name     string
		err      error
		wantKind errs.Kind
	}{
		{"field collision", fmt.Errorf("%w: Signature1", fields.ErrFieldNameCollision), errs.SignatureFieldNameCollision},
		{"locked output", &fs.PathError{Op: "open", Path: "x", Err: fs.ErrPermission}, errs.OutputFileLocked},
		{"other failure", other, errs.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scratch, dest := retryDirs(t)
			stub := &ladderStub{reject: map[Mechanism]error{DefaultAttempts[0]: tt.err}}

			report, err := SignWithRetry(context.Background(), RetryOptions{ScratchDir: scratch, Destination: dest}, stub.attempt)
			if err == nil {
				t.Fatal("expected error")
			}
			if len(stub.calls) != 1 || len(report.Attempts) != 1 {
				t.Errorf("calls = %d, want 1", len(stub.calls))
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("error %v does not wrap %v", err, tt.err)
			}
			if tt.wantKind != errs.Internal && !errs.Is(err, tt.wantKind) {
				t.Errorf("kind = %v, want %v", errs.KindOf(err), tt.wantKind)
			}
			if tt.err == other && err != other {
				t.Errorf("unclassified error was rewrapped: %v", err)
			}
			assertScratchEmpty(t, scratch)
		})
	}
}

func TestSignWithRetryCancelled(t *testing.T) {
	scratch, dest := retryDirs(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stub := &ladderStub{}
	_, err := SignWithRetry(ctx, RetryOptions{ScratchDir: scratch, Destination: dest}, stub.attempt)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if len(stub.calls) != 0 {
		t.Errorf("attempt ran %d times after cancellation", len(stub.calls))
	}
}

func TestSignWithRetryCustomLadder(t *testing.T) {
	scratch, dest := retryDirs(t)
	stub := &ladderStub{}
	ladder := []Mechanism{{}}
	report, err := SignWithRetry(context.Background(), RetryOptions{Attempts: ladder, ScratchDir: scratch, Destination: dest}, stub.attempt)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(ladder, stub.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if report.Destination != dest {
		t.Errorf("Destination = %q", report.Destination)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.pdf")
	dest := filepath.Join(dir, "dest.pdf")
	if err := os.WriteFile(src, []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := copyFile(src, dest); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(dest)
	if string(got) != "%PDF-1.7" {
		t.Errorf("dest = %q", got)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("directory holds %d entries, want 2", len(entries))
	}
}
