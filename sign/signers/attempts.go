package signers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imzaci/imzala/errs"
	"github.com/imzaci/imzala/sign/fields"
)

// DefaultAttempts is the mechanism ladder: raw PSS, raw PKCS#1 v1.5, then
// the token's combined hash-and-sign mechanism.
var DefaultAttempts = []Mechanism{
	{Raw: true, PreferPSS: true},
	{Raw: true, PreferPSS: false},
	{Raw: false, PreferPSS: false},
}

// FilterAttempts keeps the rungs of ladder matching the given preferences.
// A nil preference matches both values. An empty result falls back to the
// full ladder.
func FilterAttempts(ladder []Mechanism, preferPSS, raw *bool) []Mechanism {
	var out []Mechanism
	for _, m := range ladder {
		if preferPSS != nil && m.PreferPSS != *preferPSS {
			continue
		}
		if raw != nil && m.Raw != *raw {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return ladder
	}
	return out
}

// Attempt records one rung of the ladder.
type Attempt struct {
	Mechanism Mechanism
	TempPath  string
	Err       error
}

// AttemptReport lists every attempt made for one document.
type AttemptReport struct {
	Destination string
	Attempts    []Attempt
}

// Succeeded returns the mechanism that produced the output.
func (r *AttemptReport) Succeeded() (Mechanism, bool) {
	if n := len(r.Attempts); n > 0 && r.Attempts[n-1].Err == nil {
		return r.Attempts[n-1].Mechanism, true
	}
	return Mechanism{}, false
}

// AttemptFunc writes a complete signed document produced with mech to out.
type AttemptFunc func(mech Mechanism, out io.Writer) error

// RetryOptions configures SignWithRetry.
type RetryOptions struct {
	// Attempts defaults to DefaultAttempts.
	Attempts    []Mechanism
	ScratchDir  string
	Destination string
	Log         *zap.Logger
}

// SignWithRetry runs attempt for each mechanism until one succeeds. Every
// attempt writes a fresh temporary file in the scratch directory that is
// removed on failure; the successful one is moved onto the destination.
//
// A rejected mechanism moves on to the next rung. A locked or unwritable
// output returns OutputFileLocked and a field name collision returns
// SignatureFieldNameCollision, both without further attempts. Other errors
// are returned as they are. When every rung is rejected the error is
// SigningMechanismUnsupported and wraps each attempt's error.
func SignWithRetry(ctx context.Context, opts RetryOptions, attempt AttemptFunc) (*AttemptReport, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	ladder := opts.Attempts
	if len(ladder) == 0 {
		ladder = DefaultAttempts
	}
	report := &AttemptReport{Destination: opts.Destination}

	var rejected []error
	for _, mech := range ladder {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		tmp := filepath.Join(opts.ScratchDir, "attempt-"+uuid.NewString()+".pdf")
		err := runAttempt(tmp, mech, attempt)
		report.Attempts = append(report.Attempts, Attempt{Mechanism: mech, TempPath: tmp, Err: err})

		if err == nil {
			if err := commit(tmp, opts.Destination); err != nil {
				os.Remove(tmp)
				report.Attempts[len(report.Attempts)-1].Err = err
				if isLockError(err) {
					return report, errs.Wrap(errs.OutputFileLocked, err, "cannot write signed output").WithPath(opts.Destination)
				}
				return report, err
			}
			log.Info("document signed",
				zap.String("path", opts.Destination),
				zap.Stringer("mechanism", mech),
				zap.Int("attempt", len(report.Attempts)))
			return report, nil
		}

		os.Remove(tmp)
		switch {
		case errors.Is(err, ErrMechanismUnsupported):
			log.Warn("signing mechanism rejected, trying next",
				zap.Stringer("mechanism", mech), zap.Error(err))
			rejected = append(rejected, fmt.Errorf("%s: %w", mech, err))
		case errors.Is(err, fields.ErrFieldNameCollision):
			return report, errs.Wrap(errs.SignatureFieldNameCollision, err, "").WithPath(opts.Destination)
		case isLockError(err):
			return report, errs.Wrap(errs.OutputFileLocked, err, "cannot write temporary output").WithPath(tmp)
		default:
			return report, err
		}
	}
	return report, errs.Wrap(errs.SigningMechanismUnsupported, errors.Join(rejected...),
		fmt.Sprintf("all %d signing mechanisms were rejected", len(ladder))).WithPath(opts.Destination)
}

func runAttempt(tmp string, mech Mechanism, attempt AttemptFunc) error {
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if err := attempt(mech, f); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// renameFile is replaced in tests.
var renameFile = os.Rename

// commit moves tmp onto dest, copying when the two live on different
// devices.
func commit(tmp, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	err := renameFile(tmp, dest)
	if err == nil || !isCrossDevice(err) {
		return err
	}
	if err := copyFile(tmp, dest); err != nil {
		return err
	}
	return os.Remove(tmp)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	// Write beside dest and rename so readers never see a partial file.
	partial := dest + ".part-" + uuid.NewString()
	out, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(partial)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(partial)
		return err
	}
	if err := renameFile(partial, dest); err != nil {
		os.Remove(partial)
		return err
	}
	return nil
}
