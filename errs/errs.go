// Package errs defines the error kinds that cross the signing core boundary.
//
// Lower packages return plain wrapped errors; the pipeline translates them
// into an *Error carrying the kind, the stage that failed and the file the
// caller should act on.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	// Internal marks an unexpected failure with no dedicated kind.
	Internal Kind = iota
	// StampUnavailable means the logo image is missing or unreadable. Non-fatal.
	StampUnavailable
	// FontResolutionFailed means no requested font could be loaded. Non-fatal.
	FontResolutionFailed
	// PageGeometryUnavailable means the page boxes could not be read. A4 is used.
	PageGeometryUnavailable
	// XObjectMergeFailed means the isolated append could not be applied.
	XObjectMergeFailed
	// StructuralRepairFailed means the sanitation pass failed.
	StructuralRepairFailed
	// SigningMechanismUnsupported means every signing mechanism was rejected.
	SigningMechanismUnsupported
	// OutputFileLocked means the destination cannot be written.
	OutputFileLocked
	// SignatureFieldNameCollision means the new field name already exists.
	SignatureFieldNameCollision
	// AlreadySignedConstraintViolation means a rewriting strategy was
	// requested for a document that already carries signatures.
	AlreadySignedConstraintViolation
)

var kindNames = map[Kind]string{
	Internal:                         "Internal",
	StampUnavailable:                 "StampUnavailable",
	FontResolutionFailed:             "FontResolutionFailed",
	PageGeometryUnavailable:          "PageGeometryUnavailable",
	XObjectMergeFailed:               "XObjectMergeFailed",
	StructuralRepairFailed:           "StructuralRepairFailed",
	SigningMechanismUnsupported:      "SigningMechanismUnsupported",
	OutputFileLocked:                 "OutputFileLocked",
	SignatureFieldNameCollision:      "SignatureFieldNameCollision",
	AlreadySignedConstraintViolation: "AlreadySignedConstraintViolation",
}

// String returns the kind name.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Fatal reports whether a failure of this kind stops the pipeline.
func (k Kind) Fatal() bool {
	switch k {
	case StampUnavailable, FontResolutionFailed, PageGeometryUnavailable, XObjectMergeFailed:
		return false
	}
	return true
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Stage   string
	Path    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Stage != "" {
		b.WriteString(" [")
		b.WriteString(e.Stage)
		b.WriteString("]")
	}
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by kind, so errors.Is(err, errs.New(k, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithStage sets the stage and returns the error.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithPath sets the path and returns the error.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Classify returns err as an *Error, wrapping unclassified errors as
// Internal. Stage and path are filled in when the error has none.
func Classify(err error, stage, path string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(Internal, err, "")
	}
	if e.Stage == "" {
		e.Stage = stage
	}
	if e.Path == "" {
		e.Path = path
	}
	return e
}
