// Package pipeline decides how a document is stamped and signed and runs
// that decision: one document at a time through Pipeline.Sign, or many in
// parallel through Pipeline.Batch.
package pipeline

import (
	"fmt"

	"github.com/imzaci/imzala/errs"
)

// DocumentSignState is the input document's state for one signing run.
type DocumentSignState int

const (
	// Unsigned documents may be rewritten before signing.
	Unsigned DocumentSignState = iota
	// SignedOnce documents already carry at least one signature and only
	// take incremental, additive changes.
	SignedOnce
	// MultiSigMode is an unsigned document that several people will sign
	// in turn.
	MultiSigMode
)

func (s DocumentSignState) String() string {
	switch s {
	case Unsigned:
		return "unsigned"
	case SignedOnce:
		return "signed"
	case MultiSigMode:
		return "multi-sig"
	}
	return fmt.Sprintf("DocumentSignState(%d)", int(s))
}

// DetectState derives the state from whether the document is signed and
// the multi-signer toggle. An existing signature wins over the toggle.
func DetectState(signed, multi bool) DocumentSignState {
	switch {
	case signed:
		return SignedOnce
	case multi:
		return MultiSigMode
	}
	return Unsigned
}

// Strategy is one way of changing a document before it is signed.
type Strategy int

const (
	// StrategyXObject appends the stamp image as a shared XObject drawn
	// from new content streams.
	StrategyXObject Strategy = iota
	// StrategyMerge rewrites pages with the stamp merged in.
	StrategyMerge
	// StrategySanitize rewrites the whole document to repair its structure.
	StrategySanitize
	// StrategyWidgetOnly leaves pages alone; the stamp lives only in the
	// signature widget added with the signature.
	StrategyWidgetOnly
)

func (s Strategy) String() string {
	switch s {
	case StrategyXObject:
		return "xobject"
	case StrategyMerge:
		return "merge"
	case StrategySanitize:
		return "sanitize"
	case StrategyWidgetOnly:
		return "widget-only"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// TouchesExistingPages reports whether s changes pages that were in the
// input document.
func (s Strategy) TouchesExistingPages() bool {
	return s != StrategyWidgetOnly
}

// guardMutation refuses strategies that would touch existing pages of a
// signed document.
func guardMutation(state DocumentSignState, s Strategy) error {
	if state == SignedOnce && s.TouchesExistingPages() {
		return errs.New(errs.AlreadySignedConstraintViolation,
			fmt.Sprintf("%s strategy requested for a signed document", s))
	}
	return nil
}
