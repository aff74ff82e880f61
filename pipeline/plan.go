package pipeline

import (
	"fmt"
	"strings"
)

// Scope selects which pages carry the stamp in page content.
type Scope string

const (
	// ScopeAllPages stamps every page after the first; the first page shows
	// the stamp through the signature widget.
	ScopeAllPages Scope = "all-pages"
	// ScopeFirstPage stamps the first page's content and signs with an
	// invisible widget.
	ScopeFirstPage Scope = "first-page"
)

// WidgetStyle is how the signature widget on page 0 looks.
type WidgetStyle int

const (
	WidgetInvisible WidgetStyle = iota
	WidgetFull
	WidgetSimplified
)

func (w WidgetStyle) String() string {
	switch w {
	case WidgetFull:
		return "full"
	case WidgetSimplified:
		return "simplified"
	}
	return "invisible"
}

// Step is one mutation in a plan.
type Step struct {
	Strategy Strategy
	// Pages are zero-based page indices.
	Pages []int
	// Simplified steps draw the date-only stamp.
	Simplified bool
	// A failed optional step is logged and ends its list; signing goes on
	// with the document as it was before the step.
	Optional bool
	// Fallback runs, in order, when this step fails.
	Fallback []Step
}

func (s Step) String() string {
	var b strings.Builder
	b.WriteString(s.Strategy.String())
	if len(s.Pages) > 0 {
		fmt.Fprintf(&b, "%v", s.Pages)
	}
	if s.Simplified {
		b.WriteString("/simplified")
	}
	if len(s.Fallback) > 0 {
		parts := make([]string, len(s.Fallback))
		for i, f := range s.Fallback {
			parts[i] = f.String()
		}
		fmt.Fprintf(&b, " else %s", strings.Join(parts, ", "))
	}
	return b.String()
}

// MutationPlan lists what happens to a document before it is signed.
type MutationPlan struct {
	State  DocumentSignState
	Steps  []Step
	Widget WidgetStyle
}

// Strategies returns every strategy the plan can reach, fallbacks
// included, in the order they may run.
func (p MutationPlan) Strategies() []Strategy {
	var out []Strategy
	var walk func([]Step)
	walk = func(steps []Step) {
		for _, s := range steps {
			out = append(out, s.Strategy)
			walk(s.Fallback)
		}
	}
	walk(p.Steps)
	return out
}

func (p MutationPlan) String() string {
	parts := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		parts[i] = s.String()
	}
	return fmt.Sprintf("%s: [%s] widget=%s", p.State, strings.Join(parts, "; "), p.Widget)
}

// PlanOptions are the document facts a plan depends on.
type PlanOptions struct {
	Scope     Scope
	PageCount int
	// HaveStamp is false when no stamp could be composed; the plan then
	// signs without any visual change.
	HaveStamp bool
}

// Plan builds the mutation plan for a document in state.
func Plan(state DocumentSignState, opts PlanOptions) MutationPlan {
	if !opts.HaveStamp {
		plan := MutationPlan{State: state, Widget: WidgetInvisible}
		if state == SignedOnce {
			plan.Steps = []Step{{Strategy: StrategyWidgetOnly}}
		}
		return plan
	}

	rest := pageRange(1, opts.PageCount)
	switch state {
	case SignedOnce:
		return MutationPlan{
			State:  state,
			Steps:  []Step{{Strategy: StrategyWidgetOnly}},
			Widget: WidgetFull,
		}

	case MultiSigMode:
		plan := MutationPlan{State: state, Widget: WidgetSimplified}
		if len(rest) > 0 {
			plan.Steps = []Step{
				{Strategy: StrategyMerge, Pages: rest, Simplified: true, Optional: true},
				{Strategy: StrategySanitize, Optional: true},
			}
		}
		return plan
	}

	pages, widget := rest, WidgetFull
	if opts.Scope == ScopeFirstPage {
		pages, widget = []int{0}, WidgetInvisible
	}
	plan := MutationPlan{State: state, Widget: widget}
	if len(pages) > 0 {
		plan.Steps = []Step{{
			Strategy: StrategyXObject,
			Pages:    pages,
			Fallback: []Step{
				{Strategy: StrategyMerge, Pages: pages, Optional: true},
				{Strategy: StrategySanitize, Optional: true},
			},
		}}
	}
	return plan
}

func pageRange(from, to int) []int {
	if to <= from {
		return nil
	}
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}
