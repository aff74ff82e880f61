package pipeline

import (
	"context"
	"errors"
	"io"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/imzaci/imzala/errs"
	"github.com/imzaci/imzala/pdf/reader"
	"github.com/imzaci/imzala/sign/fields"
	"github.com/imzaci/imzala/sign/signers"
	"github.com/imzaci/imzala/stamp"
)

// Stages reported on errors.
const (
	StageRead    = "read"
	StageCompose = "compose"
	StageMutate  = "mutate"
	StageSign    = "sign"
)

// Request is one document to sign.
type Request struct {
	InputPath  string
	OutputPath string
	Settings   stamp.PlacementSpec
	// LogoPath may be empty; the document is then signed without a stamp.
	LogoPath string
	Signer   signers.Signer
	MultiSig bool
	// Scope defaults to ScopeAllPages.
	Scope       Scope
	Reason      string
	Location    string
	ContactInfo string
	// Permission certifies the document when it has no signature yet.
	Permission fields.DocMDPPolicy
}

// Result describes a signed document.
type Result struct {
	InputPath  string
	OutputPath string
	State      DocumentSignState
	Plan       MutationPlan
	FieldName  string
	// Stamped lists the pages whose content carries the stamp.
	Stamped []int
	Report  *signers.AttemptReport
	// Warnings are the non-fatal failures met on the way.
	Warnings []error
}

// Options configures a Pipeline. Zero values get defaults.
type Options struct {
	Composer *stamp.Composer
	Cache    *stamp.Cache
	Mutator  Mutator
	// Scratch is required.
	Scratch  *Scratch
	Attempts []signers.Mechanism
	Clock    clockwork.Clock
	Log      *zap.Logger
}

// Pipeline stamps and signs documents. It is safe for concurrent use as
// long as its Mutator is.
type Pipeline struct {
	composer *stamp.Composer
	cache    *stamp.Cache
	mutator  Mutator
	scratch  *Scratch
	attempts []signers.Mechanism
	clock    clockwork.Clock
	names    *fields.NameGenerator
	log      *zap.Logger
}

// New creates a pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		composer: opts.Composer,
		cache:    opts.Cache,
		mutator:  opts.Mutator,
		scratch:  opts.Scratch,
		attempts: opts.Attempts,
		clock:    opts.Clock,
		log:      opts.Log,
	}
	if p.log == nil {
		p.log = zap.NewNop()
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.composer == nil {
		p.composer = stamp.NewComposer(nil, p.log)
	}
	if p.cache == nil {
		p.cache = stamp.NewCache()
	}
	if p.mutator == nil {
		p.mutator = NewPageMutator(p.log)
	}
	p.names = fields.NewNameGenerator(p.clock)
	return p
}

// stamps are the composed blocks of one run. Any may be nil.
type stamps struct {
	full       *Stamp
	simplified *Stamp
	// widget is the simplified block at the user's placement.
	widget *Stamp
}

// Sign runs one document through state detection, composition, mutation
// and signing. Every returned error is an *errs.Error carrying the input
// path and the failing stage.
func (p *Pipeline) Sign(ctx context.Context, req Request) (*Result, error) {
	res := &Result{InputPath: req.InputPath, OutputPath: req.OutputPath}
	fail := func(stage string, err error) (*Result, error) {
		return res, errs.Classify(err, stage, req.InputPath)
	}
	if req.Signer == nil {
		return fail(StageRead, signers.ErrSignerRequired)
	}
	if err := ctx.Err(); err != nil {
		return fail(StageRead, err)
	}

	workDir, err := p.scratch.DocumentDir()
	if err != nil {
		return fail(StageRead, err)
	}
	doc, err := LoadDocument(req.InputPath, workDir)
	if err != nil {
		return fail(StageRead, err)
	}
	res.State = DetectState(doc.Reader.HasSignatures(), req.MultiSig)
	log := p.log.With(zap.String("path", req.InputPath), zap.Stringer("state", res.State))

	if err := ctx.Err(); err != nil {
		return fail(StageCompose, err)
	}
	st := p.compose(req, res, log)

	scope := req.Scope
	if scope == "" {
		scope = ScopeAllPages
	}
	haveStamp := st.full != nil
	if res.State == MultiSigMode {
		haveStamp = st.simplified != nil
	}
	res.Plan = Plan(res.State, PlanOptions{
		Scope:     scope,
		PageCount: doc.Reader.NumPages(),
		HaveStamp: haveStamp,
	})
	log.Debug("mutation plan", zap.Stringer("plan", res.Plan))

	if err := ctx.Err(); err != nil {
		return fail(StageMutate, err)
	}
	if err := p.runSteps(doc, res, res.Plan.Steps, st, log); err != nil {
		return fail(StageMutate, err)
	}

	if err := ctx.Err(); err != nil {
		return fail(StageSign, err)
	}
	res.FieldName = p.names.Next()
	appearance, err := p.appearance(doc, res.Plan.Widget, st, log)
	if err != nil {
		p.warn(res, StageSign, req.InputPath, err, log, "signing without a visible widget")
	}
	report, err := signers.SignWithRetry(ctx, signers.RetryOptions{
		Attempts:    p.attempts,
		ScratchDir:  doc.WorkDir,
		Destination: req.OutputPath,
		Log:         log,
	}, p.attempt(doc, req, res.FieldName, appearance))
	res.Report = report
	if err != nil {
		return fail(StageSign, err)
	}
	return res, nil
}

// compose renders the stamps the document state needs. Failures leave
// the stamp out and are recorded as warnings.
func (p *Pipeline) compose(req Request, res *Result, log *zap.Logger) stamps {
	var out stamps
	if req.LogoPath == "" {
		log.Info("no logo configured, signing without a stamp")
		return out
	}
	name, serial := "", ""
	if cert := req.Signer.GetCertificate(); cert != nil {
		name = cert.Subject.CommonName
		if cert.SerialNumber != nil {
			serial = cert.SerialNumber.String()
		}
	}
	lines := stamp.NewSignerLines(name, serial, p.clock.Now())

	build := func(spec stamp.PlacementSpec, simplified bool) *Stamp {
		block, err := p.composer.ComposeCached(p.cache, stamp.ComposeRequest{
			LogoPath:    req.LogoPath,
			Lines:       lines,
			FontSizeMM:  spec.FontSizeMM,
			LogoWidthMM: spec.LogoWidthMM,
			FontFamily:  spec.FontFamily,
			FontStyle:   spec.FontStyle,
			Simplified:  simplified,
		})
		if err != nil {
			p.warn(res, StageCompose, req.LogoPath, err, log, "stamp unavailable, signing without it")
			return nil
		}
		return &Stamp{Block: block, Spec: spec}
	}

	if res.State == MultiSigMode {
		out.simplified = build(stamp.SimplifiedSpec(req.Settings), true)
		if out.simplified != nil {
			out.widget = &Stamp{Block: out.simplified.Block, Spec: req.Settings}
		}
		return out
	}
	out.full = build(req.Settings, false)
	return out
}

// runSteps executes steps in order. A failed step with a fallback runs the
// fallback; a failed optional step ends the list. Guard violations are
// always returned.
func (p *Pipeline) runSteps(doc *Document, res *Result, steps []Step, st stamps, log *zap.Logger) error {
	for _, step := range steps {
		err := p.runStep(doc, res, step, st)
		if err == nil {
			continue
		}
		if errs.Is(err, errs.AlreadySignedConstraintViolation) {
			return err
		}
		switch {
		case len(step.Fallback) > 0:
			p.warn(res, StageMutate, doc.Path, err, log, "strategy failed, falling back",
				zap.Stringer("strategy", step.Strategy))
			if err := p.runSteps(doc, res, step.Fallback, st, log); err != nil {
				return err
			}
		case step.Optional:
			p.warn(res, StageMutate, doc.Path, err, log, "optional strategy failed",
				zap.Stringer("strategy", step.Strategy))
			return nil
		default:
			return err
		}
	}
	return nil
}

func (p *Pipeline) runStep(doc *Document, res *Result, step Step, st stamps) error {
	if err := guardMutation(res.State, step.Strategy); err != nil {
		return err
	}
	s := st.full
	if step.Simplified {
		s = st.simplified
	}
	switch step.Strategy {
	case StrategyXObject:
		if err := p.mutator.AppendXObject(doc, step.Pages, s); err != nil {
			return err
		}
		res.Stamped = append(res.Stamped, step.Pages...)
	case StrategyMerge:
		if err := p.mutator.Merge(doc, step.Pages, s); err != nil {
			return err
		}
		res.Stamped = append(res.Stamped, step.Pages...)
	case StrategySanitize:
		return p.mutator.Sanitize(doc)
	case StrategyWidgetOnly:
	}
	return nil
}

// appearance builds the page 0 widget for style.
func (p *Pipeline) appearance(doc *Document, style WidgetStyle, st stamps, log *zap.Logger) (*signers.Appearance, error) {
	var s *Stamp
	switch style {
	case WidgetFull:
		s = st.full
	case WidgetSimplified:
		s = st.widget
	}
	if s == nil {
		return nil, nil
	}
	img, err := s.PDFImage()
	if err != nil {
		return nil, err
	}
	pl := s.Place(doc.Geometry(0, log))
	a := &signers.Appearance{Image: img, Matrix: pl.Matrix, Rect: pl.Rect()}
	if style == WidgetFull && doc.StampImage != nil {
		a.ImageRef = doc.StampImage
	}
	return a, nil
}

// attempt returns the signing step run once per mechanism. Each run signs
// a fresh parse of the mutated document.
func (p *Pipeline) attempt(doc *Document, req Request, fieldName string, appearance *signers.Appearance) signers.AttemptFunc {
	return func(mech signers.Mechanism, out io.Writer) error {
		r, err := reader.NewPdfFileReaderFromBytes(doc.Data)
		if err != nil {
			return err
		}
		meta := signers.NewSignatureMetadata(fieldName)
		meta.Reason = req.Reason
		meta.Location = req.Location
		meta.ContactInfo = req.ContactInfo
		meta.Permission = req.Permission

		ps := signers.NewPdfSigner(req.Signer, meta)
		ps.Clock = p.clock
		if appearance != nil {
			ps.SetSignatureAppearance(0, appearance)
		}
		data, err := ps.SignPdf(r, mech)
		if err != nil {
			return err
		}
		_, err = out.Write(data)
		return err
	}
}

func (p *Pipeline) warn(res *Result, stage, path string, err error, log *zap.Logger, msg string, extra ...zap.Field) {
	e := errs.Classify(err, stage, path)
	res.Warnings = append(res.Warnings, e)
	log.Warn(msg, append([]zap.Field{zap.Stringer("kind", e.Kind), zap.Error(err)}, extra...)...)
}

// IsLocked reports whether err means the output could not be written
// because another program holds it.
func IsLocked(err error) bool {
	var e *errs.Error
	return errors.As(err, &e) && e.Kind == errs.OutputFileLocked
}
