package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chartpilot/analysis-engine/internal/capture"
	"github.com/chartpilot/analysis-engine/internal/extractors"
	"github.com/chartpilot/analysis-engine/internal/metrics"
	"github.com/chartpilot/analysis-engine/internal/models"
	"github.com/chartpilot/analysis-engine/internal/provider"
	"github.com/chartpilot/analysis-engine/internal/quota"
)

// Validator rejects captures that do not look rendered.
type Validator interface {
	Validate(a capture.Artifact, expectedWidth, expectedHeight int) (capture.Report, error)
}

// QuotaReserver consumes one analysis slot for a subject.
type QuotaReserver interface {
	Reserve(ctx context.Context, subjectID string, feature models.Feature) (models.UsageState, error)
}

// HistoryStore persists finished analyses.
type HistoryStore interface {
	Save(ctx context.Context, subjectID, display string, source models.Source, result models.AnalysisResult) (models.AnalysisRecord, error)
}

// Run is one analysis request. Artifact nil means a symbol-only query.
type Run struct {
	SubjectID      string
	Artifact       *capture.Artifact
	ExpectedWidth  int
	ExpectedHeight int
	Symbol         string
	Timeframe      string
}

// Feature returns the quota feature the run is metered against.
func (r Run) Feature() models.Feature {
	if r.Artifact != nil {
		return models.FeatureBasic
	}
	return models.FeatureDeep
}

// Outcome is what a run produced. On failure only Transitions and, after
// QuotaChecking, Usage are meaningful.
type Outcome struct {
	Result   models.AnalysisResult
	Record   *models.AnalysisRecord
	Usage    models.UsageState
	Response provider.Response
	// PersistWarning is set when the result could not be saved.
	PersistWarning error
	Transitions    []Stage
}

// Pipeline sequences validation, quota, provider and parsing for a run.
type Pipeline struct {
	logger    *slog.Logger
	validator Validator
	quota     QuotaReserver
	gateway   provider.Gateway
	parser    *extractors.Parser
	history   HistoryStore
}

// NewPipeline constructs a pipeline. history may be nil.
func NewPipeline(
	logger *slog.Logger,
	validator Validator,
	quota QuotaReserver,
	gateway provider.Gateway,
	history HistoryStore,
	parser *extractors.Parser,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if parser == nil {
		parser = extractors.NewParser()
	}
	return &Pipeline{
		logger:    logger,
		validator: validator,
		quota:     quota,
		gateway:   gateway,
		parser:    parser,
		history:   history,
	}
}

// Execute runs the state machine. Failures are *StageError. A persistence
// failure is not an error: the result is returned with PersistWarning set.
// Quota consumed before a failure or cancellation is not refunded.
func (p *Pipeline) Execute(ctx context.Context, run Run) (outcome Outcome, err error) {
	start := time.Now()
	outcome.Transitions = []Stage{StageIdle}
	defer func() {
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			outcome.Transitions = append(outcome.Transitions, StageFailed)
			metrics.ObserveRun(time.Since(start), metrics.OutcomeError, string(stageErr.Stage))
			return
		}
		metrics.ObserveRun(time.Since(start), metrics.OutcomeSuccess, "")
	}()

	if p.quota == nil || p.gateway == nil {
		return outcome, fail(StageIdle, ReasonInvalidInput, errors.New("pipeline is missing a quota manager or provider"))
	}
	if strings.TrimSpace(run.SubjectID) == "" {
		return outcome, fail(StageIdle, ReasonInvalidInput, errors.New("subject id is required"))
	}
	if run.Artifact == nil && strings.TrimSpace(run.Symbol) == "" {
		return outcome, fail(StageIdle, ReasonInvalidInput, errors.New("a capture or a symbol is required"))
	}

	if run.Artifact != nil {
		if err := p.enter(ctx, &outcome, StageValidating); err != nil {
			return outcome, err
		}
		if p.validator != nil {
			if _, err := p.validator.Validate(*run.Artifact, run.ExpectedWidth, run.ExpectedHeight); err != nil {
				return outcome, fail(StageValidating, ReasonInsufficientContent, err)
			}
		}
	}

	if err := p.enter(ctx, &outcome, StageQuotaChecking); err != nil {
		return outcome, err
	}
	usage, err := p.quota.Reserve(ctx, run.SubjectID, run.Feature())
	outcome.Usage = usage
	if err != nil {
		return outcome, fail(StageQuotaChecking, quotaReason(ctx, err), err)
	}

	if err := p.enter(ctx, &outcome, StageInvoking); err != nil {
		return outcome, err
	}
	resp, err := p.gateway.Analyze(ctx, provider.Input{
		Artifact:  run.Artifact,
		Symbol:    run.Symbol,
		Timeframe: run.Timeframe,
	}, provider.Options{})
	if err != nil {
		return outcome, fail(StageInvoking, providerReason(err), err)
	}
	outcome.Response = resp

	if err := p.enter(ctx, &outcome, StageParsing); err != nil {
		return outcome, err
	}
	outcome.Result = p.parser.Parse(resp.Text, extractors.Context{Symbol: run.Symbol, Timeframe: run.Timeframe})

	// The caller may have gone away, but the analysis succeeded and quota is
	// spent, so the save is not tied to the caller's context.
	outcome.Transitions = append(outcome.Transitions, StagePersisting)
	if p.history != nil {
		record, saveErr := p.history.Save(context.WithoutCancel(ctx), run.SubjectID, DisplayLabel(outcome.Result), sourceOf(run), outcome.Result)
		if saveErr != nil {
			outcome.PersistWarning = &StageError{Stage: StagePersisting, Reason: ReasonPersistenceError, Err: saveErr}
			p.logger.Warn("failed to persist analysis",
				slog.String("subject", run.SubjectID),
				slog.Any("error", saveErr))
		} else {
			outcome.Record = &record
		}
	}

	outcome.Transitions = append(outcome.Transitions, StageDone)
	return outcome, nil
}

// enter records a transition unless the caller has cancelled.
func (p *Pipeline) enter(ctx context.Context, outcome *Outcome, stage Stage) error {
	if err := ctx.Err(); err != nil {
		return fail(stage, ReasonCancelled, err)
	}
	outcome.Transitions = append(outcome.Transitions, stage)
	return nil
}

func quotaReason(ctx context.Context, err error) Reason {
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		return ReasonQuotaExceeded
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return ReasonCancelled
	default:
		return ReasonInternal
	}
}

func providerReason(err error) Reason {
	switch {
	case errors.Is(err, provider.ErrProviderRejected):
		return ReasonProviderRejected
	case errors.Is(err, provider.ErrEmptyResponse):
		return ReasonEmptyResponse
	case errors.Is(err, provider.ErrProviderUnavailable):
		return ReasonProviderUnavailable
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	default:
		return ReasonInternal
	}
}

func sourceOf(run Run) models.Source {
	if run.Artifact != nil {
		return models.SourceCapture
	}
	return models.SourceSymbol
}

// DisplayLabel renders a result as "EUR/USD (1h)".
func DisplayLabel(result models.AnalysisResult) string {
	pair := strings.TrimSpace(result.Pair)
	if pair == "" {
		pair = "Chart"
	}
	if tf := strings.TrimSpace(result.Timeframe); tf != "" {
		return fmt.Sprintf("%s (%s)", pair, tf)
	}
	return pair
}
