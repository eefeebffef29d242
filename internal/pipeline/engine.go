package pipeline

import (
	"context"
	"fmt"
	"time"

	"procura/internal/llm"
	"procura/internal/logging"
	"procura/internal/observability"
	"procura/internal/rag"
)

// Stage identifies one step of the pipeline state machine.
type Stage string

const (
	StageAnalysis   Stage = "analysis"
	StageEvaluation Stage = "evaluation"
	StageReport     Stage = "report"
	StagePRDraft    Stage = "pr_draft"
	StagePRDoc      Stage = "pr_doc"
	StageEmailDraft Stage = "email_draft"
	StageValidate   Stage = "validate"
	StageDone       Stage = "done"
)

// linearTransitions is the fixed forward edge set. The only non-linear
// transition, validate back to email_draft, is decided by nextAfterValidate.
var linearTransitions = map[Stage]Stage{
	StageAnalysis:   StageEvaluation,
	StageEvaluation: StageReport,
	StageReport:     StagePRDraft,
	StagePRDraft:    StagePRDoc,
	StagePRDoc:      StageEmailDraft,
	StageEmailDraft: StageValidate,
}

// DefaultMaxEmailIterations bounds the email redraft loop.
const DefaultMaxEmailIterations = 3

// nextAfterValidate is the retry controller: a pure decision over the gate
// verdict and the iteration counter. The loop is provably bounded by the
// iteration ceiling.
func nextAfterValidate(valid bool, iterations, maxIterations int) Stage {
	if valid || iterations >= maxIterations {
		return StageDone
	}
	return StageEmailDraft
}

// StageError names the stage a pipeline failure occurred in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Retriever is the retrieval service contract the engine depends on.
type Retriever interface {
	Search(ctx context.Context, index, query string, k int) ([]rag.Document, error)
}

// EngineConfig wires the engine's collaborators. Strong and Light are the
// two generation tiers; Light falls back to Strong when absent.
type EngineConfig struct {
	Strong             llm.Client
	Light              llm.Client
	Retriever          Retriever
	Gate               *Gate
	Metrics            *observability.Metrics
	MaxEmailIterations int
	Logger             logging.Logger
}

// Engine drives one pipeline invocation through the stage machine. Engines
// are safe for concurrent Run calls: all per-run mutation lives in the
// State owned by that call.
type Engine struct {
	strong        llm.Client
	light         llm.Client
	retriever     Retriever
	gate          *Gate
	metrics       *observability.Metrics
	maxIterations int
	logger        logging.Logger
}

// NewEngine creates a pipeline engine with explicit dependencies.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Strong == nil {
		return nil, fmt.Errorf("strong generation client is required")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("validation gate is required")
	}
	light := cfg.Light
	if light == nil {
		light = cfg.Strong
	}
	maxIterations := cfg.MaxEmailIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxEmailIterations
	}
	logger := cfg.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("pipeline")
	}
	engine := &Engine{
		strong:        cfg.Strong,
		light:         light,
		retriever:     cfg.Retriever,
		gate:          cfg.Gate,
		metrics:       cfg.Metrics,
		maxIterations: maxIterations,
		logger:        logger,
	}
	if cfg.Metrics != nil {
		cfg.Gate.SetRejectionHook(func(phase string) {
			cfg.Metrics.ValidationRejections.WithLabelValues(phase).Inc()
		})
	}
	return engine, nil
}

// Run executes the full pipeline for one snapshot. On stage failure the
// partial state is returned alongside a StageError naming the failing
// stage; no stage is ever skipped.
func (e *Engine) Run(ctx context.Context, snapshot Snapshot) (*State, error) {
	state := NewState(snapshot)
	e.logger.Info("run %s: pipeline start supplier=%q items=%d risk=%s",
		state.RunID, state.Supplier, len(state.Items), state.RiskLevel)

	stage := StageAnalysis
	for stage != StageDone {
		if err := checkPreconditions(stage, state); err != nil {
			e.observeOutcome("failed")
			return state, &StageError{Stage: stage, Err: err}
		}

		started := time.Now()
		next, err := e.execute(ctx, stage, state)
		e.observeStage(stage, time.Since(started))
		if err != nil {
			e.logger.Error("run %s: stage %s failed: %v", state.RunID, stage, err)
			e.observeOutcome("failed")
			return state, &StageError{Stage: stage, Err: err}
		}

		e.logger.Debug("run %s: stage %s -> %s", state.RunID, stage, next)
		stage = next
	}

	outcome := "accepted"
	if !state.IsValidEmail {
		outcome = "exhausted"
	}
	e.observeOutcome(outcome)
	e.logger.Info("run %s: pipeline done outcome=%s iterations=%d",
		state.RunID, outcome, state.IterationCount)
	return state, nil
}

// execute runs one stage and returns the next stage.
func (e *Engine) execute(ctx context.Context, stage Stage, state *State) (Stage, error) {
	switch stage {
	case StageAnalysis:
		return linearTransitions[stage], e.runAnalysis(ctx, state)
	case StageEvaluation:
		return linearTransitions[stage], e.runEvaluation(ctx, state)
	case StageReport:
		return linearTransitions[stage], e.runReport(ctx, state)
	case StagePRDraft:
		return linearTransitions[stage], e.runPRDraft(ctx, state)
	case StagePRDoc:
		return linearTransitions[stage], e.runPRDoc(ctx, state)
	case StageEmailDraft:
		return linearTransitions[stage], e.runEmailDraft(ctx, state)
	case StageValidate:
		verdict, err := e.gate.Check(ctx, state.EmailText)
		if err != nil {
			return StageDone, err
		}
		state.IsValidEmail = verdict.Valid
		state.CorrectionFeedback = verdict.Feedback
		return nextAfterValidate(verdict.Valid, state.IterationCount, e.maxIterations), nil
	default:
		return StageDone, fmt.Errorf("unknown stage %q", stage)
	}
}

func (e *Engine) observeStage(stage Stage, elapsed time.Duration) {
	if e.metrics != nil {
		e.metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	}
}

func (e *Engine) observeOutcome(outcome string) {
	if e.metrics != nil {
		e.metrics.PipelineRuns.WithLabelValues(outcome).Inc()
	}
}
