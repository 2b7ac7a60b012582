// Package execution runs the stage, supervise, harvest and publish pipeline
// for one request and assembles the result.
package execution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/michaelbrown/execd/internal/artifact"
	"github.com/michaelbrown/execd/internal/sandbox"
)

// DefaultLanguage is echoed back in results unless overridden.
const DefaultLanguage = "PYTHON"

// Request is one execution to perform.
type Request struct {
	Code      string              `json:"code" yaml:"code"`
	Files     []sandbox.FileInput `json:"files,omitempty" yaml:"files"`
	TimeoutMs *int                `json:"timeoutMs,omitempty" yaml:"timeoutMs"` // nil = policy default
}

// Result is the outcome of Execute.
type Result struct {
	Language  string
	Code      string
	Outcome   sandbox.Outcome
	ExitCode  int
	Stdout    string
	Stderr    string
	Artifacts []artifact.Artifact
	Duration  time.Duration
}

// Service executes requests. It is safe for concurrent use.
type Service struct {
	language   string
	policy     sandbox.Policy
	stager     *sandbox.Stager
	supervisor *sandbox.Supervisor
	publish    *artifact.Externalizer
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used by every stage.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithLanguage sets the language label echoed in results.
func WithLanguage(lang string) Option {
	return func(s *Service) { s.language = lang }
}

// WithPublishTimeout bounds each artifact upload.
func WithPublishTimeout(d time.Duration) Option {
	return func(s *Service) { s.publish.Timeout = d }
}

// New creates a Service. A nil publisher returns every artifact inline.
func New(policy sandbox.Policy, publisher artifact.Publisher, opts ...Option) *Service {
	s := &Service{
		language: DefaultLanguage,
		policy:   policy,
		publish:  &artifact.Externalizer{Publisher: publisher, Timeout: 10 * time.Second},
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/michaelbrown/execd/internal/execution"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.stager = sandbox.NewStager(policy)
	s.supervisor = sandbox.NewSupervisor(policy, s.logger)
	s.publish.Logger = s.logger
	return s
}

// Timeout returns the effective budget for a requested timeout in
// milliseconds. Only a missing value takes the policy default; every
// supplied value, zero included, is clamped.
func (s *Service) Timeout(ms *int) time.Duration {
	if ms == nil {
		return s.policy.ClampTimeout(int(s.policy.DefaultTimeout.Milliseconds()))
	}
	return s.policy.ClampTimeout(*ms)
}

// Execute runs req to completion. It always returns a result; failures to
// stage or start the payload are reported as OUTCOME_SPAWN_FAILURE.
func (s *Service) Execute(ctx context.Context, req Request) *Result {
	ctx, span := s.tracer.Start(ctx, "execution.Execute")
	defer span.End()

	timeout := s.Timeout(req.TimeoutMs)
	span.SetAttributes(
		attribute.Int("execd.files", len(req.Files)),
		attribute.Int64("execd.timeout_ms", timeout.Milliseconds()),
	)

	ws, err := s.stage(ctx, req)
	if err != nil {
		s.logger.WarnContext(ctx, "staging workspace failed", "error", err)
		return s.fail(span, req, sandbox.SpawnFailure("Failed to prepare workspace", err))
	}
	defer func() {
		if err := ws.Cleanup(); err != nil {
			s.logger.WarnContext(ctx, "removing workspace failed", "root", ws.Root, "error", err)
		}
	}()

	run, err := s.supervise(ctx, ws, timeout)
	if err != nil {
		s.logger.WarnContext(ctx, "starting payload failed", "error", err)
		var spawnErr *sandbox.SpawnError
		if errors.As(err, &spawnErr) {
			err = spawnErr.Err
		}
		return s.fail(span, req, sandbox.SpawnFailure("Failed to start process", err))
	}

	// Timed-out runs are harvested too; whatever they wrote is returned.
	cands := s.harvest(ctx, ws)
	arts := s.externalize(ctx, cands)

	span.SetAttributes(
		attribute.String("execd.outcome", string(run.Outcome)),
		attribute.Int("execd.exit_code", run.ExitCode),
		attribute.Int("execd.artifacts", len(arts)),
	)
	s.logger.InfoContext(ctx, "execution finished",
		"outcome", run.Outcome,
		"exit_code", run.ExitCode,
		"duration", run.Duration,
		"artifacts", len(arts),
	)
	return Assemble(s.language, req.Code, run, arts)
}

func (s *Service) fail(span trace.Span, req Request, run *sandbox.RunResult) *Result {
	span.SetStatus(codes.Error, run.Stderr)
	span.SetAttributes(attribute.String("execd.outcome", string(run.Outcome)))
	return Assemble(s.language, req.Code, run, nil)
}

func (s *Service) stage(ctx context.Context, req Request) (*sandbox.Workspace, error) {
	_, span := s.tracer.Start(ctx, "stage")
	defer span.End()

	ws, err := s.stager.Stage(req.Files, req.Code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "staging failed")
		return nil, err
	}
	return ws, nil
}

func (s *Service) supervise(ctx context.Context, ws *sandbox.Workspace, timeout time.Duration) (*sandbox.RunResult, error) {
	ctx, span := s.tracer.Start(ctx, "supervise")
	defer span.End()

	run, err := s.supervisor.Run(ctx, ws, timeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("execd.outcome", string(run.Outcome)))
	return run, nil
}

func (s *Service) harvest(ctx context.Context, ws *sandbox.Workspace) []artifact.Candidate {
	ctx, span := s.tracer.Start(ctx, "harvest")
	defer span.End()

	cands := artifact.Harvest(ctx, ws.Root, s.logger)
	span.SetAttributes(attribute.Int("execd.candidates", len(cands)))
	return cands
}

func (s *Service) externalize(ctx context.Context, cands []artifact.Candidate) []artifact.Artifact {
	if len(cands) == 0 {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "publish")
	defer span.End()

	arts := s.publish.Resolve(ctx, cands)
	remote := 0
	for _, a := range arts {
		if a.Storage == artifact.StorageRemote {
			remote++
		}
	}
	span.SetAttributes(attribute.Int("execd.remote", remote))
	return arts
}
