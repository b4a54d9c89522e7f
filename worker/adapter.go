package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/testbot/executor"
	"github.com/isdmx/testbot/master"
)

const reportTimeout = 30 * time.Second

// Reporter delivers the final outcome of a job.
type Reporter interface {
	ReportResult(ctx context.Context, ref master.JobRef, outcome master.Outcome) error
}

// Recorder receives one observation per finished job.
type Recorder interface {
	ObserveJob(kind, finalState, errorKind string, d time.Duration)
}

// Adapter runs jobs and reports their outcomes.
type Adapter struct {
	registry *Registry
	reporter Reporter
	recorder Recorder
	logger   *zap.Logger
}

// AdapterOption defines a functional option for Adapter
type AdapterOption func(*Adapter)

// WithRecorder sets the Recorder for Adapter
func WithRecorder(r Recorder) AdapterOption {
	return func(a *Adapter) {
		a.recorder = r
	}
}

// NewAdapter creates a new Adapter
func NewAdapter(registry *Registry, reporter Reporter, logger *zap.Logger, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		registry: registry,
		reporter: reporter,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Kinds returns the job kinds the adapter can run.
func (a *Adapter) Kinds() []master.Kind {
	return a.registry.Kinds()
}

// Handle runs one job and reports its outcome. The outcome is returned even
// when the report could not be delivered.
func (a *Adapter) Handle(ctx context.Context, kind master.Kind, ref master.JobRef) (master.Outcome, error) {
	log := a.logger.With(
		zap.String("kind", string(kind)),
		zap.String("work_id", ref.WorkID),
		zap.Int64("submission_id", ref.SubmissionID),
		zap.Int64("test_config_id", ref.TestConfigID))
	log.Info("job started")

	start := time.Now()
	outcome := a.execute(ctx, kind, ref)
	elapsed := time.Since(start)

	if a.recorder != nil {
		a.recorder.ObserveJob(string(kind), string(outcome.FinalState), outcome.ErrorKind, elapsed)
	}
	if outcome.FinalState == master.StateSuccess {
		log.Info("job succeeded", zap.Duration("elapsed", elapsed))
	} else {
		log.Warn("job failed",
			zap.Duration("elapsed", elapsed),
			zap.String("error_kind", outcome.ErrorKind),
			zap.String("message", outcome.Message))
	}

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()
	if err := a.reporter.ReportResult(reportCtx, ref, outcome); err != nil {
		log.Error("failed to report job outcome", zap.Error(err))
		return outcome, fmt.Errorf("failed to report outcome of %s: %w", ref, err)
	}
	return outcome, nil
}

func (a *Adapter) execute(ctx context.Context, kind master.Kind, ref master.JobRef) (outcome master.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = master.Outcome{
				FinalState: master.StateFailure,
				ErrorKind:  string(executor.InfrastructureError),
				Message:    fmt.Sprintf("panic: %v", r),
				Trace:      string(debug.Stack()),
			}
		}
	}()

	factory, ok := a.registry.Lookup(kind)
	if !ok {
		return master.Outcome{
			FinalState: master.StateFailure,
			ErrorKind:  string(executor.ConfigurationError),
			Message:    fmt.Sprintf("unknown job kind %q", kind),
		}
	}

	result, err := executor.Start(ctx, factory(ref))
	if err != nil {
		return master.Outcome{
			FinalState: master.StateFailure,
			ErrorKind:  string(executor.KindOf(err)),
			Message:    err.Error(),
			Trace:      executor.Trace(err),
		}
	}
	return master.Outcome{FinalState: master.StateSuccess, Result: result}
}
