package service

import (
	"context"

	"mismobridge/internal/harness"
	"mismobridge/internal/pipeline/models"
	id "mismobridge/pkg/domain"
	dErrors "mismobridge/pkg/domain-errors"
	"mismobridge/pkg/platform/audit"
	"mismobridge/pkg/requestcontext"
)

// MaxHarnessCases bounds one harness run.
const MaxHarnessCases = 10_000

// RunHarness generates a seeded corpus for the selected pack and round-trips
// every case. When the timeout or ctx ends first, cases not yet started are
// abandoned and the completed ones are still summarized.
func (s *Service) RunHarness(ctx context.Context, req models.HarnessRequest) (*harness.Summary, error) {
	if req.Cases <= 0 || req.Cases > MaxHarnessCases {
		return nil, dErrors.New(dErrors.CodeBadRequest, "cases must be between 1 and 10000")
	}
	p, err := s.resolve(req.Target)
	if err != nil {
		return nil, err
	}
	runID := id.NewRunID()
	ctx = requestcontext.WithRunID(ctx, runID)
	ctx, span := s.tracer.Start(ctx, "pipeline.harness")
	defer span.End()

	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	sum, err := s.harness.Run(runCtx, p.ID, harness.Generate(req.Cases, req.Seed, p))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "harness run failed")
	}

	s.metrics.AddHarnessCases(p.ID, sum.Passed, sum.Failed, sum.Abandoned)
	if s.logger != nil {
		s.logger.InfoContext(ctx, "harness run completed",
			"request_id", requestcontext.RequestID(ctx),
			"run_id", runID,
			"pack_id", p.ID,
			"seed", req.Seed,
			"total", sum.Total,
			"passed", sum.Passed,
			"failed", sum.Failed,
			"abandoned", sum.Abandoned,
			"min_coverage", sum.MinCoverage(),
			"duration_ms", sum.Duration.Milliseconds(),
		)
	}
	if s.auditPublisher != nil {
		status := "PASS"
		if sum.Failed > 0 {
			status = "FAIL"
		}
		e := audit.Event{
			Category:  audit.EventHarnessCompleted.Category(),
			Timestamp: requestcontext.Now(ctx),
			RunID:     runID,
			Action:    string(audit.EventHarnessCompleted),
			PackID:    p.ID,
			Status:    status,
			Errors:    sum.Failed,
			RequestID: requestcontext.RequestID(ctx),
		}
		if err := s.auditPublisher.Emit(ctx, e); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to publish audit event", "run_id", runID, "action", e.Action, "error", err)
		}
	}
	return sum, nil
}
