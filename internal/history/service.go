package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Service records workflow runs. Recording failures are logged and returned
// but never block the workflow itself.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (s *Service) RecordStart(ctx context.Context, run *Run) error {
	now := time.Now()
	if run.ID == "" {
		run.ID = NewID()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	run.CreatedAt = now
	run.UpdatedAt = now

	if err := s.repo.CreateRun(ctx, run); err != nil {
		s.logger.Warn("failed to record run start", "run_id", run.ID, "error", err)
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *Service) RecordTask(ctx context.Context, runID, taskID string) error {
	if err := s.repo.UpdateRunTask(ctx, runID, taskID); err != nil {
		s.logger.Warn("failed to record task id", "run_id", runID, "task_id", taskID, "error", err)
		return fmt.Errorf("update run task: %w", err)
	}
	return nil
}

func (s *Service) RecordFinish(ctx context.Context, runID, status, resultURL, errMsg string) error {
	switch status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
	default:
		return fmt.Errorf("invalid terminal status %q", status)
	}

	if err := s.repo.FinishRun(ctx, runID, status, resultURL, errMsg); err != nil {
		s.logger.Warn("failed to record run finish", "run_id", runID, "status", status, "error", err)
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

func (s *Service) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	return s.repo.ListRuns(ctx, limit)
}

func (s *Service) GetRun(ctx context.Context, id string) (*Run, error) {
	return s.repo.GetRun(ctx, id)
}

// EnsureInstallID returns the persistent install id, creating it on first use.
func (s *Service) EnsureInstallID(ctx context.Context) (string, error) {
	existing, err := s.repo.GetConfig(ctx, "install_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	id := NewID()
	if err := s.repo.SetConfig(ctx, "install_id", id); err != nil {
		return "", err
	}
	return id, nil
}
