package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/fieldcrew/identity/internal/identity"
	jobmetrics "github.com/fieldcrew/identity/internal/jobs"
	"github.com/fieldcrew/identity/internal/shared"
)

// CredentialDeleter removes credentials at the Auth service.
type CredentialDeleter interface {
	DeleteCredential(ctx context.Context, externalID string) error
}

// PersonnelDeleter removes personnel records of a user.
type PersonnelDeleter interface {
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
}

// CleanupJob retries the external cleanup steps of a user hard delete.
type CleanupJob struct {
	Credentials CredentialDeleter
	Personnel   PersonnelDeleter
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
}

// NewCleanupJob initialises the cleanup handlers.
func NewCleanupJob(credentials CredentialDeleter, personnel PersonnelDeleter, logger *slog.Logger, metrics *jobmetrics.Metrics) *CleanupJob {
	return &CleanupJob{Credentials: credentials, Personnel: personnel, Logger: logger, Metrics: metrics}
}

// HandleCredential processes TaskCleanupCredential. A credential that no
// longer exists counts as done.
func (j *CleanupJob) HandleCredential(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Credentials == nil {
		return errors.New("credential cleanup: handler not configured")
	}
	var payload CredentialCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ExternalID == "" {
		return fmt.Errorf("credential cleanup: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskCleanupCredential)
	defer func() { err = tracker.End(err) }()

	logger := j.logger().With(slog.String("user_id", payload.UserID.String()))
	err = j.Credentials.DeleteCredential(ctx, payload.ExternalID)
	switch {
	case err == nil, errors.Is(err, identity.ErrCredentialNotFound):
		logger.Info("credential cleanup done")
		return nil
	case errors.Is(err, shared.ErrUnavailable):
		logger.Warn("credential cleanup will retry", slog.Any("error", err))
		return err
	default:
		logger.Error("credential cleanup failed", slog.Any("error", err))
		return err
	}
}

// HandlePersonnel processes TaskCleanupPersonnel.
func (j *CleanupJob) HandlePersonnel(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Personnel == nil {
		return errors.New("personnel cleanup: handler not configured")
	}
	var payload PersonnelCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.UserID == uuid.Nil {
		return fmt.Errorf("personnel cleanup: bad payload: %w", asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskCleanupPersonnel)
	defer func() { err = tracker.End(err) }()

	logger := j.logger().With(slog.String("user_id", payload.UserID.String()))
	if err = j.Personnel.DeleteByUser(ctx, payload.UserID); err != nil {
		logger.Warn("personnel cleanup will retry", slog.Any("error", err))
		return err
	}
	logger.Info("personnel cleanup done")
	return nil
}

// Handlers lists the task registrations of the job.
func (j *CleanupJob) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskCleanupCredential, Handler: j.HandleCredential},
		{Type: TaskCleanupPersonnel, Handler: j.HandlePersonnel},
	}
}

func (j *CleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
