package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueCleanup holds retries of external cleanup after user deletion.
	QueueCleanup = "cleanup"
	// TaskCleanupCredential deletes a credential at the Auth service.
	TaskCleanupCredential = "identity:cleanup:credential"
	// TaskCleanupPersonnel deletes the personnel records of a user.
	TaskCleanupPersonnel = "identity:cleanup:personnel"

	// cleanupMaxRetry bounds the retries of one cleanup task.
	cleanupMaxRetry = 12
)

// CredentialCleanupPayload identifies a credential to delete.
type CredentialCleanupPayload struct {
	UserID     uuid.UUID `json:"user_id"`
	ExternalID string    `json:"external_id"`
}

// PersonnelCleanupPayload identifies a deleted user.
type PersonnelCleanupPayload struct {
	UserID uuid.UUID `json:"user_id"`
}

// NewCredentialCleanupTask constructs an Asynq task for a credential delete.
func NewCredentialCleanupTask(userID uuid.UUID, externalID string) (*asynq.Task, error) {
	body, err := json.Marshal(CredentialCleanupPayload{UserID: userID, ExternalID: externalID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCleanupCredential, body, asynq.Queue(QueueCleanup), asynq.MaxRetry(cleanupMaxRetry)), nil
}

// NewPersonnelCleanupTask constructs an Asynq task for a personnel delete.
func NewPersonnelCleanupTask(userID uuid.UUID) (*asynq.Task, error) {
	body, err := json.Marshal(PersonnelCleanupPayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCleanupPersonnel, body, asynq.Queue(QueueCleanup), asynq.MaxRetry(cleanupMaxRetry)), nil
}
