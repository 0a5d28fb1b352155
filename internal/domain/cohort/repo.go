package cohort

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrSnapshotNotFound is returned by repositories when no snapshot matches.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is a persisted version of a cohort request: the serialized tree
// as the user left it and the request document sent to the backend.
type Snapshot struct {
	ID              uuid.UUID       `json:"id"`
	RequestID       string          `json:"requestId"`
	SerializedModel json.RawMessage `json:"serializedModel"`
	RequestDocument json.RawMessage `json:"requestDocument"`
	Nominative      bool            `json:"nominative"`
	AccessTier      AccessTier      `json:"accessTier"`
	CreatedAt       time.Time       `json:"createdAt"`
}

type SnapshotRepository interface {
	Create(ctx context.Context, s *Snapshot) error
	GetByID(ctx context.Context, id uuid.UUID) (*Snapshot, error)
	ListByRequest(ctx context.Context, requestID string, limit, offset int) ([]*Snapshot, int, error)
}
