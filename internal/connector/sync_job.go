// Package connector holds connector sync job actions.
package connector

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/actionrpc/internal/action"
	"github.com/danmuck/actionrpc/internal/document"
	"github.com/danmuck/actionrpc/internal/failure"
	"github.com/danmuck/actionrpc/internal/protocol/stream"
)

const (
	DeleteSyncJobActionName = "cluster:admin/xpack/connector/sync_job/delete"

	EmptySyncJobIDMessage = "[connector_sync_job_id] of the connector sync job cannot be null or empty."
)

var DeleteSyncJobAction = action.NewType(DeleteSyncJobActionName, action.ReadAcknowledgedResponse)

type DeleteSyncJobRequest struct {
	SyncJobID string
}

func NewDeleteSyncJobRequest(id string) *DeleteSyncJobRequest {
	return &DeleteSyncJobRequest{SyncJobID: id}
}

func (r *DeleteSyncJobRequest) Validate() *action.ValidationError {
	var err *action.ValidationError
	if strings.TrimSpace(r.SyncJobID) == "" {
		err = action.AddValidationError(EmptySyncJobIDMessage, err)
	}
	return err
}

func (r *DeleteSyncJobRequest) Encode(w *stream.Writer) error {
	w.WriteString(r.SyncJobID)
	return nil
}

func ReadDeleteSyncJobRequest(r *stream.Reader) (*DeleteSyncJobRequest, error) {
	id, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	return &DeleteSyncJobRequest{SyncJobID: id}, nil
}

// SyncJob is one run of a connector.
type SyncJob struct {
	ID          string
	ConnectorID string
	Status      string
	CreatedAt   time.Time
}

func (j SyncJob) ToDocument() *document.Object {
	return document.NewObject().
		Field("id", j.ID).
		Field("connector_id", j.ConnectorID).
		Field("status", j.Status).
		FieldIf(!j.CreatedAt.IsZero(), "created_at", j.CreatedAt.UTC().Format(time.RFC3339))
}

// SyncJobStore deletes sync jobs by id.
type SyncJobStore interface {
	Delete(ctx context.Context, id string) error
}

// MemorySyncJobStore keeps sync jobs in memory.
type MemorySyncJobStore struct {
	mu   sync.Mutex
	jobs map[string]SyncJob
}

func NewMemorySyncJobStore(jobs ...SyncJob) *MemorySyncJobStore {
	s := &MemorySyncJobStore{jobs: make(map[string]SyncJob)}
	for _, j := range jobs {
		s.Put(j)
	}
	return s
}

func (s *MemorySyncJobStore) Put(j SyncJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j
}

func (s *MemorySyncJobStore) Get(id string) (SyncJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

// IDs returns stored ids in sorted order.
func (s *MemorySyncJobStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *MemorySyncJobStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return failure.NotFound("connector sync job [%s] not found", id)
	}
	delete(s.jobs, id)
	return nil
}

// Handler serves the delete action from store.
func Handler(store SyncJobStore) action.HandlerFunc[*DeleteSyncJobRequest, *action.AcknowledgedResponse] {
	return func(ctx context.Context, req *DeleteSyncJobRequest) (*action.AcknowledgedResponse, error) {
		if err := store.Delete(ctx, req.SyncJobID); err != nil {
			return nil, err
		}
		return &action.AcknowledgedResponse{Acknowledged: true}, nil
	}
}

// Bind registers the delete handler on d.
func Bind(d *action.Dispatcher, store SyncJobStore) error {
	return action.Handle(d, DeleteSyncJobAction, ReadDeleteSyncJobRequest, Handler(store))
}
