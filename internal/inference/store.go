package inference

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"github.com/danmuck/actionrpc/internal/action"
	"github.com/danmuck/actionrpc/internal/failure"
)

// ModelStore resolves endpoint lookups for the get action.
type ModelStore interface {
	Models(ctx context.Context, inferenceEntityID string, taskType TaskType) ([]*ModelConfigurations, error)
}

// MemoryModelStore keeps endpoint configurations in memory.
type MemoryModelStore struct {
	mu     sync.RWMutex
	models map[string]*ModelConfigurations
}

func NewMemoryModelStore(models ...*ModelConfigurations) *MemoryModelStore {
	s := &MemoryModelStore{models: make(map[string]*ModelConfigurations)}
	for _, m := range models {
		s.Put(m)
	}
	return s
}

// Put stores a copy of m, replacing any endpoint with the same id.
func (s *MemoryModelStore) Put(m *ModelConfigurations) {
	if m == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.InferenceEntityID] = m.Clone()
}

func (s *MemoryModelStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.models)
}

// Models returns matching endpoints sorted by id. A wildcard id never
// fails; it may return nothing.
func (s *MemoryModelStore) Models(ctx context.Context, id string, taskType TaskType) ([]*ModelConfigurations, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id == AllEndpoints || id == "*" {
		out := make([]*ModelConfigurations, 0, len(s.models))
		for _, m := range s.models {
			if m.TaskType.Matches(taskType) {
				out = append(out, m.Clone())
			}
		}
		sort.Slice(out, func(i, j int) bool {
			return out[i].InferenceEntityID < out[j].InferenceEntityID
		})
		return out, nil
	}

	m, ok := s.models[id]
	if !ok {
		return nil, failure.NotFound("Inference endpoint not found [%s]", id)
	}
	if !m.TaskType.Matches(taskType) {
		return nil, failure.WithStatus(http.StatusBadRequest,
			"Requested task type [%s] does not match the inference endpoint's task type [%s]", taskType, m.TaskType)
	}
	return []*ModelConfigurations{m.Clone()}, nil
}

// Handler serves the get action from store.
func Handler(store ModelStore) action.HandlerFunc[*GetModelRequest, *GetModelResponse] {
	return func(ctx context.Context, req *GetModelRequest) (*GetModelResponse, error) {
		models, err := store.Models(ctx, req.InferenceEntityID, req.TaskType)
		if err != nil {
			return nil, err
		}
		return &GetModelResponse{Models: models}, nil
	}
}

// Bind registers the get handler on d.
func Bind(d *action.Dispatcher, store ModelStore) error {
	return action.Handle(d, GetModelAction, ReadGetModelRequest, Handler(store))
}
