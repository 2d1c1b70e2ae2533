package inference

import (
	"errors"
	"maps"

	"github.com/danmuck/actionrpc/internal/document"
	"github.com/danmuck/actionrpc/internal/protocol/stream"
)

var ErrNilModel = errors.New("inference: nil model configuration")

// ModelConfigurations describes one configured inference endpoint.
type ModelConfigurations struct {
	InferenceEntityID string
	TaskType          TaskType
	Service           string
	ServiceSettings   map[string]string
	TaskSettings      map[string]string
}

func (m *ModelConfigurations) Encode(w *stream.Writer) error {
	if m == nil {
		return ErrNilModel
	}
	if err := checkTaskType(m.TaskType); err != nil {
		return err
	}
	w.WriteString(m.InferenceEntityID)
	writeTaskType(w, m.TaskType)
	w.WriteString(m.Service)
	w.WriteStringMap(m.ServiceSettings)
	w.WriteStringMap(m.TaskSettings)
	return nil
}

func writeModel(w *stream.Writer, m *ModelConfigurations) error {
	return m.Encode(w)
}

func ReadModelConfigurations(r *stream.Reader) (*ModelConfigurations, error) {
	id, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	taskType, err := readTaskType(r)
	if err != nil {
		return nil, err
	}
	service, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	serviceSettings, err := r.ReadStringMap()
	if err != nil {
		return nil, err
	}
	taskSettings, err := r.ReadStringMap()
	if err != nil {
		return nil, err
	}
	return &ModelConfigurations{
		InferenceEntityID: id,
		TaskType:          taskType,
		Service:           service,
		ServiceSettings:   emptyToNil(serviceSettings),
		TaskSettings:      emptyToNil(taskSettings),
	}, nil
}

// Equal compares by value. Nil and empty settings maps are equal.
func (m *ModelConfigurations) Equal(other *ModelConfigurations) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.InferenceEntityID == other.InferenceEntityID &&
		m.TaskType == other.TaskType &&
		m.Service == other.Service &&
		maps.Equal(m.ServiceSettings, other.ServiceSettings) &&
		maps.Equal(m.TaskSettings, other.TaskSettings)
}

// Clone returns a deep copy.
func (m *ModelConfigurations) Clone() *ModelConfigurations {
	if m == nil {
		return nil
	}
	out := *m
	out.ServiceSettings = maps.Clone(m.ServiceSettings)
	out.TaskSettings = maps.Clone(m.TaskSettings)
	return &out
}

func (m *ModelConfigurations) ToDocument() *document.Object {
	doc := document.NewObject().
		Field("inference_id", m.InferenceEntityID).
		Field("task_type", m.TaskType.String()).
		Field("service", m.Service)
	doc.Field("service_settings", settingsOrEmpty(m.ServiceSettings))
	doc.Field("task_settings", settingsOrEmpty(m.TaskSettings))
	return doc
}

func settingsOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func emptyToNil(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}
