// Package inference holds the inference endpoint lookup action.
package inference

import (
	"strings"

	"github.com/danmuck/actionrpc/internal/action"
	"github.com/danmuck/actionrpc/internal/document"
	"github.com/danmuck/actionrpc/internal/protocol/stream"
	"github.com/danmuck/actionrpc/internal/protocol/version"
)

const (
	GetModelActionName = "cluster:admin/xpack/inference/get"

	// AllEndpoints selects every configured endpoint. "*" is accepted too.
	AllEndpoints = "_all"

	EmptyInferenceEntityIDMessage = "[inference_entity_id] must not be empty"
)

var GetModelAction = action.NewType(GetModelActionName, ReadGetModelResponse)

type GetModelRequest struct {
	Ack               action.AckRequest
	InferenceEntityID string
	TaskType          TaskType
}

// NewGetModelRequest builds a request with default ack timeouts. An unknown
// task type name is rejected with *action.UnknownDiscriminantError.
func NewGetModelRequest(inferenceEntityID, taskType string) (*GetModelRequest, error) {
	tt, err := ParseTaskType(taskType)
	if err != nil {
		return nil, err
	}
	return &GetModelRequest{
		Ack:               action.DefaultAckRequest(),
		InferenceEntityID: inferenceEntityID,
		TaskType:          tt,
	}, nil
}

// Wildcard reports whether the request selects every endpoint.
func (r *GetModelRequest) Wildcard() bool {
	return r.InferenceEntityID == AllEndpoints || r.InferenceEntityID == "*"
}

// CheckDiscriminants rejects a TaskType that did not come from ParseTaskType.
func (r *GetModelRequest) CheckDiscriminants() error {
	return checkTaskType(r.TaskType)
}

func (r *GetModelRequest) Validate() *action.ValidationError {
	err := r.Ack.ValidateTimeouts(nil)
	if strings.TrimSpace(r.InferenceEntityID) == "" {
		err = action.AddValidationError(EmptyInferenceEntityIDMessage, err)
	}
	return err
}

func (r *GetModelRequest) Encode(w *stream.Writer) error {
	if err := checkTaskType(r.TaskType); err != nil {
		return err
	}
	r.Ack.Encode(w)
	w.WriteString(r.InferenceEntityID)
	writeTaskType(w, r.TaskType)
	return nil
}

func ReadGetModelRequest(r *stream.Reader) (*GetModelRequest, error) {
	ack, err := action.ReadAckRequest(r)
	if err != nil {
		return nil, err
	}
	id, err := r.ReadString()
	if err != nil {
		return nil, err
	}
	tt, err := readTaskType(r)
	if err != nil {
		return nil, err
	}
	return &GetModelRequest{Ack: ack, InferenceEntityID: id, TaskType: tt}, nil
}

// GetModelResponse lists matching endpoints. Peers before
// MLInferenceGetMultipleModels exchange exactly one model.
type GetModelResponse struct {
	Models []*ModelConfigurations
}

func (r *GetModelResponse) Encode(w *stream.Writer) error {
	return action.WriteVersionedCollection(w, version.MultipleModels, r.Models, writeModel)
}

func ReadGetModelResponse(r *stream.Reader) (*GetModelResponse, error) {
	models, err := action.ReadVersionedCollection(r, version.MultipleModels, ReadModelConfigurations)
	if err != nil {
		return nil, err
	}
	return &GetModelResponse{Models: models}, nil
}

func (r *GetModelResponse) Equal(other *GetModelResponse) bool {
	if r == nil || other == nil {
		return r == other
	}
	if len(r.Models) != len(other.Models) {
		return false
	}
	for i := range r.Models {
		if !r.Models[i].Equal(other.Models[i]) {
			return false
		}
	}
	return true
}

func (r *GetModelResponse) ToDocument() *document.Object {
	models := make(document.Array, 0, len(r.Models))
	for _, m := range r.Models {
		if m != nil {
			models = append(models, m.ToDocument())
		}
	}
	return document.NewObject().Field("models", models)
}
