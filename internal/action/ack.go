package action

import (
	"time"

	"github.com/danmuck/actionrpc/internal/document"
	"github.com/danmuck/actionrpc/internal/protocol/stream"
)

const (
	DefaultMasterNodeTimeout = 30 * time.Second
	DefaultAckTimeout        = 30 * time.Second
)

// AckRequest carries the acknowledgement timeouts shared by requests that
// change cluster-level state. It is encoded ahead of the action's own
// fields.
type AckRequest struct {
	MasterNodeTimeout time.Duration
	AckTimeout        time.Duration
}

func DefaultAckRequest() AckRequest {
	return AckRequest{
		MasterNodeTimeout: DefaultMasterNodeTimeout,
		AckTimeout:        DefaultAckTimeout,
	}
}

func (a AckRequest) Encode(w *stream.Writer) {
	w.WriteDuration(a.MasterNodeTimeout)
	w.WriteDuration(a.AckTimeout)
}

func ReadAckRequest(r *stream.Reader) (AckRequest, error) {
	master, err := r.ReadDuration()
	if err != nil {
		return AckRequest{}, err
	}
	ack, err := r.ReadDuration()
	if err != nil {
		return AckRequest{}, err
	}
	return AckRequest{MasterNodeTimeout: master, AckTimeout: ack}, nil
}

// ValidateTimeouts appends timeout violations to err.
func (a AckRequest) ValidateTimeouts(err *ValidationError) *ValidationError {
	if a.MasterNodeTimeout < 0 {
		err = AddValidationError("master_node_timeout must not be negative", err)
	}
	if a.AckTimeout < 0 {
		err = AddValidationError("ack_timeout must not be negative", err)
	}
	return err
}

// AcknowledgedResponse reports whether the change was acknowledged.
type AcknowledgedResponse struct {
	Acknowledged bool
}

func (a *AcknowledgedResponse) Encode(w *stream.Writer) error {
	w.WriteBool(a.Acknowledged)
	return nil
}

func ReadAcknowledgedResponse(r *stream.Reader) (*AcknowledgedResponse, error) {
	ack, err := r.ReadBool()
	if err != nil {
		return nil, err
	}
	return &AcknowledgedResponse{Acknowledged: ack}, nil
}

func (a *AcknowledgedResponse) ToDocument() *document.Object {
	return document.NewObject().Field("acknowledged", a.Acknowledged)
}
