package action

import (
	"context"
	"fmt"

	"github.com/danmuck/actionrpc/internal/failure"
	"github.com/danmuck/actionrpc/internal/protocol/stream"
	"github.com/danmuck/actionrpc/internal/protocol/version"
)

// EncodeRequest writes req at version v.
func EncodeRequest(req Request, v version.Version) ([]byte, error) {
	w := stream.NewWriter(v)
	if err := req.Encode(w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeResponse rebuilds a typed response from a reply payload encoded at v.
func DecodeResponse[Resp Response](t *Type[Resp], payload []byte, v version.Version) (Resp, error) {
	r := stream.NewReader(payload, v)
	resp, err := t.Read(r)
	if err != nil {
		var zero Resp
		return zero, fmt.Errorf("decode response for [%s]: %w", t.Name(), err)
	}
	if err := r.EnsureFullyRead(); err != nil {
		var zero Resp
		return zero, fmt.Errorf("message not fully read (response) for action [%s]: %w", t.Name(), err)
	}
	return resp, nil
}

// DecodeFailure rebuilds a failure envelope encoded at v.
func DecodeFailure(payload []byte, v version.Version) (*failure.Failure, error) {
	r := stream.NewReader(payload, v)
	f, err := failure.Read(r)
	if err != nil {
		return nil, fmt.Errorf("decode failure envelope: %w", err)
	}
	if err := r.EnsureFullyRead(); err != nil {
		return nil, fmt.Errorf("message not fully read (failure): %w", err)
	}
	return f, nil
}

// Invoke runs the full caller pipeline against a local dispatcher at
// version v. Validation runs before anything is encoded; a remote-side
// failure comes back as *failure.Failure.
func Invoke[Req Request, Resp Response](ctx context.Context, d *Dispatcher, v version.Version, t *Type[Resp], req Req) (Resp, error) {
	var zero Resp
	if err := Validate(req); err != nil {
		return zero, err
	}
	payload, err := EncodeRequest(req, v)
	if err != nil {
		return zero, fmt.Errorf("encode request for [%s]: %w", t.Name(), err)
	}

	out := stream.NewWriter(v)
	res := d.Dispatch(ctx, t.Name(), stream.NewReader(payload, v), out)
	if !res.Succeeded() {
		f, err := DecodeFailure(out.Bytes(), v)
		if err != nil {
			return zero, err
		}
		return zero, f
	}
	return DecodeResponse(t, out.Bytes(), v)
}
