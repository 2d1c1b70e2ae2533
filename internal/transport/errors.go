package transport

import (
	"errors"
	"fmt"

	"github.com/danmuck/actionrpc/internal/failure"
)

var (
	ErrClosed            = errors.New("transport: connection closed")
	ErrProtocol          = errors.New("transport: protocol violation")
	ErrHandshakeRejected = errors.New("transport: handshake rejected")
)

// RemoteError is a failure raised while the remote node handled an action.
type RemoteError struct {
	Node    string
	Action  string
	Failure *failure.Failure
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("[%s][%s] %s", e.Node, e.Action, e.Failure.Error())
}

func (e *RemoteError) Unwrap() error {
	if e.Failure == nil {
		return nil
	}
	return e.Failure
}
