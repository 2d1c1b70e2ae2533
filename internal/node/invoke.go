package node

import (
	"context"

	"github.com/danmuck/actionrpc/internal/action"
)

// Invoke runs t on this node without a network hop, at the version the node
// advertises to peers. Validation and both codecs run exactly as they would
// for a remote caller.
func Invoke[Req action.Request, Resp action.Response](ctx context.Context, n *Node, t *action.Type[Resp], req Req) (Resp, error) {
	return action.Invoke(ctx, n.dispatcher, n.transport.Version, t, req)
}
