package node

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/actionrpc/internal/connector"
	"github.com/danmuck/actionrpc/internal/document"
	"github.com/danmuck/actionrpc/internal/failure"
	"github.com/danmuck/actionrpc/internal/inference"
	"github.com/danmuck/actionrpc/internal/protocol/version"
)

func (n *Node) registerRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(n.appeared).String(),
			"node":    n.cfg.Node.Name,
			"version": n.transport.Version.String(),
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		if !n.Ready() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   n.Ready(),
			"node":    n.cfg.Node.Name,
			"actions": n.registry.Len(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/actions", n.renderDocument(n.actionsDocument))
	r.GET("/versions", n.renderDocument(n.versionsDocument))

	r.GET("/inference/:id", n.getModels)
	r.DELETE("/connector/sync_jobs/:id", n.deleteSyncJob)
}

// getModels runs the inference get action locally. ?task_type= defaults to
// any.
func (n *Node) getModels(c *gin.Context) {
	taskType := c.DefaultQuery("task_type", "any")
	req, err := inference.NewGetModelRequest(c.Param("id"), taskType)
	if err != nil {
		n.writeFailure(c, err)
		return
	}
	resp, err := Invoke(c.Request.Context(), n, inference.GetModelAction, req)
	if err != nil {
		n.writeFailure(c, err)
		return
	}
	n.writeDocument(c, http.StatusOK, resp.ToDocument())
}

func (n *Node) deleteSyncJob(c *gin.Context) {
	req := connector.NewDeleteSyncJobRequest(c.Param("id"))
	resp, err := Invoke(c.Request.Context(), n, connector.DeleteSyncJobAction, req)
	if err != nil {
		n.writeFailure(c, err)
		return
	}
	n.writeDocument(c, http.StatusOK, resp.ToDocument())
}

// writeFailure renders err as a failure document with the failure's status.
func (n *Node) writeFailure(c *gin.Context, err error) {
	f := failure.FromError(err)
	n.logger.Debug().Err(err).Str("path", c.FullPath()).Int("status", f.Status).Msg("local action failed")
	n.writeDocument(c, f.Status, document.NewObject().
		Field("error", f.ToDocument()).
		Field("status", f.Status))
}

// renderDocument writes build() in the format selected by ?format=.
func (n *Node) renderDocument(build func() *document.Object) gin.HandlerFunc {
	return func(c *gin.Context) {
		n.writeDocument(c, http.StatusOK, build())
	}
}

func (n *Node) writeDocument(c *gin.Context, status int, doc *document.Object) {
	format, err := document.ParseFormat(c.Query("format"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	body, err := document.Render(doc, format)
	if err != nil {
		n.logger.Error().Err(err).Str("format", string(format)).Msg("render document")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(status, format.ContentType(), body)
}

func (n *Node) actionsDocument() *document.Object {
	names := n.registry.Names()
	actions := make(document.Array, 0, len(names))
	for _, name := range names {
		actions = append(actions, document.NewObject().
			Field("name", name).
			Field("bound", n.dispatcher.Bound(name)))
	}
	return document.NewObject().
		Field("node", n.cfg.Node.Name).
		Field("frozen", n.registry.Frozen()).
		Field("actions", actions)
}

func (n *Node) versionsDocument() *document.Object {
	advertised := n.transport.Version
	versions := make(document.Array, 0)
	for _, info := range version.All() {
		versions = append(versions, document.NewObject().
			Field("id", uint32(info.ID)).
			Field("name", info.Name))
	}
	features := make(document.Array, 0)
	for _, f := range version.Features() {
		features = append(features, document.NewObject().
			Field("name", f.Name).
			Field("since", uint32(f.Since)).
			Field("enabled", advertised.Supports(f)))
	}
	return document.NewObject().
		Field("minimum", uint32(version.Minimum)).
		Field("current", uint32(version.Current)).
		Field("advertised", uint32(advertised)).
		Field("versions", versions).
		Field("features", features)
}
