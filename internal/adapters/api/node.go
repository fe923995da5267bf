package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	transport "github.com/bft-labs/livespace/internal/adapters/http"
	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/internal/node"
	"github.com/bft-labs/livespace/pkg/log"
)

// Node is what the node API serves.
type Node interface {
	HandleCommand(ctx context.Context, cmd domain.Command) error
	Activities(ctx context.Context) ([]node.Activity, error)
	Identity() domain.NodeIdentity
}

// NewNodeRouter builds the node's HTTP API. Commands from the master
// arrive on the transport command path.
func NewNodeRouter(n Node, gatherer prometheus.Gatherer, logger log.Logger) *gin.Engine {
	logger = log.OrNoop(logger).With(log.Component("node-api"))
	router := newRouter(gatherer, logger)

	router.POST(transport.CommandPath, func(c *gin.Context) {
		var cmd domain.Command
		if err := c.ShouldBindJSON(&cmd); err != nil {
			badRequest(c, err)
			return
		}
		if err := n.HandleCommand(c.Request.Context(), cmd); err != nil {
			logger.Warn("command refused", log.String("command", cmd.String()), log.Err(err))
			status := transport.StatusCode(err)
			if status == http.StatusInternalServerError {
				// The command ran and failed; repeating it will not help.
				status = http.StatusUnprocessableEntity
			}
			c.AbortWithStatusJSON(status, transport.ErrorBody{Error: err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	router.GET("/v1/identity", func(c *gin.Context) {
		c.JSON(http.StatusOK, n.Identity())
	})
	router.GET("/v1/activities", func(c *gin.Context) {
		activities, err := n.Activities(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, activities)
	})
	return router
}

var _ Node = (*node.Controller)(nil)
