package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	transport "github.com/bft-labs/livespace/internal/adapters/http"
	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/internal/master"
	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/log"
	"github.com/bft-labs/livespace/pkg/roster"
)

// Master is what the master API serves.
type Master interface {
	Register(ctx context.Context, identity domain.NodeIdentity) error
	HandleStatus(ctx context.Context, report domain.StatusReport) error

	Nodes() []master.NodeEntry
	Activities(ctx context.Context) ([]roster.InstalledLiveActivity, error)
	Activity(ctx context.Context, activityUUID string) (roster.InstalledLiveActivity, error)
	Deploy(ctx context.Context, nodeUUID, activityUUID string, spec domain.DeploySpec) (string, error)
	RequestGoal(ctx context.Context, activityUUID string, target lifecycle.ActivityState) error
	Delete(ctx context.Context, activityUUID string) error
	Restart(ctx context.Context, activityUUID string) error
	Configure(ctx context.Context, activityUUID string, config map[string]string) error
	RefreshStatus(nodeUUID string) error
	HasGoal(activityUUID string) bool
}

// DeployRequest is the body of a deploy call. UUID may be empty.
type DeployRequest struct {
	UUID string `json:"uuid,omitempty"`
	domain.DeploySpec
}

// GoalRequest is the body of a goal call.
type GoalRequest struct {
	State lifecycle.ActivityState `json:"state"`
}

// ActivityView is an activity record together with goal progress.
type ActivityView struct {
	roster.InstalledLiveActivity
	Pending bool `json:"goal_pending"`
}

// NewMasterRouter builds the master's HTTP API: the node-facing
// transport endpoints and the operator endpoints.
func NewMasterRouter(m Master, gatherer prometheus.Gatherer, logger log.Logger) *gin.Engine {
	logger = log.OrNoop(logger).With(log.Component("master-api"))
	router := newRouter(gatherer, logger)

	router.POST(transport.RegisterPath, func(c *gin.Context) {
		var id domain.NodeIdentity
		if err := c.ShouldBindJSON(&id); err != nil {
			badRequest(c, err)
			return
		}
		if err := m.Register(c.Request.Context(), id); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	router.POST(transport.StatusPath, func(c *gin.Context) {
		var report domain.StatusReport
		if err := c.ShouldBindJSON(&report); err != nil {
			badRequest(c, err)
			return
		}
		if err := m.HandleStatus(c.Request.Context(), report); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	v1 := router.Group("/v1")
	{
		v1.GET("/nodes", func(c *gin.Context) {
			c.JSON(http.StatusOK, m.Nodes())
		})
		v1.POST("/nodes/:node/activities", func(c *gin.Context) {
			var req DeployRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			id, err := m.Deploy(c.Request.Context(), c.Param("node"), req.UUID, req.DeploySpec)
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"uuid": id})
		})
		v1.POST("/nodes/:node/status", func(c *gin.Context) {
			if err := m.RefreshStatus(c.Param("node")); err != nil {
				fail(c, err)
				return
			}
			c.Status(http.StatusAccepted)
		})

		v1.GET("/activities", func(c *gin.Context) {
			records, err := m.Activities(c.Request.Context())
			if err != nil {
				fail(c, err)
				return
			}
			views := make([]ActivityView, 0, len(records))
			for _, rec := range records {
				views = append(views, ActivityView{InstalledLiveActivity: rec, Pending: m.HasGoal(rec.UUID)})
			}
			c.JSON(http.StatusOK, views)
		})
		v1.GET("/activities/:uuid", func(c *gin.Context) {
			rec, err := m.Activity(c.Request.Context(), c.Param("uuid"))
			if err != nil {
				fail(c, err)
				return
			}
			c.JSON(http.StatusOK, ActivityView{InstalledLiveActivity: rec, Pending: m.HasGoal(rec.UUID)})
		})
		v1.PUT("/activities/:uuid/goal", func(c *gin.Context) {
			var req GoalRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			if err := m.RequestGoal(c.Request.Context(), c.Param("uuid"), req.State); err != nil {
				fail(c, err)
				return
			}
			c.Status(http.StatusAccepted)
		})
		v1.POST("/activities/:uuid/restart", func(c *gin.Context) {
			if err := m.Restart(c.Request.Context(), c.Param("uuid")); err != nil {
				fail(c, err)
				return
			}
			c.Status(http.StatusAccepted)
		})
		v1.PATCH("/activities/:uuid/configuration", func(c *gin.Context) {
			var cfg map[string]string
			if err := c.ShouldBindJSON(&cfg); err != nil {
				badRequest(c, err)
				return
			}
			if err := m.Configure(c.Request.Context(), c.Param("uuid"), cfg); err != nil {
				fail(c, err)
				return
			}
			c.Status(http.StatusAccepted)
		})
		v1.DELETE("/activities/:uuid", func(c *gin.Context) {
			if err := m.Delete(c.Request.Context(), c.Param("uuid")); err != nil {
				fail(c, err)
				return
			}
			c.Status(http.StatusAccepted)
		})
	}
	return router
}

var _ Master = (*master.Master)(nil)
