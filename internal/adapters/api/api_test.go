package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	transport "github.com/bft-labs/livespace/internal/adapters/http"
	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/internal/master"
	"github.com/bft-labs/livespace/internal/node"
	"github.com/bft-labs/livespace/pkg/lifecycle"
	"github.com/bft-labs/livespace/pkg/metrics"
	"github.com/bft-labs/livespace/pkg/roster"
)

type nopNodes struct{}

func (nopNodes) Send(ctx context.Context, n domain.NodeIdentity, cmd domain.Command) error { return nil }

var nodeID = domain.NodeIdentity{UUID: "3f1b2c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d", Name: "node-1", HostID: "host-1"}

func newMasterServer(t *testing.T) (*httptest.Server, *master.Master) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := master.New(master.Config{
		Repository: roster.NewMemoryRepository(),
		Nodes:      nopNodes{},
		Metrics:    metrics.New(reg),
	})
	require.NoError(t, err)
	require.NoError(t, m.Startup(context.Background()))
	srv := httptest.NewServer(NewMasterRouter(m, reg, nil))
	t.Cleanup(func() {
		srv.Close()
		_ = m.Shutdown(context.Background())
	})
	return srv, m
}

func do(t *testing.T, method, url string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestMasterRouter_RegisterAndReport(t *testing.T) {
	srv, m := newMasterServer(t)

	resp := do(t, http.MethodPost, srv.URL+transport.StatusPath,
		domain.StatusReport{NodeUUID: nodeID.UUID, Kind: domain.ReportHeartbeat, Seq: 1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	bad := nodeID
	bad.HostID = "host/1"
	resp = do(t, http.MethodPost, srv.URL+transport.RegisterPath, bad)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+transport.RegisterPath, nodeID)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Len(t, m.Nodes(), 1)

	resp = do(t, http.MethodPost, srv.URL+transport.StatusPath, domain.StatusReport{
		NodeUUID: nodeID.UUID, Kind: domain.ReportActivity, ActivityUUID: "A1", Status: domain.StatusReady, Seq: 1,
	})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/v1/activities/A1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view ActivityView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, lifecycle.StateReady, view.LastActivityState)
	assert.False(t, view.Pending)
}

func TestMasterRouter_OperatorEndpoints(t *testing.T) {
	srv, _ := newMasterServer(t)
	require.Equal(t, http.StatusNoContent, do(t, http.MethodPost, srv.URL+transport.RegisterPath, nodeID).StatusCode)

	resp := do(t, http.MethodPost, fmt.Sprintf("%s/v1/nodes/%s/activities", srv.URL, nodeID.UUID), DeployRequest{
		UUID:       "A1",
		DeploySpec: domain.DeploySpec{IdentifyingName: "demo", Version: "1.0", ArtifactURI: "demo.tar"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "A1", created["uuid"])

	resp = do(t, http.MethodPost, srv.URL+"/v1/nodes/unknown/activities", DeployRequest{
		DeploySpec: domain.DeploySpec{IdentifyingName: "demo", Version: "1.0", ArtifactURI: "demo.tar"},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodPost, fmt.Sprintf("%s/v1/nodes/%s/activities", srv.URL, nodeID.UUID), DeployRequest{
		DeploySpec: domain.DeploySpec{IdentifyingName: "demo", Version: "latest", ArtifactURI: "demo.tar"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = do(t, http.MethodPut, srv.URL+"/v1/activities/A1/goal", GoalRequest{State: lifecycle.StateRunning})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = do(t, http.MethodPut, srv.URL+"/v1/activities/A1/goal", GoalRequest{State: lifecycle.StateCrashed})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, http.MethodDelete, srv.URL+"/v1/activities/B2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, http.MethodGet, srv.URL+"/v1/nodes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var nodes []master.NodeEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "node-1", nodes[0].Identity.Name)
}

func TestMasterRouter_HealthAndMetrics(t *testing.T) {
	srv, _ := newMasterServer(t)
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/healthz", nil).StatusCode)
	require.Equal(t, http.StatusNoContent, do(t, http.MethodPost, srv.URL+transport.RegisterPath, nodeID).StatusCode)

	resp := do(t, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	assert.Contains(t, body.String(), "livespace_fleet_nodes 1")
}

type fakeNode struct {
	err  error
	cmds []domain.Command
}

func (f *fakeNode) HandleCommand(ctx context.Context, cmd domain.Command) error {
	f.cmds = append(f.cmds, cmd)
	return f.err
}

func (f *fakeNode) Activities(ctx context.Context) ([]node.Activity, error) {
	return []node.Activity{{Record: roster.InstalledLiveActivity{UUID: "A1"}, State: lifecycle.StateRunning}}, nil
}

func (f *fakeNode) Identity() domain.NodeIdentity { return nodeID }

func TestNodeRouter_Commands(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"accepted", nil, http.StatusNoContent},
		{"unknown activity", fmt.Errorf("%w: A9", domain.ErrUnknownActivity), http.StatusNotFound},
		{"unknown command", domain.ErrUnknownCommand, http.StatusBadRequest},
		{"failed", fmt.Errorf("startup failed"), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := &fakeNode{err: tt.err}
			srv := httptest.NewServer(NewNodeRouter(n, nil, nil))
			defer srv.Close()

			resp := do(t, http.MethodPost, srv.URL+transport.CommandPath, domain.Command{ID: "c1", Kind: domain.CommandStartup, ActivityUUID: "A1"})
			assert.Equal(t, tt.want, resp.StatusCode)
			require.Len(t, n.cmds, 1)
			assert.Equal(t, domain.CommandStartup, n.cmds[0].Kind)
		})
	}
}

// The node router and the transport client agree on the wire format.
func TestNodeRouter_WithNodeClient(t *testing.T) {
	n := &fakeNode{err: domain.ErrUnknownActivity}
	srv := httptest.NewServer(NewNodeRouter(n, nil, nil))
	defer srv.Close()

	target := nodeID
	target.Endpoint = srv.URL
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := transport.NewNodeClient(srv.Client(), nil).Send(ctx, target, domain.Command{ID: "c1", Kind: domain.CommandActivate, ActivityUUID: "A9"})
	assert.ErrorIs(t, err, domain.ErrRejected)
	assert.ErrorIs(t, err, domain.ErrUnknownActivity)

	resp := do(t, http.MethodGet, srv.URL+"/v1/activities", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var acts []node.Activity
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&acts))
	require.Len(t, acts, 1)
	assert.Equal(t, lifecycle.StateRunning, acts[0].State)
}
