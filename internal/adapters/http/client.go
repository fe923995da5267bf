package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"

	"github.com/goccy/go-json"

	"github.com/bft-labs/livespace/internal/domain"
	"github.com/bft-labs/livespace/internal/ports"
	"github.com/bft-labs/livespace/pkg/log"
)

// MasterClient implements ports.MasterLink over HTTP.
type MasterClient struct {
	baseURL string
	client  ports.HTTPClient
	logger  log.Logger
}

// NewMasterClient creates a client for the master at baseURL.
func NewMasterClient(baseURL string, client ports.HTTPClient, logger log.Logger) *MasterClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &MasterClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  log.OrNoop(logger).With(log.Component("master-client")),
	}
}

// Register announces the node. An identity the master refuses yields
// domain.ErrInvalidIdentity.
func (c *MasterClient) Register(ctx context.Context, identity domain.NodeIdentity) error {
	status, msg, err := post(ctx, c.client, c.baseURL+RegisterPath, identity)
	if err != nil {
		return err
	}
	switch {
	case status/100 == 2:
		return nil
	case status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", domain.ErrInvalidIdentity, msg)
	}
	return responseError(status, msg)
}

// Report delivers one status report. domain.ErrNodeNotRegistered means
// the master wants the node to register again.
func (c *MasterClient) Report(ctx context.Context, report domain.StatusReport) error {
	status, msg, err := post(ctx, c.client, c.baseURL+StatusPath, report)
	if err != nil {
		return err
	}
	switch {
	case status/100 == 2:
		return nil
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrNodeNotRegistered, msg)
	}
	return responseError(status, msg)
}

// NodeClient implements ports.NodeLink over HTTP. Commands go to the
// endpoint each node registered with.
type NodeClient struct {
	client ports.HTTPClient
	logger log.Logger
}

// NewNodeClient creates a NodeClient.
func NewNodeClient(client ports.HTTPClient, logger log.Logger) *NodeClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &NodeClient{client: client, logger: log.OrNoop(logger).With(log.Component("node-client"))}
}

// Send posts cmd to the node. Refusals come back as domain.ErrRejected,
// also matching domain.ErrUnknownActivity when the node does not host
// the activity.
func (c *NodeClient) Send(ctx context.Context, node domain.NodeIdentity, cmd domain.Command) error {
	if node.Endpoint == "" {
		return fmt.Errorf("%w: node %s registered without an endpoint", domain.ErrRejected, node.UUID)
	}
	status, msg, err := post(ctx, c.client, strings.TrimRight(node.Endpoint, "/")+CommandPath, cmd)
	if err != nil {
		return err
	}
	switch {
	case status/100 == 2:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %w: %s", domain.ErrRejected, domain.ErrUnknownActivity, msg)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%w: %w: %s", domain.ErrRejected, domain.ErrUnknownCommand, msg)
	}
	return responseError(status, msg)
}

// responseError turns a non-2xx status into an error. Client errors are
// refusals; anything else may succeed on retry.
func responseError(status int, msg string) error {
	if status/100 == 4 {
		return fmt.Errorf("%w: server returned %d: %s", domain.ErrRejected, status, msg)
	}
	return fmt.Errorf("server returned %d: %s", status, msg)
}

func post(ctx context.Context, client ports.HTTPClient, url string, payload interface{}) (int, string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Livespace-OSArch", runtime.GOOS+"/"+runtime.GOARCH)

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, "", nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb ErrorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error != "" {
		return resp.StatusCode, eb.Error, nil
	}
	return resp.StatusCode, strings.TrimSpace(string(raw)), nil
}

var (
	_ ports.MasterLink = (*MasterClient)(nil)
	_ ports.NodeLink   = (*NodeClient)(nil)
)
