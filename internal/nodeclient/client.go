// Package nodeclient implements the worker node channel over HTTP/JSON.
package nodeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
	"github.com/JakeFAU/crawl-cluster-master/internal/metrics"
)

const maxBodyBytes = 1 << 20

// Worker endpoints.
const (
	PathStatus = "/v1/status"
	PathMaster = "/v1/master"
	PathRun    = "/v1/run"
	PathStop   = "/v1/stop"
)

// MasterRequest is the body of a setMaster call.
type MasterRequest struct {
	CallbackURL string `json:"callback_url"`
}

// RunRequest is the body of a run call.
type RunRequest struct {
	Domain   string           `json:"domain"`
	Settings cluster.Settings `json:"settings"`
}

// RunResponse is the worker's answer to a run call.
type RunResponse struct {
	ResponseCode cluster.ResponseCode `json:"response_code"`
}

// StopRequest is the body of a stop call.
type StopRequest struct {
	Domain string `json:"domain"`
}

// StopResponse acknowledges a stop call.
type StopResponse struct {
	OK bool `json:"ok"`
}

// Dialer opens HTTP channels to worker nodes.
type Dialer struct {
	client *http.Client
	logger *zap.Logger
}

// NewDialer returns a Dialer sharing client across channels. A nil client
// falls back to a client without a request timeout.
func NewDialer(client *http.Client, logger *zap.Logger) *Dialer {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dialer{client: client, logger: logger.Named("nodeclient")}
}

// Dial checks the worker's status endpoint and returns a channel armed with
// onDisconnect. The check runs under ctx so callers bound it with a deadline.
func (d *Dialer) Dial(ctx context.Context, name, addr string, onDisconnect func(error)) (cluster.NodeChannel, error) {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Channel{
		name:   name,
		base:   strings.TrimSuffix(base, "/"),
		client: d.client,
		logger: d.logger.With(zap.String("node", name)),
	}
	var status cluster.NodeStatus
	if err := c.roundTrip(ctx, "status", http.MethodGet, PathStatus, nil, &status); err != nil {
		return nil, fmt.Errorf("dial node %s at %s: %w: %w", name, addr, cluster.ErrDisconnected, err)
	}
	c.onDisconnect = onDisconnect
	return c, nil
}

// Channel is an established connection to one worker. After the first failed
// call it is down: the disconnect callback has fired and every later call fails
// fast.
type Channel struct {
	name         string
	base         string
	client       *http.Client
	logger       *zap.Logger
	onDisconnect func(error)
	once         sync.Once
	down         atomic.Bool
}

var _ cluster.NodeChannel = (*Channel)(nil)

// Status fetches the worker's current status.
func (c *Channel) Status(ctx context.Context) (cluster.NodeStatus, error) {
	var status cluster.NodeStatus
	if err := c.call(ctx, "status", http.MethodGet, PathStatus, nil, &status); err != nil {
		return cluster.NodeStatus{}, err
	}
	return normalizeStatus(status), nil
}

// SetMaster registers callbackURL with the worker and returns its status.
func (c *Channel) SetMaster(ctx context.Context, callbackURL string) (cluster.NodeStatus, error) {
	var status cluster.NodeStatus
	if err := c.call(ctx, "set_master", http.MethodPost, PathMaster, MasterRequest{CallbackURL: callbackURL}, &status); err != nil {
		return cluster.NodeStatus{}, err
	}
	return normalizeStatus(status), nil
}

// Run asks the worker to start domain.
func (c *Channel) Run(ctx context.Context, domain string, settings cluster.Settings) (cluster.ResponseCode, error) {
	if settings == nil {
		settings = cluster.Settings{}
	}
	var resp RunResponse
	if err := c.call(ctx, "run", http.MethodPost, PathRun, RunRequest{Domain: domain, Settings: settings}, &resp); err != nil {
		return "", err
	}
	if !resp.ResponseCode.Valid() {
		return "", c.fail("run", fmt.Errorf("unknown response code %q", resp.ResponseCode))
	}
	return resp.ResponseCode, nil
}

// Stop asks the worker to stop domain.
func (c *Channel) Stop(ctx context.Context, domain string) error {
	var resp StopResponse
	return c.call(ctx, "stop", http.MethodPost, PathStop, StopRequest{Domain: domain}, &resp)
}

// Close marks the channel down without firing the disconnect callback.
func (c *Channel) Close() error {
	c.down.Store(true)
	return nil
}

func (c *Channel) call(ctx context.Context, op, method, path string, body, out any) error {
	if c.down.Load() {
		return fmt.Errorf("%s on node %s: %w", op, c.name, cluster.ErrDisconnected)
	}
	if err := c.roundTrip(ctx, op, method, path, body, out); err != nil {
		return c.fail(op, err)
	}
	return nil
}

// fail marks the channel down, fires the disconnect callback once and wraps
// err as a channel failure.
func (c *Channel) fail(op string, err error) error {
	wrapped := fmt.Errorf("%s on node %s: %w: %w", op, c.name, cluster.ErrDisconnected, err)
	c.down.Store(true)
	c.once.Do(func() {
		c.logger.Debug("node channel down", zap.String("call", op), zap.Error(err))
		if c.onDisconnect != nil {
			c.onDisconnect(wrapped)
		}
	})
	return wrapped
}

func (c *Channel) roundTrip(ctx context.Context, op, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNodeCall(op, wrapDisconnected(err), time.Since(start))
	}()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func wrapDisconnected(err error) error {
	if err == nil || errors.Is(err, cluster.ErrDisconnected) {
		return err
	}
	return fmt.Errorf("%w: %w", cluster.ErrDisconnected, err)
}

func normalizeStatus(status cluster.NodeStatus) cluster.NodeStatus {
	for i := range status.Running {
		if status.Running[i].Settings != nil {
			status.Running[i].Settings = cluster.NormalizeSettings(status.Running[i].Settings)
		}
	}
	return status
}
