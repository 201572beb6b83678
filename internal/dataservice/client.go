package dataservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/prodtimeline/internal/log"
	"github.com/chrissnell/prodtimeline/internal/types"
	"github.com/chrissnell/prodtimeline/pkg/responseformat"
)

// Client implements Service over the reference server's REST API. Requests
// are sent as JSON and responses are requested as MessagePack.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.SugaredLogger
}

var _ Service = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *zap.SugaredLogger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient returns a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  log.Named("dataservice"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) FetchMachine(ctx context.Context, machineID string) (types.Machine, error) {
	var m types.Machine
	err := c.get(ctx, "/api/machines/"+url.PathEscape(machineID), nil, &m)
	return m, err
}

func (c *Client) FetchOperators(ctx context.Context) ([]types.User, error) {
	var users []types.User
	err := c.get(ctx, "/api/operators", nil, &users)
	return users, err
}

func (c *Client) FetchMolds(ctx context.Context) ([]types.Mold, error) {
	var molds []types.Mold
	err := c.get(ctx, "/api/molds", nil, &molds)
	return molds, err
}

func (c *Client) FetchShifts(ctx context.Context) ([]types.Shift, error) {
	var shifts []types.Shift
	err := c.get(ctx, "/api/shifts", nil, &shifts)
	return shifts, err
}

func (c *Client) FetchTimeline(ctx context.Context, machineID string, r types.DateRange) ([]types.TimelineDay, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("start", r.Start.String())
	q.Set("end", r.End.String())

	var days []types.TimelineDay
	err := c.get(ctx, "/api/machines/"+url.PathEscape(machineID)+"/timeline", q, &days)
	return days, err
}

func (c *Client) SubmitAssignment(ctx context.Context, s types.AssignmentSubmission) error {
	return c.post(ctx, "/api/assignments", s, nil)
}

func (c *Client) SubmitStoppage(ctx context.Context, s types.StoppageSubmission) (types.StoppageRecord, error) {
	var rec types.StoppageRecord
	err := c.post(ctx, "/api/stoppages", s, &rec)
	return rec, err
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path, q), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request for %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path, nil), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", responseformat.ContentTypeJSON)
	return c.do(req, out)
}

func (c *Client) url(path string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	q.Set("format", "msgpack")
	return c.baseURL + path + "?" + q.Encode()
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	c.logger.Debugw("data service call",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := &StatusError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var body responseformat.ErrorBody
		if err := responseformat.Decode(resp.Header.Get("Content-Type"), resp.Body, &body); err == nil && body.Error != "" {
			se.Message = body.Error
			se.Field = body.Field
		}
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, se)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := responseformat.Decode(resp.Header.Get("Content-Type"), resp.Body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", req.URL.Path, err)
	}
	return nil
}
