package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
)

// HTTPGateway talks to the backend's JSON API.
//
// Thread-safety: safe for concurrent use. The gateway keeps no per-flow
// state; callers pass the device code back on every status poll.
type HTTPGateway struct {
	base   *url.URL
	client *http.Client
}

// HTTPOption configures an HTTPGateway.
type HTTPOption func(*HTTPGateway)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(g *HTTPGateway) {
		g.client = c
	}
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) HTTPOption {
	return func(g *HTTPGateway) {
		g.client.Timeout = d
	}
}

// NewHTTP creates a gateway for the API rooted at apiURL.
func NewHTTP(apiURL string, opts ...HTTPOption) (*HTTPGateway, error) {
	base, err := url.Parse(apiURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("api url %q must be absolute", apiURL)
	}
	if len(base.Path) == 0 || base.Path[len(base.Path)-1] != '/' {
		base.Path += "/"
	}

	g := &HTTPGateway{
		base:   base,
		client: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// AnnounceDeviceFlow implements Gateway.
func (g *HTTPGateway) AnnounceDeviceFlow(ctx context.Context) (DeviceFlow, error) {
	const op = "announce_device_flow"

	var flow DeviceFlow
	if err := g.do(ctx, op, http.MethodPost, "device-flow", nil, &flow); err != nil {
		return DeviceFlow{}, err
	}
	if flow.DeviceCode == "" || flow.LoginURL == "" {
		return DeviceFlow{}, ProtocolError(op, errors.New("missing device_code or login_url"))
	}
	return flow, nil
}

// GetDeviceFlowStatus implements Gateway.
func (g *HTTPGateway) GetDeviceFlowStatus(ctx context.Context, code string) (DeviceFlowStatus, error) {
	const op = "get_device_flow_status"

	if code == "" {
		return DeviceFlowStatus{}, ProtocolError(op, errors.New("empty device code"))
	}

	var status DeviceFlowStatus
	if err := g.do(ctx, op, http.MethodGet, "device-flow/"+url.PathEscape(code), nil, &status); err != nil {
		return DeviceFlowStatus{}, err
	}
	return status, nil
}

// GetLoginToken implements Gateway.
func (g *HTTPGateway) GetLoginToken(ctx context.Context, userID string) (string, error) {
	const op = "get_login_token"

	if userID == "" {
		return "", ProtocolError(op, errors.New("empty user id"))
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := g.do(ctx, op, http.MethodPost, "users/"+url.PathEscape(userID)+"/login-token", nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", ProtocolError(op, errors.New("empty token"))
	}
	return resp.Token, nil
}

// GetOrganisation implements Gateway.
func (g *HTTPGateway) GetOrganisation(ctx context.Context, organisationID string) (Organisation, error) {
	const op = "get_organisation"

	path := "organisations/current"
	if organisationID != "" {
		path = "organisations/" + url.PathEscape(organisationID)
	}

	var org Organisation
	if err := g.do(ctx, op, http.MethodGet, path, nil, &org); err != nil {
		return Organisation{}, err
	}
	if org.Subdomain == "" {
		return Organisation{}, ProtocolError(op, errors.New("missing subdomain"))
	}
	return org, nil
}

// GetServerTime implements Gateway.
func (g *HTTPGateway) GetServerTime(ctx context.Context) (time.Time, error) {
	const op = "get_server_time"

	var resp struct {
		ServerTime time.Time `json:"server_time"`
	}
	if err := g.do(ctx, op, http.MethodGet, "time", nil, &resp); err != nil {
		return time.Time{}, err
	}
	if resp.ServerTime.IsZero() {
		return time.Time{}, ProtocolError(op, errors.New("missing server_time"))
	}
	return resp.ServerTime, nil
}

// EndModuleSession implements Gateway.
func (g *HTTPGateway) EndModuleSession(ctx context.Context, req EndModuleSession) error {
	const op = "end_module_session"
	if req.ModuleSessionID == "" {
		return ProtocolError(op, errors.New("module session id is required"))
	}
	return g.do(ctx, op, http.MethodPost, "module-sessions/"+url.PathEscape(req.ModuleSessionID)+"/end", req, nil)
}

// do performs one request. Transport errors map to ConnectionFailure; non-2xx
// statuses and undecodable bodies map to ProtocolFailure.
func (g *HTTPGateway) do(ctx context.Context, op, method, path string, body, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return ProtocolError(op, fmt.Errorf("parse path: %w", err))
	}
	target := g.base.ResolveReference(ref)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return ProtocolError(op, fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return ProtocolError(op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return ConnectionError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return ProtocolError(op, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ProtocolError(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
