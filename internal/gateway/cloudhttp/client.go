// Package cloudhttp implements the cloud gateway against the vendor's HTTP
// API.
package cloudhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	devdomain "mowerhub/backend/internal/device/domain"
	"mowerhub/backend/internal/gateway"
)

const (
	requestTimeout = 30 * time.Second
	userAgent      = "MowerHub/1.0"
)

// Client talks to the vendor cloud over HTTPS.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// New returns a Client for the given base URL.
func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type deviceStatusResponse struct {
	DeviceID  string    `json:"device_id"`
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Battery   int       `json:"battery"`
	Position  string    `json:"position_status"`
	Status    string    `json:"status"`
	Online    bool      `json:"online"`
	UpdatedAt time.Time `json:"updated_at"`
}

type commandRequest struct {
	Command string `json:"command"`
}

type commandResponse struct {
	CommandID string `json:"command_id"`
}

// Authenticate exchanges credentials for a session token.
func (c *Client) Authenticate(ctx context.Context, creds gateway.Credentials) (gateway.SessionToken, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", "",
		loginRequest{Email: creds.Email, Password: creds.Password}, &resp)
	if err != nil {
		return gateway.SessionToken{}, c.mapLoginError(err)
	}
	return gateway.SessionToken{
		Value:     resp.AccessToken,
		UserID:    resp.UserID,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// SendCommand submits one command to a device.
func (c *Client) SendCommand(ctx context.Context, token gateway.SessionToken, deviceID string, kind devdomain.CommandKind) (gateway.Ack, error) {
	var resp commandResponse
	path := fmt.Sprintf("/api/v1/devices/%s/commands", deviceID)
	err := c.do(ctx, http.MethodPost, path, token.Value, commandRequest{Command: string(kind)}, &resp)
	if err != nil {
		return gateway.Ack{}, c.mapError(err)
	}
	return gateway.Ack{CommandID: resp.CommandID}, nil
}

// FetchStatus reads one device's current state.
func (c *Client) FetchStatus(ctx context.Context, token gateway.SessionToken, deviceID string) (devdomain.DeviceState, error) {
	var resp deviceStatusResponse
	path := fmt.Sprintf("/api/v1/devices/%s/status", deviceID)
	err := c.do(ctx, http.MethodGet, path, token.Value, nil, &resp)
	if err != nil {
		return devdomain.DeviceState{}, c.mapError(err)
	}
	return toDeviceState(resp), nil
}

// ListDevices reads the account's device roster.
func (c *Client) ListDevices(ctx context.Context, token gateway.SessionToken) ([]devdomain.DeviceState, error) {
	var resp []deviceStatusResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/devices", token.Value, nil, &resp)
	if err != nil {
		return nil, c.mapError(err)
	}
	out := make([]devdomain.DeviceState, 0, len(resp))
	for _, d := range resp {
		out = append(out, toDeviceState(d))
	}
	return out, nil
}

func toDeviceState(d deviceStatusResponse) devdomain.DeviceState {
	state := devdomain.DeviceState{
		DeviceID:          d.DeviceID,
		Name:              d.Name,
		Model:             d.Model,
		Battery:           d.Battery,
		PositionStatus:    d.Position,
		OperationalStatus: devdomain.ParseStatus(d.Status),
		Online:            d.Online,
		UpdatedAt:         d.UpdatedAt,
	}
	state.ClampBattery()
	return state
}

// statusError carries an HTTP status for classification.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("cloud returned %d: %s", e.status, e.body)
}

func statusOf(err error) int {
	if se, ok := err.(*statusError); ok {
		return se.status
	}
	return 0
}

// mapLoginError classifies authentication failures. 401 and 403 are the
// credentials' fault; everything else is the cloud's and worth retrying.
func (c *Client) mapLoginError(err error) error {
	switch status := statusOf(err); {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return gateway.ErrInvalidCredentials
	case status >= 500, status == http.StatusTooManyRequests, status == 0:
		return gateway.Transient(err)
	default:
		return err
	}
}

// mapError classifies non-login failures. 401 means the token died; 404 the
// device is unknown; 5xx and transport errors are retryable.
func (c *Client) mapError(err error) error {
	switch status := statusOf(err); {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return gateway.ErrSessionExpired
	case status == http.StatusNotFound:
		return gateway.ErrDeviceNotFound
	case status >= 500, status == http.StatusTooManyRequests:
		return gateway.Transient(err)
	case status != 0:
		return err
	default:
		// Transport-level failure.
		return gateway.Transient(err)
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
