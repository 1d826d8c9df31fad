package cloudhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	devdomain "mowerhub/backend/internal/device/domain"
	"mowerhub/backend/internal/gateway"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, zap.NewNop())
}

func TestAuthenticateSuccess(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/auth/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req loginRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Email != "user@example.com" || req.Password != "secret" {
			t.Errorf("credentials = %+v", req)
		}
		json.NewEncoder(w).Encode(loginResponse{
			AccessToken: "tok-1", UserID: "user-1", ExpiresAt: expires,
		})
	})

	token, err := c.Authenticate(context.Background(), gateway.Credentials{
		Email: "user@example.com", Password: "secret",
	})
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if token.Value != "tok-1" || token.UserID != "user-1" || !token.ExpiresAt.Equal(expires) {
		t.Errorf("token = %+v", token)
	}
}

func TestAuthenticateInvalidCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	})
	_, err := c.Authenticate(context.Background(), gateway.Credentials{Email: "a", Password: "b"})
	if !errors.Is(err, gateway.ErrInvalidCredentials) {
		t.Errorf("err = %v, want ErrInvalidCredentials", err)
	}
	if gateway.IsTransient(err) {
		t.Error("invalid credentials must not be transient")
	}
}

func TestAuthenticateServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	// 5xx during login is not a credential problem; the session layer
	// retries it.
	_, err := c.Authenticate(context.Background(), gateway.Credentials{Email: "a", Password: "b"})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, gateway.ErrInvalidCredentials) {
		t.Error("5xx must not classify as invalid credentials")
	}
	if !gateway.IsTransient(err) {
		t.Error("5xx during login should be transient")
	}
}

func TestSendCommand(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/devices/mower-1/commands" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("auth header = %q", got)
		}
		var req commandRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Command != "start" {
			t.Errorf("command = %q", req.Command)
		}
		json.NewEncoder(w).Encode(commandResponse{CommandID: "cmd-1"})
	})

	ack, err := c.SendCommand(context.Background(), gateway.SessionToken{Value: "tok-1"},
		"mower-1", devdomain.CommandStart)
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if ack.CommandID != "cmd-1" {
		t.Errorf("ack = %+v", ack)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		want      error
		transient bool
	}{
		{"unauthorized", http.StatusUnauthorized, gateway.ErrSessionExpired, false},
		{"forbidden", http.StatusForbidden, gateway.ErrSessionExpired, false},
		{"not found", http.StatusNotFound, gateway.ErrDeviceNotFound, false},
		{"server error", http.StatusInternalServerError, nil, true},
		{"rate limited", http.StatusTooManyRequests, nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, tc.name, tc.status)
			})
			_, err := c.FetchStatus(context.Background(), gateway.SessionToken{Value: "t"}, "mower-1")
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
			if gateway.IsTransient(err) != tc.transient {
				t.Errorf("IsTransient = %v, want %v", gateway.IsTransient(err), tc.transient)
			}
		})
	}
}

func TestFetchStatusParsesState(t *testing.T) {
	updated := time.Now().UTC().Truncate(time.Second)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(deviceStatusResponse{
			DeviceID: "mower-1", Name: "Luba", Model: "LUBA 2",
			Battery: 150, Status: "mowing", Online: true, UpdatedAt: updated,
		})
	})

	state, err := c.FetchStatus(context.Background(), gateway.SessionToken{Value: "t"}, "mower-1")
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if state.OperationalStatus != devdomain.StatusMowing || !state.Online {
		t.Errorf("state = %+v", state)
	}
	if state.Battery != 100 {
		t.Errorf("battery = %d, want clamped to 100", state.Battery)
	}
}

func TestFetchStatusUnknownStatusDefaults(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(deviceStatusResponse{
			DeviceID: "mower-1", Status: "doing_donuts", Online: true,
		})
	})
	state, err := c.FetchStatus(context.Background(), gateway.SessionToken{Value: "t"}, "mower-1")
	if err != nil {
		t.Fatalf("FetchStatus: %v", err)
	}
	if state.OperationalStatus != devdomain.StatusError {
		t.Errorf("status = %q, want error for unknown tag", state.OperationalStatus)
	}
}

func TestListDevices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/devices" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]deviceStatusResponse{
			{DeviceID: "mower-1", Status: "idle", Online: true},
			{DeviceID: "mower-2", Status: "charging", Online: true},
		})
	})
	devices, err := c.ListDevices(context.Background(), gateway.SessionToken{Value: "t"})
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 2 || devices[1].OperationalStatus != devdomain.StatusCharging {
		t.Errorf("devices = %+v", devices)
	}
}

func TestTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close() // connection refused from here on
	c := New(url, zap.NewNop())

	_, err := c.FetchStatus(context.Background(), gateway.SessionToken{Value: "t"}, "mower-1")
	if err == nil {
		t.Fatal("expected error")
	}
	if !gateway.IsTransient(err) {
		t.Errorf("transport failure should be transient, got %v", err)
	}
}
