// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/absmach/mqttscope/session"
	"github.com/absmach/mqttscope/storage"
)

// mockSource implements Source for testing.
type mockSource struct {
	state session.State
	subs  []storage.SubscriptionState
	err   error
}

func (m *mockSource) ClientID() string {
	return "scope"
}

func (m *mockSource) State() session.State {
	return m.state
}

func (m *mockSource) Snapshot(ctx context.Context) (*storage.State, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &storage.State{ClientID: "scope", Subscriptions: m.subs}, nil
}

func TestAddrWithoutListener(t *testing.T) {
	server := New(Config{}, &mockSource{}, slog.Default())
	if server.Addr() != "" {
		t.Fatalf("expected empty address before listen, got %q", server.Addr())
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := New(Config{}, &mockSource{}, slog.Default())

	tests := []struct {
		name           string
		method         string
		expectedStatus int
		expectedBody   HealthResponse
	}{
		{
			name:           "GET request returns healthy",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
			expectedBody:   HealthResponse{Status: "healthy"},
		},
		{
			name:           "POST request not allowed",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "PUT request not allowed",
			method:         http.MethodPut,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "http://test/health", nil)
			rec := httptest.NewRecorder()

			server.handleHealth(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}

			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}

				if response.Status != tt.expectedBody.Status {
					t.Errorf("expected status %q, got %q", tt.expectedBody.Status, response.Status)
				}
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		source         Source
		expectedStatus int
		expectedReady  string
		expectedState  string
	}{
		{
			name:           "connected session is ready",
			source:         &mockSource{state: session.StateConnected},
			expectedStatus: http.StatusOK,
			expectedReady:  "ready",
			expectedState:  "connected",
		},
		{
			name:           "connecting session is not ready",
			source:         &mockSource{state: session.StateConnecting},
			expectedStatus: http.StatusServiceUnavailable,
			expectedReady:  "not_ready",
			expectedState:  "connecting",
		},
		{
			name:           "missing client is not ready",
			source:         nil,
			expectedStatus: http.StatusServiceUnavailable,
			expectedReady:  "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := New(Config{}, tt.source, slog.Default())
			req := httptest.NewRequest(http.MethodGet, "http://test/ready", nil)
			rec := httptest.NewRecorder()

			server.handleReady(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}

			var response ReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.Status != tt.expectedReady {
				t.Errorf("expected status %q, got %q", tt.expectedReady, response.Status)
			}
			if response.Session != tt.expectedState {
				t.Errorf("expected session %q, got %q", tt.expectedState, response.Session)
			}
		})
	}
}

func TestSubscriptionsEndpoint(t *testing.T) {
	src := &mockSource{
		state: session.StateConnected,
		subs: []storage.SubscriptionState{
			{Pattern: "home/kitchen/+", QoS: 1, Topics: []string{"home/kitchen/temp"}},
		},
	}
	server := New(Config{}, src, slog.Default())

	req := httptest.NewRequest(http.MethodGet, "http://test/subscriptions", nil)
	rec := httptest.NewRecorder()
	server.handleSubscriptions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var response SubscriptionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.ClientID != "scope" {
		t.Errorf("expected client id %q, got %q", "scope", response.ClientID)
	}
	if len(response.Subscriptions) != 1 || response.Subscriptions[0].Pattern != "home/kitchen/+" {
		t.Errorf("unexpected subscriptions %+v", response.Subscriptions)
	}

	src.err = errors.New("client closed")
	rec = httptest.NewRecorder()
	server.handleSubscriptions(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}
}

func TestListenAndShutdown(t *testing.T) {
	server := New(Config{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}, &mockSource{}, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for server.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d: %s", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Listen returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
