package tripsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeSyncServer mimics the server's pull/push surface for client tests.
type fakeSyncServer struct {
	mu         sync.Mutex
	pushed     []PushRequest
	pullResp   PullResponse
	pushResp   PushResponse
	pushStatus int
	lastAuth   string
	lastQuery  string
}

func newFakeSyncServer() *fakeSyncServer {
	return &fakeSyncServer{pushStatus: http.StatusOK}
}

func (s *fakeSyncServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sync/push", s.handlePush)
	mux.HandleFunc("/v1/sync/pull", s.handlePull)
	return mux
}

func (s *fakeSyncServer) handlePush(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.pushed = append(s.pushed, req)
	s.lastAuth = r.Header.Get("Authorization")
	status := s.pushStatus
	resp := s.pushResp
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *fakeSyncServer) handlePull(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.lastAuth = r.Header.Get("Authorization")
	s.lastQuery = r.URL.RawQuery
	resp := s.pullResp
	s.mu.Unlock()
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestClient(t *testing.T, fake *fakeSyncServer) *Client {
	t.Helper()
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)
	return NewClient(SyncConfig{BaseURL: ts.URL, DeviceID: "dev-a", AuthToken: "test-token"})
}

func TestClientPull(t *testing.T) {
	fake := newFakeSyncServer()
	fake.pullResp = PullResponse{
		SyncVersion: 7,
		Trips:       []Trip{{ID: "t1", SyncVersion: 7}},
		HasMore:     true,
	}
	client := newTestClient(t, fake)

	resp, err := client.Pull(context.Background(), PullRequest{
		LastSyncVersion: 3,
		EntityTypes:     []string{EntityTrips, EntitySettings},
	})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if resp.SyncVersion != 7 || len(resp.Trips) != 1 || !resp.HasMore {
		t.Fatalf("unexpected response %+v", resp)
	}
	if fake.lastAuth != "Bearer test-token" {
		t.Fatalf("missing bearer token, got %q", fake.lastAuth)
	}
	if fake.lastQuery != "entities=trips%2Cuser_settings&since=3" {
		t.Fatalf("unexpected query %q", fake.lastQuery)
	}
}

func TestClientPushSuccess(t *testing.T) {
	fake := newFakeSyncServer()
	fake.pushResp = PushResponse{
		Status:         StatusSuccess,
		SyncVersion:    4,
		SyncedEntities: &SyncedEntities{Trips: 1},
	}
	client := newTestClient(t, fake)

	resp, err := client.Push(context.Background(), PushRequest{
		SyncVersion: 4,
		Trips:       []Trip{{ID: "t1"}},
	})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if resp.Status != StatusSuccess || resp.SyncedEntities.Trips != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(fake.pushed) != 1 || fake.pushed[0].SyncVersion != 4 {
		t.Fatalf("server saw wrong batch %+v", fake.pushed)
	}
}

func TestClientPushConflictIsNotAnError(t *testing.T) {
	fake := newFakeSyncServer()
	fake.pushStatus = http.StatusConflict
	fake.pushResp = PushResponse{
		Status:    StatusConflict,
		Conflicts: []Conflict{{EntityType: EntityTrips, EntityID: "t1", Kind: ConflictUpdate}},
	}
	client := newTestClient(t, fake)

	resp, err := client.Push(context.Background(), PushRequest{SyncVersion: 2})
	if err != nil {
		t.Fatalf("conflict should decode, not fail: %v", err)
	}
	if resp.Status != StatusConflict || len(resp.Conflicts) != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestClientMapsHTTPErrors(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusInternalServerError, ErrServerError},
	}
	for _, tc := range cases {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		client := NewClient(SyncConfig{BaseURL: ts.URL, AuthToken: "x"})

		if _, err := client.Pull(context.Background(), PullRequest{}); !errors.Is(err, tc.want) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		if _, err := client.Push(context.Background(), PushRequest{SyncVersion: 1}); !errors.Is(err, tc.want) {
			t.Errorf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
		ts.Close()
	}
}

func TestClientNetworkFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ts.Close() // connection refused from here on
	client := NewClient(SyncConfig{BaseURL: ts.URL, AuthToken: "x"})

	if _, err := client.Pull(context.Background(), PullRequest{}); !errors.Is(err, ErrNetworkFailure) {
		t.Fatalf("expected ErrNetworkFailure, got %v", err)
	}
}
