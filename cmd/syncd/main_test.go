package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"

	"github.com/fabianlopezdev/presence-sync/tripsync"
)

func TestSyncEndToEnd(t *testing.T) {
	env := newServerTestEnv(t)

	// Device A records a trip.
	resp := env.push(t, tripsync.PushRequest{
		SyncVersion: 2,
		Trips: []tripsync.Trip{{
			ID:            "t1",
			DepartureDate: "2024-01-10",
			ReturnDate:    "2024-01-20",
			Location:      "Tokyo",
		}},
	}, http.StatusOK)
	if resp.Status != tripsync.StatusSuccess || resp.SyncedEntities.Trips != 1 {
		t.Fatalf("unexpected push response %+v", resp)
	}

	// Device B catches up from scratch.
	pull := env.pull(t, 0, "")
	if len(pull.Trips) != 1 || pull.Trips[0].ID != "t1" || pull.SyncVersion != 2 {
		t.Fatalf("unexpected pull response %+v", pull)
	}
	if pull.Trips[0].UserID != env.userID {
		t.Fatalf("trip should belong to the authenticated user, got %q", pull.Trips[0].UserID)
	}
}

func TestSyncConflictOverHTTP(t *testing.T) {
	env := newServerTestEnv(t)

	env.push(t, tripsync.PushRequest{
		SyncVersion: 2,
		Trips:       []tripsync.Trip{{ID: "t1", DepartureDate: "2024-01-10", ReturnDate: "2024-01-20"}},
	}, http.StatusOK)
	env.push(t, tripsync.PushRequest{
		SyncVersion: 3,
		Trips:       []tripsync.Trip{{ID: "t1", DepartureDate: "2024-01-11", ReturnDate: "2024-01-21"}},
	}, http.StatusOK)

	// A stale device still at base version 2 edits the same trip.
	resp := env.push(t, tripsync.PushRequest{
		SyncVersion: 3,
		Trips:       []tripsync.Trip{{ID: "t1", DepartureDate: "2024-02-01", ReturnDate: "2024-02-10"}},
	}, http.StatusConflict)
	if resp.Status != tripsync.StatusConflict || len(resp.Conflicts) != 1 {
		t.Fatalf("expected conflict report, got %+v", resp)
	}
	if resp.Conflicts[0].ServerVersion != 3 || resp.Conflicts[0].BaseVersion != 2 {
		t.Fatalf("unexpected conflict versions %+v", resp.Conflicts[0])
	}

	// Retrying with the partial-apply flag commits nothing extra here but
	// flips the status.
	resp = env.push(t, tripsync.PushRequest{
		SyncVersion:         3,
		Trips:               []tripsync.Trip{{ID: "t1", DepartureDate: "2024-02-01", ReturnDate: "2024-02-10"}, {ID: "t2", DepartureDate: "2024-03-01", ReturnDate: "2024-03-05"}},
		ApplyNonConflicting: true,
	}, http.StatusConflict)
	if resp.Status != tripsync.StatusPartialConflict || resp.SyncedEntities == nil || resp.SyncedEntities.Trips != 1 {
		t.Fatalf("expected partial conflict with one commit, got %+v", resp)
	}
}

func TestSyncDeletionPropagates(t *testing.T) {
	env := newServerTestEnv(t)

	env.push(t, tripsync.PushRequest{
		SyncVersion: 1,
		Trips:       []tripsync.Trip{{ID: "t1", DepartureDate: "2024-01-10", ReturnDate: "2024-01-20"}},
	}, http.StatusOK)
	env.push(t, tripsync.PushRequest{
		SyncVersion:    2,
		DeletedTripIDs: []string{"t1"},
	}, http.StatusOK)

	pull := env.pull(t, 1, "")
	if len(pull.Trips) != 1 || pull.Trips[0].DeletedAt == nil {
		t.Fatalf("tombstone should propagate, got %+v", pull.Trips)
	}
}

func TestSyncSettingsRoundTrip(t *testing.T) {
	env := newServerTestEnv(t)

	env.push(t, tripsync.PushRequest{
		SyncVersion:  4,
		UserSettings: &tripsync.Settings{Theme: "dark", Language: "en", SyncEnabled: true},
	}, http.StatusOK)

	pull := env.pull(t, 0, "user_settings")
	if pull.UserSettings == nil || pull.UserSettings.Theme != "dark" || pull.SyncVersion != 4 {
		t.Fatalf("unexpected settings pull %+v", pull)
	}
}

func TestSyncRejectsOversizedBatch(t *testing.T) {
	env := newServerTestEnv(t)

	req := tripsync.PushRequest{SyncVersion: 1}
	for i := 0; i < env.srv.engine.Limits().MaxBatchSize+1; i++ {
		req.Trips = append(req.Trips, tripsync.Trip{
			ID:            fmt.Sprintf("t%03d", i),
			DepartureDate: "2024-01-01",
			ReturnDate:    "2024-01-02",
		})
	}
	env.pushExpectError(t, req, http.StatusBadRequest)

	// Nothing leaked.
	pull := env.pull(t, 0, "")
	if len(pull.Trips) != 0 {
		t.Fatalf("rejected batch must be side-effect-free, got %d trips", len(pull.Trips))
	}
}

func TestSyncRejectsMissingVersion(t *testing.T) {
	env := newServerTestEnv(t)
	env.pushExpectError(t, tripsync.PushRequest{
		Trips: []tripsync.Trip{{ID: "t1", DepartureDate: "2024-01-01", ReturnDate: "2024-01-02"}},
	}, http.StatusBadRequest)
}

func TestSyncClientAgainstServer(t *testing.T) {
	env := newServerTestEnv(t)

	pushResp, err := env.client.Push(env.ctx, tripsync.PushRequest{
		SyncVersion: 5,
		Trips:       []tripsync.Trip{{ID: "t1", DepartureDate: "2024-05-01", ReturnDate: "2024-05-09", Location: "Lisbon"}},
	})
	if err != nil {
		t.Fatalf("client push: %v", err)
	}
	if pushResp.Status != tripsync.StatusSuccess {
		t.Fatalf("unexpected push status %q", pushResp.Status)
	}

	pullResp, err := env.client.Pull(env.ctx, tripsync.PullRequest{})
	if err != nil {
		t.Fatalf("client pull: %v", err)
	}
	if len(pullResp.Trips) != 1 || pullResp.SyncVersion != 5 {
		t.Fatalf("unexpected pull response %+v", pullResp)
	}

	// A conflict comes back as a decoded response, not a transport error.
	conflictResp, err := env.client.Push(env.ctx, tripsync.PushRequest{
		SyncVersion: 4,
		Trips:       []tripsync.Trip{{ID: "t1", DepartureDate: "2024-06-01", ReturnDate: "2024-06-09"}},
	})
	if err != nil {
		t.Fatalf("client push conflict: %v", err)
	}
	if conflictResp.Status != tripsync.StatusConflict {
		t.Fatalf("expected conflict status, got %q", conflictResp.Status)
	}

	bad := tripsync.NewClient(tripsync.SyncConfig{BaseURL: env.server.URL, DeviceID: "dev-x", AuthToken: "bogus"})
	if _, err := bad.Pull(env.ctx, tripsync.PullRequest{}); !errors.Is(err, tripsync.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSyncRequiresAuth(t *testing.T) {
	env := newServerTestEnv(t)

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/v1/sync/pull?since=0", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

// test env

type serverTestEnv struct {
	t      *testing.T
	ctx    context.Context
	server *httptest.Server
	srv    *Server
	userID string
	token  string
	client *tripsync.Client
}

func newServerTestEnv(t *testing.T) *serverTestEnv {
	ctx := context.Background()
	app := createTestApp(t)
	srv := &Server{
		app:       app,
		engine:    tripsync.NewEngine(newPBStore(app), tripsync.Limits{MaxBatchSize: 10, PullPageSize: 25}),
		limiters:  newRateLimiterStore(rateLimitConfig{perMinute: 0, burst: 1000}),
		pushLocks: newUserLockStore(),
	}
	ts := startTestServer(t, srv)
	userID, token := createTestUser(t, app)

	return &serverTestEnv{
		t:      t,
		ctx:    ctx,
		server: ts,
		srv:    srv,
		userID: userID,
		token:  token,
		client: tripsync.NewClient(tripsync.SyncConfig{BaseURL: ts.URL, DeviceID: "dev-a", AuthToken: token}),
	}
}

func createTestApp(t *testing.T) core.App {
	t.Helper()
	testApp, err := tests.NewTestApp()
	if err != nil {
		t.Fatalf("new test app: %v", err)
	}
	if err := runTestMigrations(testApp); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	t.Cleanup(func() {
		testApp.Cleanup()
	})
	return testApp
}

// runTestMigrations mirrors the syncd migrations for the test app.
func runTestMigrations(app core.App) error {
	// Check if collections already exist (via migrations import)
	if _, err := app.FindCollectionByNameOrId("trips"); err == nil {
		return nil
	}

	trips := core.NewBaseCollection("trips")
	trips.Fields.Add(
		&core.TextField{Name: "trip_id", Required: true},
		&core.TextField{Name: "user_id", Required: true},
		&core.TextField{Name: "departure_date", Required: true},
		&core.TextField{Name: "return_date", Required: true},
		&core.TextField{Name: "location"},
		&core.BoolField{Name: "is_simulated"},
		&core.NumberField{Name: "sync_version", Required: true},
		&core.NumberField{Name: "deleted_at"},
		&core.NumberField{Name: "created_at", Required: true},
		&core.NumberField{Name: "updated_at", Required: true},
	)
	trips.AddIndex("idx_trips_user_trip", true, "user_id, trip_id", "")
	trips.AddIndex("idx_trips_user_version", false, "user_id, sync_version", "")
	if err := app.Save(trips); err != nil {
		return err
	}

	settings := core.NewBaseCollection("user_settings")
	settings.Fields.Add(
		&core.TextField{Name: "user_id", Required: true},
		&core.BoolField{Name: "notify_milestones"},
		&core.BoolField{Name: "notify_warnings"},
		&core.BoolField{Name: "notify_reminders"},
		&core.BoolField{Name: "biometric_auth_enabled"},
		&core.TextField{Name: "theme"},
		&core.TextField{Name: "language"},
		&core.BoolField{Name: "sync_enabled"},
		&core.TextField{Name: "sync_device_id"},
		&core.TextField{Name: "sync_subscription_tier"},
		&core.NumberField{Name: "sync_version", Required: true},
		&core.NumberField{Name: "updated_at", Required: true},
	)
	settings.AddIndex("idx_user_settings_user", true, "user_id", "")
	return app.Save(settings)
}

func createTestUser(t *testing.T, app core.App) (userID, token string) {
	t.Helper()
	usersCol, err := app.FindCollectionByNameOrId("users")
	if err != nil {
		t.Fatalf("users collection: %v", err)
	}
	userRecord := core.NewRecord(usersCol)
	userRecord.Set("email", "device-owner@example.com")
	userRecord.SetPassword("correct-horse-battery")
	userRecord.Set("verified", true)
	if err := app.Save(userRecord); err != nil {
		t.Fatalf("save user: %v", err)
	}
	token, err = userRecord.NewStaticAuthToken(24 * time.Hour)
	if err != nil {
		t.Fatalf("auth token: %v", err)
	}
	return userRecord.Id, token
}

func startTestServer(t *testing.T, srv *Server) *httptest.Server {
	// Create an HTTP handler that uses our routes
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/sync/push", srv.withAuth(srv.handlePush))
	mux.HandleFunc("/v1/sync/pull", srv.withAuth(srv.handlePull))

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (e *serverTestEnv) push(t *testing.T, req tripsync.PushRequest, wantStatus int) tripsync.PushResponse {
	t.Helper()
	resp, status := e.pushRaw(t, req)
	if status != wantStatus {
		t.Fatalf("push status = %d, want %d", status, wantStatus)
	}
	return resp
}

func (e *serverTestEnv) pushExpectError(t *testing.T, req tripsync.PushRequest, wantStatus int) {
	t.Helper()
	_, status := e.pushRaw(t, req)
	if status != wantStatus {
		t.Fatalf("push status = %d, want %d", status, wantStatus)
	}
}

func (e *serverTestEnv) pushRaw(t *testing.T, req tripsync.PushRequest) (tripsync.PushResponse, int) {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	httpReq, err := http.NewRequest(http.MethodPost, e.server.URL+"/v1/sync/push", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var out tripsync.PushResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out, resp.StatusCode
}

func (e *serverTestEnv) pull(t *testing.T, since int64, entities string) tripsync.PullResponse {
	t.Helper()
	url := fmt.Sprintf("%s/v1/sync/pull?since=%d", e.server.URL, since)
	if entities != "" {
		url += "&entities=" + entities
	}
	httpReq, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pull status = %d", resp.StatusCode)
	}

	var out tripsync.PullResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}
