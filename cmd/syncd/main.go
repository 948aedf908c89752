// ABOUTME: Syncd is the server backend for trip and settings sync across devices.
// ABOUTME: Hosts the sync engine on PocketBase with token auth and rate limiting.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/router"

	"github.com/fabianlopezdev/presence-sync/tripsync"

	_ "github.com/fabianlopezdev/presence-sync/cmd/syncd/migrations" // Import migrations
)

// Server bundles state for syncd handlers.
type Server struct {
	app       core.App
	engine    *tripsync.Engine
	limiters  *rateLimiterStore // Per-user rate limiting for authenticated endpoints
	pushLocks *userLockStore    // Per-user push serialization
}

func main() {
	app := pocketbase.New()

	srv := &Server{
		app:       app,
		engine:    tripsync.NewEngine(newPBStore(app), limitsFromEnv()),
		limiters:  newRateLimiterStore(rateLimitFromEnv()),
		pushLocks: newUserLockStore(),
	}

	// Register custom routes
	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		srv.registerRoutes(se.Router)
		srv.startRetentionRoutine(context.Background(), tombstoneRetentionFromEnv())
		return se.Next()
	})

	if err := app.Start(); err != nil {
		log.Fatal(err)
	}
}

// limitsFromEnv reads the batch and page guardrails, falling back to defaults.
func limitsFromEnv() tripsync.Limits {
	limits := tripsync.DefaultLimits()
	if v, err := strconv.Atoi(os.Getenv("SYNCD_MAX_BATCH_SIZE")); err == nil && v > 0 {
		limits.MaxBatchSize = v
	}
	if v, err := strconv.Atoi(os.Getenv("SYNCD_PULL_PAGE_SIZE")); err == nil && v > 0 {
		limits.PullPageSize = v
	}
	return limits
}

func (s *Server) registerRoutes(r *router.Router[*core.RequestEvent]) {
	r.GET("/healthz", func(e *core.RequestEvent) error {
		return e.NoContent(http.StatusOK)
	})

	// Sync endpoints (protected)
	r.POST("/v1/sync/push", s.wrapHandler(s.withAuth(s.handlePush)))
	r.GET("/v1/sync/pull", s.wrapHandler(s.withAuth(s.handlePull)))
}

// wrapHandler converts http.HandlerFunc to PocketBase RequestHandler.
func (s *Server) wrapHandler(h http.HandlerFunc) func(*core.RequestEvent) error {
	return func(e *core.RequestEvent) error {
		h(e.Response, e.Request)
		return nil
	}
}

// auth middleware

type ctxUserIDKey struct{}

func contextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserIDKey{}, userID)
}

func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(ctxUserIDKey{}).(string)
	return userID
}

func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.authUser(r)
		if err != nil {
			fail(w, http.StatusUnauthorized, err.Error())
			return
		}

		if s.limiters != nil && !s.limiters.allow(userID) {
			fail(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		ctx := contextWithUserID(r.Context(), userID)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) authUser(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" || !strings.HasPrefix(h, "Bearer ") {
		return "", errors.New("missing bearer token")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	if raw == "" {
		return "", errors.New("missing bearer token")
	}

	// Works for auth tokens generated by NewAuthToken() or NewStaticAuthToken()
	userRecord, err := s.app.FindAuthRecordByToken(raw, core.TokenTypeAuth)
	if err != nil {
		return "", errors.New("invalid token")
	}
	return userRecord.Id, nil
}

// push/pull

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := userIDFromContext(r.Context())

	var req tripsync.PushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, http.StatusBadRequest, "invalid json")
		return
	}

	// The engine's conflict check and apply are separate reads and writes, so
	// same-user pushes are serialized here to uphold the conflict invariant.
	lock := s.pushLocks.get(userID)
	lock.Lock()
	defer lock.Unlock()

	resp, err := s.engine.Push(r.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, tripsync.ErrVersionRequired), errors.Is(err, tripsync.ErrBatchTooLarge):
			fail(w, http.StatusBadRequest, err.Error())
		default:
			log.Printf("push failed for user %s: %v", userID, err)
			fail(w, http.StatusInternalServerError, "push failed")
		}
		return
	}

	if resp.Status == tripsync.StatusSuccess {
		ok(w, resp)
		return
	}
	// Conflict outcomes carry the structured report with a 409.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("write conflict response: %v", err)
	}
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		fail(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := userIDFromContext(r.Context())

	req, err := parsePullParams(r)
	if err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.engine.Pull(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, tripsync.ErrBadEntityType) {
			fail(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("pull failed for user %s: %v", userID, err)
		fail(w, http.StatusInternalServerError, "pull failed")
		return
	}
	ok(w, resp)
}

func parsePullParams(r *http.Request) (tripsync.PullRequest, error) {
	var req tripsync.PullRequest
	if sinceStr := strings.TrimSpace(r.URL.Query().Get("since")); sinceStr != "" {
		since, err := strconv.ParseInt(sinceStr, 10, 64)
		if err != nil || since < 0 {
			return tripsync.PullRequest{}, errors.New("invalid since")
		}
		req.LastSyncVersion = since
	}
	if entities := strings.TrimSpace(r.URL.Query().Get("entities")); entities != "" {
		req.EntityTypes = strings.Split(entities, ",")
	}
	return req, nil
}

// helpers

func ok(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func fail(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]any{"error": msg}); err != nil {
		log.Printf("write error response: %v", err)
	}
}
