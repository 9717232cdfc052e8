package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/bid-engine/internal/config"
	"github.com/terra-clan/bid-engine/internal/engine"
	"github.com/terra-clan/bid-engine/internal/health"
	"github.com/terra-clan/bid-engine/internal/models"
	"github.com/terra-clan/bid-engine/internal/storage"
)

var testAuth = config.AuthConfig{JWTSecret: "test-secret", Issuer: "bid-engine-test"}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

type testServer struct {
	t        *testing.T
	handler  http.Handler
	registry *health.Registry
	repo     *storage.MemoryRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	repo := storage.NewMemoryRepository(time.Second)
	registry := health.NewRegistry(time.Second)
	registry.Register("storage", health.CheckerFunc(repo.Ping))

	srv := NewServer(config.ServerConfig{Port: 8080}, testAuth, engine.New(repo, nil), registry)
	return &testServer{t: t, handler: srv.Router(), registry: registry, repo: repo}
}

func (ts *testServer) token(subject string) string {
	ts.t.Helper()
	tok, err := IssueToken(testAuth, subject, time.Hour)
	require.NoError(ts.t, err)
	return tok
}

func (ts *testServer) do(method, path, subject string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(ts.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(subject))
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var env envelope
	require.NoError(ts.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func (ts *testServer) createParent(owner string, kind models.ResourceKind) models.ParentResource {
	ts.t.Helper()
	rec, env := ts.do(http.MethodPost, "/api/v1/parents", owner, map[string]string{"kind": string(kind)})
	require.Equal(ts.t, http.StatusCreated, rec.Code, string(env.Data))
	var p models.ParentResource
	require.NoError(ts.t, json.Unmarshal(env.Data, &p))
	return p
}

func (ts *testServer) placeBid(parentID, bidder, amount string) models.BidRecord {
	ts.t.Helper()
	rec, env := ts.do(http.MethodPost, "/api/v1/parents/"+parentID+"/bids", bidder,
		map[string]interface{}{"amount": amount, "description": "I can do it"})
	require.Equal(ts.t, http.StatusCreated, rec.Code)
	var b models.BidRecord
	require.NoError(ts.t, json.Unmarshal(env.Data, &b))
	return b
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	rec, _ = ts.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	ts.registry.Register("redis", health.CheckerFunc(func(ctx context.Context) error {
		return errors.New("connection refused")
	}))
	rec, env = ts.do(http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, env.Success)
	assert.Contains(t, string(env.Data), "connection refused")
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(http.MethodGet, "/api/v1/parents", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", env.Error.Code)

	tests := map[string]string{}
	wrongSecret, err := IssueToken(config.AuthConfig{JWTSecret: "other", Issuer: testAuth.Issuer}, "alice", time.Hour)
	require.NoError(t, err)
	tests["wrong secret"] = wrongSecret

	wrongIssuer, err := IssueToken(config.AuthConfig{JWTSecret: testAuth.JWTSecret, Issuer: "someone"}, "alice", time.Hour)
	require.NoError(t, err)
	tests["wrong issuer"] = wrongIssuer

	expired, err := IssueToken(testAuth, "alice", -time.Hour)
	require.NoError(t, err)
	tests["expired"] = expired

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Issuer: testAuth.Issuer}).
		SignedString([]byte(testAuth.JWTSecret))
	require.NoError(t, err)
	tests["no subject"] = noSubject

	for name, tok := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/parents", nil)
			req.Header.Set("Authorization", "Bearer "+tok)
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestProjectReviewOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	parent := ts.createParent("owner", models.KindProjectProfile)
	a := ts.placeBid(parent.ID, "alice", "1500.00")
	b := ts.placeBid(parent.ID, "bob", "1200")

	// bidders cannot review
	rec, env := ts.do(http.MethodPost, "/api/v1/bids/"+a.ID+"/status", "alice", map[string]string{"status": "ACCEPTED"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_transition", env.Error.Code)

	rec, _ = ts.do(http.MethodPost, "/api/v1/bids/"+a.ID+"/status", "owner", map[string]string{"status": "PANEL"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env = ts.do(http.MethodPost, "/api/v1/bids/"+a.ID+"/status", "owner", map[string]string{"status": "ACCEPTED"})
	require.Equal(t, http.StatusOK, rec.Code)
	var accepted models.BidRecord
	require.NoError(t, json.Unmarshal(env.Data, &accepted))
	assert.Equal(t, models.BidAccepted, accepted.Status)

	rec, env = ts.do(http.MethodPost, "/api/v1/bids/"+b.ID+"/status", "owner", map[string]string{"status": "ACCEPTED"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "resource_already_resolved", env.Error.Code)

	rec, env = ts.do(http.MethodPost, "/api/v1/bids/"+a.ID+"/status", "owner", map[string]string{"status": "ACCEPTED"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "already_in_state", env.Error.Code)

	rec, env = ts.do(http.MethodPost, "/api/v1/bids/"+a.ID+"/status", "owner", map[string]string{"status": "REJECTED"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_transition", env.Error.Code)

	rec, env = ts.do(http.MethodPost, "/api/v1/bids/missing/status", "owner", map[string]string{"status": "PANEL"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)

	rec, env = ts.do(http.MethodPost, "/api/v1/bids/"+b.ID+"/status", "owner", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Code)

	// listing for the owner
	rec, env = ts.do(http.MethodGet, "/api/v1/bids/project/"+parent.ID+"/bid", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing listingJSON
	require.NoError(t, json.Unmarshal(env.Data, &listing))
	assert.Equal(t, models.RoleCreator, listing.Role)
	assert.Equal(t, 2, listing.Total)
	assert.Equal(t, 1, listing.Counts[models.BidAccepted])
	assert.Equal(t, 1, listing.Counts[models.BidPending])
	assert.Equal(t, 0, listing.Counts[models.BidPanel])
	require.Len(t, listing.Bids, 2)
	assert.Equal(t, a.ID, listing.Bids[0].ID)
	assert.Empty(t, listing.Bids[0].Actions)
	// accepting is no longer offered once resolved
	assert.ElementsMatch(t,
		[]models.BidStatus{models.BidRejected, models.BidPanel, models.BidInterview},
		listing.Bids[1].Actions)

	// status filter narrows bids but not counts
	rec, env = ts.do(http.MethodGet, "/api/v1/bids/project/"+parent.ID+"/bid?status=PENDING", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &listing))
	assert.Equal(t, models.RoleBidder, listing.Role)
	require.Len(t, listing.Bids, 1)
	assert.Equal(t, b.ID, listing.Bids[0].ID)
	assert.Empty(t, listing.Bids[0].Actions)
	assert.Equal(t, 2, listing.Total)

	// wrong kind route
	rec, _ = ts.do(http.MethodGet, "/api/v1/interviews/"+parent.ID+"/interview-bids", "owner", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type listingJSON struct {
	Parent models.ParentResource    `json:"parent"`
	Role   models.Role              `json:"role"`
	Bids   []bidJSON                `json:"bids"`
	Counts map[models.BidStatus]int `json:"counts"`
	Total  int                      `json:"total"`
}

type bidJSON struct {
	models.BidRecord
	Actions []models.BidStatus `json:"actions"`
}

func TestInterviewSelectionOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	parent := ts.createParent("owner", models.KindInterviewRequest)
	a := ts.placeBid(parent.ID, "alice", "10")
	b := ts.placeBid(parent.ID, "bob", "20")
	c := ts.placeBid(parent.ID, "carol", "30")

	path := "/api/v1/interviews/" + parent.ID + "/interview-bids/"

	rec, env := ts.do(http.MethodPost, path+b.ID, "alice", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_transition", env.Error.Code)

	rec, env = ts.do(http.MethodPost, path+b.ID, "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sel models.Selection
	require.NoError(t, json.Unmarshal(env.Data, &sel))
	assert.Equal(t, b.ID, sel.Winner.ID)
	assert.Len(t, sel.Rejected, 2)
	assert.False(t, sel.AlreadyResolved)

	rec, env = ts.do(http.MethodPost, path+b.ID, "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &sel))
	assert.True(t, sel.AlreadyResolved)

	rec, env = ts.do(http.MethodPost, path+a.ID, "owner", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "resource_already_resolved", env.Error.Code)

	// interview bids do not move through status review
	rec, _ = ts.do(http.MethodPost, "/api/v1/bids/"+c.ID+"/status", "owner", map[string]string{"status": "ACCEPTED"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, env = ts.do(http.MethodGet, "/api/v1/interviews/"+parent.ID+"/interview-bids", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing listingJSON
	require.NoError(t, json.Unmarshal(env.Data, &listing))
	assert.Equal(t, 1, listing.Counts[models.BidAccepted])
	assert.Equal(t, 2, listing.Counts[models.BidRejected])
	require.NotNil(t, listing.Parent.ResolvedBidID)
	assert.Equal(t, b.ID, *listing.Parent.ResolvedBidID)

	// resolved resources take no new bids
	rec, env = ts.do(http.MethodPost, "/api/v1/parents/"+parent.ID+"/bids", "dave",
		map[string]interface{}{"amount": "5"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "resource_already_resolved", env.Error.Code)

	rec, _ = ts.do(http.MethodPost, "/api/v1/interviews/missing/interview-bids/"+a.ID, "owner", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIntakeOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rec, env := ts.do(http.MethodPost, "/api/v1/parents", "owner", map[string]string{"kind": "AUCTION"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Code)

	parent := ts.createParent("owner", models.KindProjectProfile)
	ts.createParent("owner", models.KindInterviewRequest)
	ts.createParent("someone", models.KindProjectProfile)

	rec, env = ts.do(http.MethodPost, "/api/v1/parents/"+parent.ID+"/bids", "owner",
		map[string]interface{}{"amount": "10"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "own_resource", env.Error.Code)

	rec, env = ts.do(http.MethodPost, "/api/v1/parents/"+parent.ID+"/bids", "alice",
		map[string]interface{}{"amount": "-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", env.Error.Code)

	ts.placeBid(parent.ID, "alice", "10")
	rec, env = ts.do(http.MethodPost, "/api/v1/parents/"+parent.ID+"/bids", "alice",
		map[string]interface{}{"amount": "11"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_bid", env.Error.Code)

	rec, env = ts.do(http.MethodGet, "/api/v1/parents/"+parent.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.ParentResource
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Len(t, got.BidIDs, 1)

	rec, env = ts.do(http.MethodGet, "/api/v1/parents?owner=owner&kind=PROJECT_PROFILE", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Parents []models.ParentResource `json:"parents"`
		Total   int                     `json:"total"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, parent.ID, list.Parents[0].ID)

	rec, _ = ts.do(http.MethodGet, "/api/v1/parents?limit=zero", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(http.MethodGet, "/api/v1/parents/missing", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLockTimeoutOverHTTP(t *testing.T) {
	repo := storage.NewMemoryRepository(20 * time.Millisecond)
	srv := NewServer(config.ServerConfig{Port: 8080}, testAuth, engine.New(repo, nil), health.NewRegistry(time.Second))
	ts := &testServer{t: t, handler: srv.Router(), repo: repo}

	parent := ts.createParent("owner", models.KindProjectProfile)
	bid := ts.placeBid(parent.ID, "alice", "10")

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = repo.WithParentLock(context.Background(), parent.ID, func(tx storage.Tx) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	rec, env := ts.do(http.MethodPost, "/api/v1/bids/"+bid.ID+"/status", "owner", map[string]string{"status": "PANEL"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "lock_timeout", env.Error.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	close(release)
	<-done
}

func TestOversizedBodyRejected(t *testing.T) {
	ts := newTestServer(t)
	parent := ts.createParent("owner", models.KindProjectProfile)

	rec, env := ts.do(http.MethodPost, "/api/v1/parents/"+parent.ID+"/bids", "alice", map[string]string{
		"amount":      "10",
		"description": string(bytes.Repeat([]byte("x"), maxRequestBody)),
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "request_too_large", env.Error.Code)

	got, err := ts.repo.GetParent(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Empty(t, got.BidIDs)
}

func TestCanceledRequestIsNotServerError(t *testing.T) {
	ts := newTestServer(t)
	parent := ts.createParent("owner", models.KindProjectProfile)
	bid := ts.placeBid(parent.ID, "alice", "10")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := bytes.NewBufferString(`{"status":"PANEL"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bids/"+bid.ID+"/status", body).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ts.token("owner"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, statusClientClosedRequest, rec.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "request_canceled", env.Error.Code)

	stored, err := ts.repo.GetBid(context.Background(), bid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BidPending, stored.Status)
}

func TestRespondEngineErrorCanceled(t *testing.T) {
	rec := httptest.NewRecorder()
	respondEngineError(rec, context.Canceled)
	assert.Equal(t, statusClientClosedRequest, rec.Code)
}
