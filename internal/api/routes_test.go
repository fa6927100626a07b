package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/calmpath/internal/advisor"
	"github.com/ashureev/calmpath/internal/catalog"
	"github.com/ashureev/calmpath/internal/crisis"
	"github.com/ashureev/calmpath/internal/domain"
	"github.com/ashureev/calmpath/internal/identity"
	"github.com/ashureev/calmpath/internal/journal"
	"github.com/ashureev/calmpath/internal/middleware"
	"github.com/ashureev/calmpath/internal/store"
)

type fakeAnalyzer struct {
	err error
}

func (f *fakeAnalyzer) AnalyzeReaction(_ context.Context, in advisor.Reaction) (*advisor.Advice, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &advisor.Advice{Analysis: "a", Suggestion: "s", BetterResponse: "b"}, nil
}

type testServer struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestServer(t *testing.T, analyzer ReactionAnalyzer) *testServer {
	t.Helper()
	repo := store.NewMemory()
	cat := catalog.NewService(repo)
	guides, err := catalog.DefaultSeed()
	require.NoError(t, err)
	_, err = cat.SeedIfEmpty(context.Background(), guides)
	require.NoError(t, err)

	routes := Routes{
		Guides:  NewGuideHandler(cat),
		Crises:  NewCrisisHandler(crisis.NewService(repo), journal.NewService(repo)),
		Session: NewSessionHandler(repo, analyzer != nil, string(identity.ModeHeader)),
	}
	if analyzer != nil {
		routes.Advisor = NewAdvisorHandler(analyzer, middleware.NewRateLimiter(2).Middleware)
	}

	r := chi.NewRouter()
	NewHealthHandler(repo).RegisterHealth(r)
	routes.Mount(r, identity.Middleware(repo, identity.Options{Mode: identity.ModeHeader}))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv}
}

// do sends a request as user (anonymous when empty) and decodes the JSON
// response into out when out is non-nil.
func (s *testServer) do(method, path, user, body string, out interface{}) int {
	s.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	require.NoError(s.t, err)
	if user != "" {
		req.Header.Set(identity.DefaultUserHeader, user)
	}
	resp, err := s.srv.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", "", &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Checks["database"])
}

func TestGuidesArePublic(t *testing.T) {
	s := newTestServer(t, nil)

	var guides []domain.Guide
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/guides", "", "", &guides))
	require.Len(t, guides, 3)
	assert.Equal(t, "The Cooling Down Protocol", guides[0].Title)

	var guide domain.Guide
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/guides/1", "", "", &guide))
	assert.Len(t, guide.Steps, 4)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/guides/99", "", "", nil))
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/guides/abc", "", "", nil))
}

func TestConfigAndUser(t *testing.T) {
	s := newTestServer(t, nil)

	var cfg map[string]interface{}
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/config", "", "", &cfg))
	assert.Equal(t, false, cfg["aiEnabled"])
	assert.Equal(t, "header", cfg["authMode"])

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/auth/user", "", "", nil))

	var user domain.User
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/auth/user", "alice", "", &user))
	assert.Equal(t, "alice", user.UserID)
}

func TestCrisisLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	var c domain.Crisis
	status := s.do(http.MethodPost, "/api/crises", "alice",
		`{"userId":"mallory","guideId":1,"title":"Fight about dishes"}`, &c)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "alice", c.UserID)
	assert.Equal(t, 0, c.CurrentStepIndex)
	assert.False(t, c.IsResolved)
	path := "/api/crises/" + jsonID(c.ID)

	for want := 1; want <= 3; want++ {
		require.Equal(t, http.StatusOK, s.do(http.MethodPost, path+"/advance", "alice", "", &c))
		assert.Equal(t, want, c.CurrentStepIndex)
	}
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, path+"/advance", "alice", "", nil))

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, path+"/retreat", "alice", "", &c))
	assert.Equal(t, 2, c.CurrentStepIndex)

	var errBody errorBody
	require.Equal(t, http.StatusBadRequest, s.do(http.MethodPatch, path+"/progress", "alice", `{"stepIndex":9}`, &errBody))
	assert.Equal(t, "stepIndex", errBody.Field)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPatch, path+"/progress", "alice", `{"isResolved":true}`, nil))

	stale := c.Version - 1
	assert.Equal(t, http.StatusConflict,
		s.do(http.MethodPatch, path+"/progress", "alice", `{"stepIndex":3,"version":`+jsonID(stale)+`}`, nil))

	require.Equal(t, http.StatusOK,
		s.do(http.MethodPatch, path+"/progress", "alice", `{"stepIndex":3,"isResolved":true,"version":`+jsonID(c.Version)+`}`, &c))
	assert.Equal(t, 3, c.CurrentStepIndex)
	assert.True(t, c.IsResolved)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, path+"/resolve", "alice", "", &c))
	assert.True(t, c.IsResolved)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, path+"/retreat", "alice", "", nil))

	var list []domain.Crisis
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/crises", "alice", "", &list))
	require.Len(t, list, 1)
	assert.Equal(t, c.ID, list[0].ID)

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/crises", "bob", "", &list))
	assert.Empty(t, list)
}

func TestCrisisAccessControl(t *testing.T) {
	s := newTestServer(t, nil)

	var c domain.Crisis
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/crises", "alice", `{"title":"free form"}`, &c))
	path := "/api/crises/" + jsonID(c.ID)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/crises", "", "", nil))
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, path, "", "", nil))
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, path, "bob", "", nil))
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPatch, path+"/progress", "bob", `{"stepIndex":0,"isResolved":true}`, nil))
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, path+"/notes", "bob", "", nil))
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, path+"/notes", "bob", `{"content":"hi"}`, nil))
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/crises/999", "alice", "", nil))

	var stored domain.Crisis
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, path, "alice", "", &stored))
	assert.False(t, stored.IsResolved)
}

func TestCreateCrisisValidation(t *testing.T) {
	s := newTestServer(t, nil)

	var errBody errorBody
	require.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/crises", "alice", `{"title":"  "}`, &errBody))
	assert.Equal(t, "title", errBody.Field)
	require.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/crises", "alice", `{"title":"x","guideId":42}`, &errBody))
	assert.Equal(t, "guideId", errBody.Field)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/crises", "alice", `[1,2]`, nil))
}

func TestNotesOverHTTP(t *testing.T) {
	s := newTestServer(t, nil)

	var c domain.Crisis
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, "/api/crises", "alice", `{"guideId":2,"title":"t"}`, &c))
	path := "/api/crises/" + jsonID(c.ID) + "/notes"

	var notes []domain.Note
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, path, "alice", "", &notes))
	assert.Empty(t, notes)

	var note domain.Note
	require.Equal(t, http.StatusCreated, s.do(http.MethodPost, path, "alice", `{"content":"I feel calmer"}`, &note))
	assert.Equal(t, "I feel calmer", note.Content)
	assert.Equal(t, c.ID, note.CrisisID)
	assert.Nil(t, note.Sentiment)
	assert.False(t, note.CreatedAt.Before(c.CreatedAt))

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, path, "alice", `{"content":""}`, nil))

	require.Equal(t, http.StatusOK, s.do(http.MethodGet, path, "alice", "", &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, note.ID, notes[0].ID)
}

func TestAdvisorRoutes(t *testing.T) {
	body := `{"situation":"chores","partnerSaid":"you never help","myReaction":"not true"}`

	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, nil)
		assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/api/ai/analyze-reaction", "alice", body, nil))
	})

	t.Run("enabled", func(t *testing.T) {
		s := newTestServer(t, &fakeAnalyzer{})
		assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/api/ai/analyze-reaction", "", body, nil))

		var advice advisor.Advice
		require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/ai/analyze-reaction", "alice", body, &advice))
		assert.Equal(t, "b", advice.BetterResponse)

		var errBody errorBody
		require.Equal(t, http.StatusBadRequest,
			s.do(http.MethodPost, "/api/ai/analyze-reaction", "alice", `{"situation":"x","partnerSaid":"y"}`, &errBody))
		assert.Equal(t, "myReaction", errBody.Field)

		assert.Equal(t, http.StatusTooManyRequests, s.do(http.MethodPost, "/api/ai/analyze-reaction", "alice", body, nil))
		assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/ai/analyze-reaction", "bob", body, nil))
	})

	t.Run("upstream failure", func(t *testing.T) {
		s := newTestServer(t, &fakeAnalyzer{err: errors.Join(domain.ErrUpstream, errors.New("timeout"))})
		var errBody errorBody
		require.Equal(t, http.StatusInternalServerError, s.do(http.MethodPost, "/api/ai/analyze-reaction", "alice", body, &errBody))
		assert.Equal(t, "Internal server error", errBody.Message)
	})
}

func TestUnknownAPIRoute(t *testing.T) {
	s := newTestServer(t, nil)
	var errBody errorBody
	require.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/nope", "alice", "", &errBody))
	assert.Equal(t, "Not found", errBody.Message)
}

func jsonID(id int64) string {
	return strconv.FormatInt(id, 10)
}
