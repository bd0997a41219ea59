package voxtally

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t testing.TB) (*API, *ActivityStore) {
	t.Helper()

	cfg := DefaultTestConfig(t)
	cfg.API.Enabled = true

	store := newTestStore(t)
	vt := &VoxTally{config: cfg, store: store}
	vt.leaderboard = NewLeaderboard(store, staticResolver{}, nil)

	api, err := newAPI(vt, cfg.API)
	require.NoError(t, err)
	return api, store
}

func TestAPIHealthCheck(t *testing.T) {
	api, _ := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(xRequestIDHeader))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAPITotalLeaderboard(t *testing.T) {
	api, store := newTestAPI(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.IncrementVoiceActivity(ctx, "user-1", "2024-04")
		require.NoError(t, err)
	}
	_, err := store.IncrementVoiceActivity(ctx, "user-2", "2024-04")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Leaderboard []LeaderboardEntry `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Leaderboard, 2)
	assert.Equal(t, "user-1", body.Leaderboard[0].UserID)
	assert.Equal(t, int64(3), body.Leaderboard[0].Minutes)
}

func TestAPIMonthlyLeaderboard(t *testing.T) {
	api, store := newTestAPI(t)
	ctx := context.Background()

	_, err := store.IncrementVoiceActivity(ctx, "user-1", "2024-04")
	require.NoError(t, err)
	_, err = store.IncrementVoiceActivity(ctx, "user-1", "2024-05")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard/2024-04", nil)
	api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Month       string             `json:"month"`
		Leaderboard []LeaderboardEntry `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "2024-04", body.Month)
	require.Len(t, body.Leaderboard, 1)
	assert.Equal(t, int64(1), body.Leaderboard[0].Minutes)
}

func TestAPIMonthlyLeaderboardRejectsBadMonth(t *testing.T) {
	api, _ := newTestAPI(t)

	for _, month := range []string{"2024-4", "april", "2024"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(
			http.MethodGet,
			fmt.Sprintf("/api/leaderboard/%s", month),
			nil,
		)
		api.engine.ServeHTTP(w, req)
		assert.Equalf(
			t,
			http.StatusBadRequest,
			w.Code,
			"expected 400 for month %q",
			month,
		)
	}
}

func TestAPIEmptyLeaderboard(t *testing.T) {
	api, _ := newTestAPI(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Leaderboard []LeaderboardEntry `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Empty(t, body.Leaderboard)
}
