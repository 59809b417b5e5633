package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/dagu/internal/dagmanager"
)

type fakeSupervisor struct {
	active bool
	stats  []dagmanager.ShardStat
}

func (f *fakeSupervisor) Active() bool                           { return f.active }
func (f *fakeSupervisor) InstanceID() string                     { return "test-1" }
func (f *fakeSupervisor) ShardStats() []dagmanager.ShardStat      { return f.stats }

func TestHealthzReportsActiveState(t *testing.T) {
	sup := &fakeSupervisor{active: true}
	srv := New("127.0.0.1:0", sup)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthzResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Active)
	assert.Equal(t, "test-1", body.InstanceID)
}

func TestDebugShardsReturnsUnavailableWhileInactive(t *testing.T) {
	sup := &fakeSupervisor{active: false}
	srv := New("127.0.0.1:0", sup)

	req := httptest.NewRequest(http.MethodGet, "/debug/shards", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDebugShardsReturnsStatsWhenActive(t *testing.T) {
	sup := &fakeSupervisor{active: true, stats: []dagmanager.ShardStat{{ID: 0, TrackedDags: 3}}}
	srv := New("127.0.0.1:0", sup)

	req := httptest.NewRequest(http.MethodGet, "/debug/shards", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body shardsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Shards, 1)
	assert.Equal(t, 3, body.Shards[0].TrackedDags)
}

func TestShutdownIsGraceful(t *testing.T) {
	sup := &fakeSupervisor{active: true}
	srv := New("127.0.0.1:0", sup)
	assert.NoError(t, srv.Shutdown(context.Background()))
}
