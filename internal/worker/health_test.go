package worker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagplane/flagplane/internal/featureflags"
	"github.com/flagplane/flagplane/internal/worker"
)

func TestHealthRouter_Health(t *testing.T) {
	router := worker.NewHealthRouter(worker.HealthConfig{Version: "1.0.0"})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "OK", body["status"])
}

func TestHealthRouter_Metrics(t *testing.T) {
	audit := worker.NewAuditLog(zerolog.Nop())
	audit.Record(context.Background(), featureflags.ChangeEvent{
		Action:     featureflags.ChangeDeleted,
		FlagID:     "ff_1",
		Key:        "dark-mode",
		OccurredAt: time.Now(),
	})
	check := worker.NewCheckJob(worker.CheckJobConfig{
		Repository: featureflags.NewInMemoryRepository(),
		Logger:     zerolog.Nop(),
	})
	_, err := check.Run(context.Background())
	require.NoError(t, err)

	router := worker.NewHealthRouter(worker.HealthConfig{Audit: audit, Check: check})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Audit map[string]interface{} `json:"audit"`
		Check map[string]interface{} `json:"check"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 1, body.Audit["deleted"], 0)
	assert.InDelta(t, 1, body.Check["total_runs"], 0)
}

func TestCheckJob_Schedule(t *testing.T) {
	job := worker.NewCheckJob(worker.CheckJobConfig{
		Repository: featureflags.NewInMemoryRepositoryWithFlags(featureflags.DefaultFlags()),
		Logger:     zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		job.Schedule(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return job.GetMetrics().TotalRuns >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("schedule did not stop after cancel")
	}
}
