package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/prosecheck/internal/app"
	"github.com/felixgeelhaar/prosecheck/pkg/config"
	"github.com/felixgeelhaar/prosecheck/pkg/observability"
)

func testContainer(t *testing.T) *app.Container {
	t.Helper()
	c, err := app.NewContainer(context.Background(), &config.Config{
		AppEnv:                  "development",
		SelfTestPolicy:          "warn",
		CacheTTL:                time.Minute,
		CacheFastCapacity:       10,
		CachePromotionThreshold: 2,
		CheckTimeout:            time.Second,
		FeedbackCapacity:        10,
		FeedbackCycleThreshold:  5,
		FeedbackLearningRate:    0.1,
	}, observability.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func TestRun_RequiresBroker(t *testing.T) {
	err := run(context.Background(), &config.Config{}, observability.Discard())
	assert.ErrorContains(t, err, "RABBITMQ_URL")
}

func TestHealthMux(t *testing.T) {
	c := testContainer(t)
	mux := healthMux(c)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["pending"])

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	c.Probes.Register("broker", true, func(context.Context) error { return errors.New("down") })
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
