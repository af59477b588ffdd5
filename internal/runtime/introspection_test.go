package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/keelson/internal/runtime/jsoncodec"
	metricspkg "github.com/drblury/keelson/internal/runtime/metrics"
)

func TestHandleGetHandlers(t *testing.T) {
	svc, _ := newMockService(t, nil, nil)
	defer svc.Close()
	require.NoError(t, RegisterSubscriber(svc, subscriberRegistration("rpm", "rise/landkrabba/engine_rpm/port")))

	rec := httptest.NewRecorder()
	svc.handleGetHandlers(rec, httptest.NewRequest(http.MethodGet, "/api/handlers", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var handlers []HandlerInfo
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &handlers))
	require.Len(t, handlers, 1)
	assert.Equal(t, "rpm", handlers[0].Name)
	assert.Equal(t, HandlerKindSubscriber, handlers[0].Kind)
}

func TestHandleGetEnvelopes(t *testing.T) {
	svc, _ := newMockService(t, nil, nil)
	defer svc.Close()
	require.NoError(t, svc.Publish(context.Background(), "engine_rpm", "port", []byte{0x01}))

	rec := httptest.NewRecorder()
	svc.handleGetEnvelopes(rec, httptest.NewRequest(http.MethodGet, "/api/envelopes", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var snapshot metricspkg.Snapshot
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, uint64(1), snapshot.Tags["engine_rpm"].Published)
}

func TestIntrospectionRejectsWrites(t *testing.T) {
	svc, _ := newMockService(t, nil, nil)
	defer svc.Close()

	rec := httptest.NewRecorder()
	svc.handleGetHandlers(rec, httptest.NewRequest(http.MethodPost, "/api/handlers", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestMetricsPortRegistersEndpoints(t *testing.T) {
	conf := newTestConfig()
	conf.MetricsEnabled = true
	conf.MetricsPort = 9464
	svc, _ := newMockService(t, conf, nil)
	defer svc.Close()

	svc.httpServersMu.Lock()
	defer svc.httpServersMu.Unlock()
	mux, ok := svc.httpServers[9464]
	require.True(t, ok)

	for _, path := range []string{"/metrics", "/api/handlers", "/api/envelopes"} {
		_, pattern := mux.Handler(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, path, pattern)
	}
}
