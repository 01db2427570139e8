package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/metered/pkg/metered"
	"github.com/flowgraph/metered/pkg/serialization"
)

func newTestServer(t *testing.T) (*httptest.Server, *workloadManager) {
	t.Helper()
	reg := metered.NewRegistry()
	wm := newWorkloadManager(reg, "test", time.Millisecond, zerolog.Nop())
	srv := httptest.NewServer(newMux(reg, wm))
	t.Cleanup(func() {
		srv.Close()
		wm.stopAll()
	})
	return srv, wm
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	code, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body)
}

func TestWorkloadLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := do(t, http.MethodPost, srv.URL+"/workloads", `{"name":"orders","kind":"queue","capacity":4,"producers":2}`)
	require.Equal(t, http.StatusAccepted, code, body)

	var started workloadStatus
	require.NoError(t, json.Unmarshal([]byte(body), &started))
	assert.Equal(t, "test_orders", started.Metric)
	assert.True(t, started.Running)

	code, _ = do(t, http.MethodPost, srv.URL+"/workloads", `{"name":"orders","kind":"watch"}`)
	assert.Equal(t, http.StatusConflict, code)

	assert.Eventually(t, func() bool {
		_, metrics := do(t, http.MethodGet, srv.URL+"/metrics", "")
		return strings.Contains(metrics, "test_orders_total_messages") &&
			!strings.Contains(metrics, "test_orders_total_messages 0")
	}, time.Second, 10*time.Millisecond)

	code, body = do(t, http.MethodGet, srv.URL+"/workloads", "")
	require.Equal(t, http.StatusOK, code)
	var list []workloadStatus
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "queue", list[0].Kind)

	code, body = do(t, http.MethodDelete, srv.URL+"/workloads/orders", "")
	require.Equal(t, http.StatusOK, code)
	var stopped workloadStatus
	require.NoError(t, json.Unmarshal([]byte(body), &stopped))
	assert.False(t, stopped.Running)
	assert.Empty(t, stopped.Error)
	assert.Equal(t, 0.0, stopped.Occupancy)
	assert.Greater(t, stopped.Total, 0.0)

	_, metrics := do(t, http.MethodGet, srv.URL+"/metrics", "")
	assert.NotContains(t, metrics, "test_orders_queue_size")

	// name is free again
	code, _ = do(t, http.MethodPost, srv.URL+"/workloads", `{"name":"orders","kind":"broadcast"}`)
	assert.Equal(t, http.StatusAccepted, code)
}

func TestWorkloadListMsgPack(t *testing.T) {
	srv, _ := newTestServer(t)
	code, _ := do(t, http.MethodPost, srv.URL+"/workloads", `{"name":"cfg","kind":"watch"}`)
	require.Equal(t, http.StatusAccepted, code)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/workloads", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", serialization.ContentTypeMsgPack)
	req.Header.Set("Accept-Encoding", "zstd")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, serialization.ContentTypeMsgPack, resp.Header.Get("Content-Type"))
	s := &serialization.Serializer{Codec: serialization.NewMsgPackCodec(), Compression: serialization.CompressionZstd}
	var list []workloadStatus
	require.NoError(t, s.Deserialize(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "watch", list[0].Kind)
}

func TestWorkloadErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	code, body := do(t, http.MethodPost, srv.URL+"/workloads", `{"name":"bad-name","kind":"queue"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body, "metric name")

	code, _ = do(t, http.MethodPost, srv.URL+"/workloads", `{"name":"x","kind":"pipe"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, http.MethodDelete, srv.URL+"/workloads/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
}
