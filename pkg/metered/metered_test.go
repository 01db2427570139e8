package metered_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/metered/pkg/metered"
)

func TestQueueThroughFacade(t *testing.T) {
	reg := metered.NewRegistry()
	m, err := metered.NewMetrics("facade_queue", "facade queue", reg)
	require.NoError(t, err)

	tx, rx := metered.Queue[string](1, m)
	ctx := context.Background()

	require.NoError(t, tx.Send(ctx, "a"))
	err = tx.TrySend("b")
	require.ErrorIs(t, err, metered.ErrFull)
	v, ok := metered.Unsent[string](err)
	require.True(t, ok)
	assert.Equal(t, "b", v)

	got, err := rx.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	permit, label, err := metered.WithPermit(ctx, tx, func(context.Context) string { return "computed" })
	require.NoError(t, err)
	permit.Send(label)
	tx.Close()

	got, err = rx.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "computed", got)
	_, err = rx.Recv(ctx)
	assert.ErrorIs(t, err, io.EOF)

	total, _ := m.TotalValue()
	assert.Equal(t, 2.0, total)
	assert.Equal(t, 0.0, m.OccupancyValue())
}

func TestBroadcastThroughFacade(t *testing.T) {
	m, err := metered.NewBasicMetrics("facade_broadcast", "facade broadcast", metered.NewRegistry())
	require.NoError(t, err)

	tx, rx := metered.Broadcast[int](1, m)
	require.NoError(t, tx.Send(1))
	require.NoError(t, tx.Send(2))

	_, err = rx.TryRecv()
	var lagged *metered.LaggedError
	require.True(t, errors.As(err, &lagged))
	assert.Equal(t, uint64(1), lagged.Skipped)
	assert.ErrorIs(t, err, metered.ErrLagged)

	v, err := rx.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestWatchThroughFacade(t *testing.T) {
	m, err := metered.NewMetrics("facade_watch", "facade watch", metered.NewRegistry())
	require.NoError(t, err)

	tx, rx := metered.Watch("v1", m)
	require.NoError(t, tx.Send("v2"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rx.Changed(ctx))
	assert.Equal(t, "v2", rx.Borrow())
}

func TestDuplicateMetricsName(t *testing.T) {
	reg := metered.NewRegistry()
	_, err := metered.NewMetrics("facade_dup", "dup", reg)
	require.NoError(t, err)
	_, err = metered.NewMetrics("facade_dup", "dup", reg)
	assert.ErrorIs(t, err, metered.ErrDuplicateName)
}

func TestHandlerExposesChannelSeries(t *testing.T) {
	reg := metered.NewRegistry()
	m, err := metered.NewMetrics("facade_http", "facade http", reg)
	require.NoError(t, err)
	tx, _ := metered.Queue[int](4, m)
	require.NoError(t, tx.TrySend(1))

	srv := httptest.NewServer(metered.Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "facade_http_queue_size 1")
	assert.Contains(t, string(body), "facade_http_total_messages 1")
}
