package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindingCreation(t *testing.T) {
	reg := NewRegistry()

	t.Run("Full", func(t *testing.T) {
		m, err := New("test_metrics", "test metrics", reg)
		require.NoError(t, err)

		assert.Equal(t, "test_metrics", m.Name)
		assert.True(t, m.HasTotal())
		assert.Equal(t, 0.0, m.OccupancyValue())
		total, ok := m.TotalValue()
		assert.True(t, ok)
		assert.Equal(t, 0.0, total)
	})

	t.Run("Basic", func(t *testing.T) {
		m, err := NewBasic("test_basic", "test basic metrics", reg)
		require.NoError(t, err)

		assert.False(t, m.HasTotal())
		_, ok := m.TotalValue()
		assert.False(t, ok)
	})

	t.Run("SeriesNames", func(t *testing.T) {
		families, err := reg.Gather()
		require.NoError(t, err)

		names := make([]string, 0, len(families))
		for _, f := range families {
			names = append(names, f.GetName())
		}
		assert.ElementsMatch(t, []string{
			"test_metrics_queue_size",
			"test_metrics_total_messages",
			"test_basic_queue_size",
		}, names)
	})
}

func TestBindingClonesShareState(t *testing.T) {
	reg := NewRegistry()
	m, err := New("test_clone", "test clone metrics", reg)
	require.NoError(t, err)

	cloned := m

	m.IncOccupancy()
	assert.Equal(t, 1.0, cloned.OccupancyValue())

	m.IncTotal()
	total, _ := cloned.TotalValue()
	assert.Equal(t, 1.0, total)

	cloned.DecOccupancy()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Occupancy))
}

func TestBindingConcurrentUpdates(t *testing.T) {
	m, err := New("test_concurrent", "concurrent", NewRegistry())
	require.NoError(t, err)

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(b Binding) {
			defer wg.Done()
			b.IncOccupancy()
			b.IncTotal()
		}(m)
	}
	wg.Wait()

	assert.Equal(t, float64(n), m.OccupancyValue())
	total, _ := m.TotalValue()
	assert.Equal(t, float64(n), total)
}

func TestBindingRegistration(t *testing.T) {
	t.Run("DuplicateName", func(t *testing.T) {
		reg := NewRegistry()
		_, err := New("test_dup", "test duplicate metrics", reg)
		require.NoError(t, err)

		_, err = New("test_dup", "test duplicate metrics", reg)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateName)
	})

	t.Run("CounterCollisionLeavesNoGauge", func(t *testing.T) {
		reg := NewRegistry()
		taken := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "partial" + TotalMessagesSuffix,
			Help: "Total number of messages processed by partial channel",
		})
		require.NoError(t, reg.Register(taken))

		_, err := New("partial", "partial", reg)
		require.ErrorIs(t, err, ErrDuplicateName)

		// Gauge must have been rolled back, so a basic binding can claim it.
		_, err = NewBasic("partial", "partial", reg)
		assert.NoError(t, err)
	})
}

func TestBindingUnregister(t *testing.T) {
	reg := NewRegistry()
	m, err := New("test_unregister", "unregister", reg)
	require.NoError(t, err)

	assert.True(t, m.Unregister(reg))
	assert.False(t, m.Unregister(reg))

	_, err = New("test_unregister", "unregister", reg)
	assert.NoError(t, err)
}

func TestZeroBinding(t *testing.T) {
	var m Binding
	m.IncOccupancy()
	m.DecOccupancy()
	m.IncTotal()
	assert.Equal(t, 0.0, m.OccupancyValue())
	assert.False(t, m.HasTotal())
}

func TestFromCollectors(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "g"})
	total := prometheus.NewCounter(prometheus.CounterOpts{Name: "c"})

	m := FromCollectors("external", gauge, total)
	m.IncOccupancy()
	m.IncTotal()

	assert.Equal(t, 1.0, testutil.ToFloat64(gauge))
	assert.Equal(t, 1.0, testutil.ToFloat64(total))
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	m, err := New("exposed", "exposed", reg)
	require.NoError(t, err)
	m.IncOccupancy()
	m.IncTotal()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "exposed_queue_size 1"))
	assert.True(t, strings.Contains(body, "exposed_total_messages 1"))
}
