package metrics

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Series name suffixes appended to the binding name.
const (
	QueueSizeSuffix     = "_queue_size"
	TotalMessagesSuffix = "_total_messages"
)

// ErrDuplicateName is returned when a series with the same name already
// exists in the registry.
var ErrDuplicateName = errors.New("metric name already registered")

// Binding is the pair of collectors a channel reports to. Copies share the
// underlying collectors, so an update through one copy is immediately visible
// through every other. Total is nil for bindings built with NewBasic.
// The zero Binding records nothing.
type Binding struct {
	Name      string
	Occupancy prometheus.Gauge
	Total     prometheus.Counter
}

// New registers {name}_queue_size and {name}_total_messages. Registration is
// all-or-nothing: if the counter cannot be registered the gauge is removed
// again before the error is returned.
func New(name, help string, reg prometheus.Registerer) (Binding, error) {
	gauge := newGauge(name, help)
	if err := register(reg, gauge); err != nil {
		return Binding{}, err
	}

	total := prometheus.NewCounter(prometheus.CounterOpts{
		Name: name + TotalMessagesSuffix,
		Help: fmt.Sprintf("Total number of messages processed by %s channel", help),
	})
	if err := register(reg, total); err != nil {
		reg.Unregister(gauge)
		return Binding{}, err
	}

	return Binding{Name: name, Occupancy: gauge, Total: total}, nil
}

// NewBasic registers only the occupancy gauge.
func NewBasic(name, help string, reg prometheus.Registerer) (Binding, error) {
	gauge := newGauge(name, help)
	if err := register(reg, gauge); err != nil {
		return Binding{}, err
	}
	return Binding{Name: name, Occupancy: gauge}, nil
}

// FromCollectors wraps collectors the caller already created and registered.
// total may be nil.
func FromCollectors(name string, occupancy prometheus.Gauge, total prometheus.Counter) Binding {
	return Binding{Name: name, Occupancy: occupancy, Total: total}
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Name: name + QueueSizeSuffix,
		Help: fmt.Sprintf("Current number of items in %s channel", help),
	})
}

func register(reg prometheus.Registerer, c prometheus.Collector) error {
	err := reg.Register(c)
	if err == nil {
		return nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		return fmt.Errorf("%w: %w", ErrDuplicateName, err)
	}
	return fmt.Errorf("failed to register metric: %w", err)
}

// Unregister removes the binding's collectors from reg so the name can be
// registered again. It reports whether anything was removed.
func (b Binding) Unregister(reg prometheus.Registerer) bool {
	removed := false
	if b.Occupancy != nil {
		removed = reg.Unregister(b.Occupancy)
	}
	if b.Total != nil {
		removed = reg.Unregister(b.Total) || removed
	}
	return removed
}

// HasTotal reports whether the binding carries a lifetime counter.
func (b Binding) HasTotal() bool { return b.Total != nil }

// IncOccupancy adds one to the occupancy gauge.
func (b Binding) IncOccupancy() {
	if b.Occupancy != nil {
		b.Occupancy.Inc()
	}
}

// DecOccupancy subtracts one from the occupancy gauge.
func (b Binding) DecOccupancy() {
	if b.Occupancy != nil {
		b.Occupancy.Dec()
	}
}

// IncTotal adds one to the lifetime counter, if present.
func (b Binding) IncTotal() {
	if b.Total != nil {
		b.Total.Inc()
	}
}

// OccupancyValue reads the current gauge value.
func (b Binding) OccupancyValue() float64 {
	if b.Occupancy == nil {
		return 0
	}
	var m dto.Metric
	if err := b.Occupancy.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// TotalValue reads the lifetime counter. ok is false for basic bindings.
func (b Binding) TotalValue() (v float64, ok bool) {
	if b.Total == nil {
		return 0, false
	}
	var m dto.Metric
	if err := b.Total.Write(&m); err != nil {
		return 0, true
	}
	return m.GetCounter().GetValue(), true
}

// NewRegistry returns an empty registry. Channels never use the global
// default registry implicitly.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Handler renders everything gathered from g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
