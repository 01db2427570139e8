package main

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/flowgraph/metered/internal/workload"
	"github.com/flowgraph/metered/pkg/metered"
	"github.com/flowgraph/metered/pkg/serialization"
)

type workloadManager struct {
	mu      sync.Mutex
	reg     prometheus.Registerer
	prefix  string
	rate    time.Duration
	log     zerolog.Logger
	running map[string]*runningWorkload
}

type runningWorkload struct {
	spec    workload.Spec
	binding metered.Binding
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
	err     error // set before done is closed
}

// workloadStatus is the JSON view of one workload.
type workloadStatus struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Metric    string    `json:"metric"`
	Occupancy float64   `json:"occupancy"`
	Total     float64   `json:"total"`
	Started   time.Time `json:"started"`
	Running   bool      `json:"running"`
	Error     string    `json:"error,omitempty"`
}

func newWorkloadManager(reg prometheus.Registerer, prefix string, rate time.Duration, log zerolog.Logger) *workloadManager {
	return &workloadManager{
		reg:     reg,
		prefix:  prefix,
		rate:    rate,
		log:     log,
		running: make(map[string]*runningWorkload),
	}
}

func (rw *runningWorkload) status() workloadStatus {
	total, _ := rw.binding.TotalValue()
	st := workloadStatus{
		Name:      rw.spec.Name,
		Kind:      rw.spec.Kind,
		Metric:    rw.binding.Name,
		Occupancy: rw.binding.OccupancyValue(),
		Total:     total,
		Started:   rw.started,
		Running:   true,
	}
	select {
	case <-rw.done:
		st.Running = false
		if rw.err != nil {
			st.Error = rw.err.Error()
		}
	default:
	}
	return st
}

func (m *workloadManager) start(w http.ResponseWriter, r *http.Request, spec workload.Spec) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.running[spec.Name]; ok {
		http.Error(w, "workload already running", http.StatusConflict)
		return
	}

	binding, err := metered.NewMetrics(m.prefix+"_"+spec.Name, spec.Name+" "+spec.Kind, m.reg)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, metered.ErrDuplicateName) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	rw := &runningWorkload{
		spec:    spec,
		binding: binding,
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.running[spec.Name] = rw
	go func() {
		rw.err = workload.Run(ctx, spec, spec.Interval(m.rate), binding, m.log)
		close(rw.done)
	}()

	writeBody(w, r, http.StatusAccepted, rw.status())
}

func (m *workloadManager) stop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	m.mu.Lock()
	rw, ok := m.running[name]
	delete(m.running, name)
	m.mu.Unlock()
	if !ok {
		http.Error(w, "workload not found", http.StatusNotFound)
		return
	}

	m.halt(rw)
	writeBody(w, r, http.StatusOK, rw.status())
}

// halt cancels rw, waits for its channels to drain and frees its metric names.
func (m *workloadManager) halt(rw *runningWorkload) {
	rw.cancel()
	<-rw.done
	rw.binding.Unregister(m.reg)
}

func (m *workloadManager) list(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	out := make([]workloadStatus, 0, len(m.running))
	for _, rw := range m.running {
		out = append(out, rw.status())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeBody(w, r, http.StatusOK, out)
}

func (m *workloadManager) stopAll() {
	m.mu.Lock()
	all := m.running
	m.running = make(map[string]*runningWorkload)
	m.mu.Unlock()

	for _, rw := range all {
		m.halt(rw)
	}
}

// writeBody encodes v in the format the client asked for.
func writeBody(w http.ResponseWriter, r *http.Request, status int, v any) {
	_ = serialization.Negotiate(r).Write(w, status, v)
}
