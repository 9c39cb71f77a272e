package gateway

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/chadiek/historia/internal/loop"
)

// Connectivity is the probed reachability of the backend.
type Connectivity string

const (
	Connected    Connectivity = "connected"
	Degraded     Connectivity = "degraded"
	Disconnected Connectivity = "disconnected"
)

// Prober is the health-check half of the Client.
type Prober interface {
	Health(ctx context.Context) (Health, error)
}

// Monitor polls the backend health endpoint and tracks Connectivity.
// State may be read from any goroutine; probe results are applied on the loop.
type Monitor struct {
	prober   Prober
	loop     *loop.Loop
	interval time.Duration
	timeout  time.Duration
	onChange func(Connectivity)

	state  atomic.Value
	health atomic.Pointer[Health]
	ticker *loop.Timer
	ctx    context.Context
	cancel context.CancelFunc
}

// NewMonitor constructs a Monitor that starts out Disconnected.
func NewMonitor(p Prober, l *loop.Loop, interval time.Duration, onChange func(Connectivity)) *Monitor {
	m := &Monitor{
		prober:   p,
		loop:     l,
		interval: interval,
		timeout:  5 * time.Second,
		onChange: onChange,
	}
	m.state.Store(Disconnected)
	return m
}

// State returns the latest Connectivity.
func (m *Monitor) State() Connectivity { return m.state.Load().(Connectivity) }

// Health returns the last successfully decoded health body, if any.
func (m *Monitor) Health() *Health { return m.health.Load() }

// Start probes immediately and then every interval, independent of user action.
func (m *Monitor) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.probe()
	m.ticker = m.loop.Every(m.interval, m.probe)
}

// Stop ends polling. In-flight probes are discarded.
func (m *Monitor) Stop() {
	m.ticker.Stop()
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Monitor) probe() {
	ctx := m.ctx
	go func() {
		pctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		h, err := m.prober.Health(pctx)
		m.loop.Post(func() {
			if ctx.Err() != nil {
				return
			}
			m.apply(h, err)
		})
	}()
}

func (m *Monitor) apply(h Health, err error) {
	next := Disconnected
	if err == nil {
		m.health.Store(&h)
		next = Degraded
		if h.Status == "healthy" {
			next = Connected
		}
	} else {
		m.health.Store(nil)
	}
	prev := m.State()
	if prev == next {
		return
	}
	m.state.Store(next)
	// an unreachable backend is the normal offline mode, not an error
	log.Printf("gateway: connectivity %s -> %s", prev, next)
	if m.onChange != nil {
		m.onChange(next)
	}
}
