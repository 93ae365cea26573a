// Package connectivity tracks whether the branch can reach the central
// server. The monitor is deliberately asymmetric: any request failure flips
// it Offline at once, but going back Online requires a successful active
// probe, so a flapping link does not trigger sync storms.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// State is the monitor's view of the link to the server.
type State string

const (
	Online  State = "online"
	Offline State = "offline"
)

// Prober performs one active reachability check against the server.
type Prober interface {
	Probe(ctx context.Context) error
}

// HTTPProber probes the server health endpoint.
type HTTPProber struct {
	client *http.Client
	url    string
}

func NewHTTPProber(baseURL string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{Timeout: timeout},
		url:    baseURL + "/health",
	}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Monitor is the two-state connectivity machine. It starts Offline and must
// earn Online through a probe.
type Monitor struct {
	prober        Prober
	probeInterval time.Duration
	logger        *slog.Logger

	mu    sync.Mutex
	state State
	subs  []chan State

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func NewMonitor(prober Prober, probeInterval time.Duration, logger *slog.Logger) *Monitor {
	if probeInterval <= 0 {
		probeInterval = 10 * time.Second
	}
	return &Monitor{
		prober:        prober,
		probeInterval: probeInterval,
		logger:        logger,
		state:         Offline,
		kick:          make(chan struct{}, 1),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start runs the probe loop until Stop or ctx cancellation. Probes fire only
// while Offline; an Online monitor stays quiet until a failure is reported.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	// Initial probe so a terminal booting with a live link comes Online
	// without waiting a full interval.
	m.probeIfOffline(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-ticker.C:
			m.probeIfOffline(ctx)
		case <-m.kick:
			m.probeIfOffline(ctx)
		}
	}
}

func (m *Monitor) probeIfOffline(ctx context.Context) {
	if m.State() == Online {
		return
	}
	if err := m.prober.Probe(ctx); err != nil {
		m.logger.Debug("connectivity probe failed", "error", err)
		return
	}
	m.setState(Online)
}

// Stop shuts the probe loop down and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) IsOnline() bool {
	return m.State() == Online
}

// ReportFailure is the passive offline signal: any component that saw a
// request to the server fail calls it. The flip is immediate.
func (m *Monitor) ReportFailure() {
	m.setState(Offline)
}

// ReportSuccess is the passive online candidate. It does not flip the state
// by itself; it schedules an immediate probe to confirm.
func (m *Monitor) ReportSuccess() {
	if m.State() == Online {
		return
	}
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Subscribe returns a channel that receives each state transition. Delivery
// is non-blocking: a subscriber that is not draining misses intermediate
// transitions but never stalls the monitor.
func (m *Monitor) Subscribe() <-chan State {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan State, 1)
	m.subs = append(m.subs, ch)
	return ch
}

func (m *Monitor) setState(next State) {
	m.mu.Lock()
	if m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	subs := make([]chan State, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	m.logger.Info("connectivity state changed", "state", string(next))
	for _, ch := range subs {
		select {
		case ch <- next:
		default:
		}
	}
}
