package node

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// TriggerEvent is one accepted edge.
type TriggerEvent struct {
	Seq uint64
	Pin int
	At  time.Time
}

// EdgeMonitor reports raw edges on the trigger line. The channel closes
// when ctx is done or the monitor fails.
type EdgeMonitor interface {
	Edges(ctx context.Context) (<-chan time.Time, error)
}

var errMonitorStopped = errors.New("edge monitor stopped")

// TriggerSource debounces edges and starts one handler goroutine per
// accepted edge without waiting for earlier ones.
type TriggerSource struct {
	edges   EdgeMonitor
	pin     int
	limiter *rate.Limiter
	handle  func(TriggerEvent)
	logger  *log.Logger
	metrics *metrics

	seq uint64
	wg  sync.WaitGroup
}

func newTriggerSource(edges EdgeMonitor, pin int, debounce time.Duration, handle func(TriggerEvent), logger *log.Logger, m *metrics) *TriggerSource {
	limit := rate.Inf
	if debounce > 0 {
		limit = rate.Every(debounce)
	}
	return &TriggerSource{
		edges:   edges,
		pin:     pin,
		limiter: rate.NewLimiter(limit, 1),
		handle:  handle,
		logger:  logger,
		metrics: m,
	}
}

// Run consumes edges until ctx is done. Handlers still running when it
// returns are left to finish; use Wait to join them.
func (s *TriggerSource) Run(ctx context.Context) error {
	edges, err := s.edges.Edges(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("listening for triggers", "pin", s.pin)
	for {
		select {
		case <-ctx.Done():
			return nil
		case at, ok := <-edges:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errMonitorStopped
			}
			s.edge(at)
		}
	}
}

// edge applies the debounce window and dispatches an accepted edge.
func (s *TriggerSource) edge(at time.Time) bool {
	if !s.limiter.AllowN(at, 1) {
		s.metrics.triggers.WithLabelValues("debounced").Inc()
		s.logger.Debug("edge inside debounce window", "at", at)
		return false
	}
	s.metrics.triggers.WithLabelValues("accepted").Inc()
	ev := TriggerEvent{Seq: atomic.AddUint64(&s.seq, 1), Pin: s.pin, At: at}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.handle(ev)
	}()
	return true
}

// Wait blocks until every dispatched handler has returned.
func (s *TriggerSource) Wait() {
	s.wg.Wait()
}
