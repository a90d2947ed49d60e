package node

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const sysfsGPIORoot = "/sys/class/gpio"

// sysfsEdgeMonitor watches a GPIO line through the sysfs interface. The
// kernel flags an edge on the value file as POLLPRI.
type sysfsEdgeMonitor struct {
	root   string
	pin    int
	edge   string
	logger *log.Logger
}

func newSysfsEdgeMonitor(pin int, edge string, logger *log.Logger) *sysfsEdgeMonitor {
	return &sysfsEdgeMonitor{root: sysfsGPIORoot, pin: pin, edge: edge, logger: logger}
}

func (m *sysfsEdgeMonitor) lineDir() string {
	return filepath.Join(m.root, fmt.Sprintf("gpio%d", m.pin))
}

func (m *sysfsEdgeMonitor) setup() error {
	if _, err := os.Stat(m.lineDir()); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(m.root, "export"), []byte(strconv.Itoa(m.pin)), 0o644); err != nil {
			return errors.Wrapf(err, "export gpio%d", m.pin)
		}
	}
	if err := os.WriteFile(filepath.Join(m.lineDir(), "direction"), []byte("in"), 0o644); err != nil {
		return errors.Wrapf(err, "set gpio%d direction", m.pin)
	}
	if err := os.WriteFile(filepath.Join(m.lineDir(), "edge"), []byte(m.edge), 0o644); err != nil {
		return errors.Wrapf(err, "set gpio%d edge", m.pin)
	}
	return nil
}

func (m *sysfsEdgeMonitor) Edges(ctx context.Context) (<-chan time.Time, error) {
	if err := m.setup(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(m.lineDir(), "value"))
	if err != nil {
		return nil, errors.Wrapf(err, "open gpio%d value", m.pin)
	}
	out := make(chan time.Time, 16)
	go m.pollLoop(ctx, f, out)
	return out, nil
}

// pollLoop waits in poll(2) with a 100ms timeout so it notices ctx being
// cancelled. The value file must be re-read after every event to re-arm
// the interrupt.
func (m *sysfsEdgeMonitor) pollLoop(ctx context.Context, f *os.File, out chan<- time.Time) {
	defer close(out)
	defer f.Close()

	var value [8]byte
	if _, err := f.ReadAt(value[:], 0); err != nil && err != io.EOF {
		m.logger.Error("gpio read failed", "pin", m.pin, "err", err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		pollDescriptors := []unix.PollFd{{Fd: int32(f.Fd()), Events: unix.POLLPRI | unix.POLLERR}}
		count, err := unix.Poll(pollDescriptors, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			m.logger.Error("gpio poll failed", "pin", m.pin, "err", err)
			return
		}
		if count == 0 {
			continue
		}
		at := time.Now()
		if _, err := f.ReadAt(value[:], 0); err != nil && err != io.EOF {
			m.logger.Error("gpio read failed", "pin", m.pin, "err", err)
			return
		}
		select {
		case out <- at:
		case <-ctx.Done():
			return
		}
	}
}

// intervalEdgeMonitor emits an edge every period, standing in for the
// trigger line on a bench.
type intervalEdgeMonitor struct {
	every time.Duration
}

func (m *intervalEdgeMonitor) Edges(ctx context.Context) (<-chan time.Time, error) {
	if m.every <= 0 {
		return nil, errors.New("interval must be positive")
	}
	out := make(chan time.Time)
	go func() {
		defer close(out)
		ticker := time.NewTicker(m.every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case at := <-ticker.C:
				select {
				case out <- at:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// NewEdgeMonitor returns the interval monitor when an interval is set and
// the sysfs GPIO monitor otherwise.
func NewEdgeMonitor(cfg TriggerConfig, logger *log.Logger) EdgeMonitor {
	if cfg.Interval > 0 {
		return &intervalEdgeMonitor{every: cfg.Interval}
	}
	return newSysfsEdgeMonitor(cfg.Pin, cfg.Edge, logger)
}
