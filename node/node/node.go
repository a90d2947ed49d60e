package node

import (
	"context"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Hardware is what a node opens once at startup and owns until Close.
type Hardware struct {
	Channel      *SerialChannel
	Camera       Camera
	Histogrammer Histogrammer
	Edges        EdgeMonitor
}

// OpenHardware opens the serial link and builds the collaborators named
// by the configuration.
func OpenHardware(cfg *Config, logger *log.Logger) (Hardware, error) {
	channel, err := OpenSerialChannel(cfg.Serial)
	if err != nil {
		return Hardware{}, err
	}
	return Hardware{
		Channel:      channel,
		Camera:       NewCamera(cfg.Camera),
		Histogrammer: NewHistogrammer(cfg.Histogram),
		Edges:        NewEdgeMonitor(cfg.Trigger, logger),
	}, nil
}

// Node is the capture node: the owned hardware plus the components that
// use it. Tasks get the node by reference and share nothing else.
type Node struct {
	cfg       *Config
	logger    *log.Logger
	channel   *SerialChannel
	camera    Camera
	hist      Histogrammer
	builder   *MetadataBuilder
	gate      *AckGate
	guard     *exclusive
	metrics   *metrics
	publisher *publishClient
	trigger   *TriggerSource
	now       func() time.Time

	// onResult, when set, sees every finished task.
	onResult func(Result, error)
}

// New wires a node around already opened hardware. reg may be nil.
func New(cfg *Config, hw Hardware, reg prometheus.Registerer, logger *log.Logger) (*Node, error) {
	if hw.Channel == nil || hw.Camera == nil || hw.Histogrammer == nil || hw.Edges == nil {
		return nil, errors.New("node hardware is incomplete")
	}
	n := &Node{
		cfg:     cfg,
		logger:  logger,
		channel: hw.Channel,
		camera:  hw.Camera,
		hist:    hw.Histogrammer,
		builder: NewMetadataBuilder(cfg.FilterID, cfg.Histogram.Levels),
		gate:    NewAckGate(hw.Channel),
		guard:   newExclusive(),
		metrics: newMetrics(reg),
		now:     time.Now,
	}
	if cfg.Dev.Enabled {
		pc, err := newPublishClient(cfg.Dev.UploadURL, logger.WithPrefix("dev"), n.metrics)
		if err != nil {
			return nil, errors.Wrap(err, "dev upload")
		}
		n.publisher = pc
		logger.Info("dev mode on, captures are mirrored", "url", cfg.Dev.UploadURL)
	}
	n.trigger = newTriggerSource(hw.Edges, cfg.Trigger.Pin, cfg.Trigger.Debounce, n.handleTrigger, logger, n.metrics)
	return n, nil
}

// Run listens for triggers until ctx is done, then waits for in-flight
// tasks and uploads to finish.
func (n *Node) Run(ctx context.Context) error {
	if err := os.MkdirAll(n.cfg.SaveDir, 0o755); err != nil {
		return errors.Wrap(err, "create save dir")
	}
	n.logger.Info("ready", "filter", n.cfg.FilterID, "serial", n.cfg.Serial.Device, "pin", n.cfg.Trigger.Pin)
	err := n.trigger.Run(ctx)
	n.trigger.Wait()
	if n.publisher != nil {
		n.publisher.wait()
	}
	return err
}

// Capture runs one capture task for ev and returns its outcome.
func (n *Node) Capture(ev TriggerEvent) (Result, error) {
	n.metrics.inFlight.Inc()
	defer n.metrics.inFlight.Dec()
	result, err := newCaptureTask(n, ev).Run()
	n.metrics.taskFinished(err, result.Transferred)
	return result, err
}

func (n *Node) handleTrigger(ev TriggerEvent) {
	result, err := n.Capture(ev)
	if err != nil {
		n.logger.Error("capture task failed", "task", shortID(result.TaskID), "trigger", ev.Seq, "err", err)
	}
	if n.onResult != nil {
		n.onResult(result, err)
	}
}

// Close releases the serial link.
func (n *Node) Close() error {
	return n.channel.Close()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

