package node

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/derktes/spectral-capture-node/wire"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// State is a step of a capture task.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateMetadataSent
	StateAwaitingAck
	StateStreaming
	StateSkipped
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateCapturing:
		return "Capturing"
	case StateMetadataSent:
		return "MetadataSent"
	case StateAwaitingAck:
		return "AwaitingAck"
	case StateStreaming:
		return "Streaming"
	case StateSkipped:
		return "Skipped"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// Result describes a finished capture task.
type Result struct {
	TaskID      string
	Trigger     TriggerEvent
	Record      wire.CaptureRecord
	Path        string
	States      []State
	Transferred bool
	Frames      int
	Bytes       int64
}

// Final returns the last state the task reached before Done.
func (r Result) Final() State {
	for i := len(r.States) - 1; i >= 0; i-- {
		if r.States[i] != StateDone {
			return r.States[i]
		}
	}
	return StateIdle
}

// CaptureTask runs one trigger end to end. It is single use.
type CaptureTask struct {
	node   *Node
	logger *log.Logger
	result Result
	state  State
}

func newCaptureTask(n *Node, ev TriggerEvent) *CaptureTask {
	id := uuid.NewString()
	return &CaptureTask{
		node:   n,
		logger: n.logger.With("task", shortID(id), "trigger", ev.Seq),
		result: Result{TaskID: id, Trigger: ev},
	}
}

func (t *CaptureTask) enter(s State) {
	t.state = s
	t.result.States = append(t.result.States, s)
	t.logger.Debug("state", "state", s)
}

func (t *CaptureTask) fail(kind, err error) error {
	failed := t.state
	t.enter(StateDone)
	return &TaskError{Kind: kind, State: failed, Err: err}
}

// Run drives the task from Idle to Done. The node guard is held from the
// capture until the transfer is finished or abandoned, so exchanges from
// different tasks never share the wire.
func (t *CaptureTask) Run() (Result, error) {
	n := t.node
	t.enter(StateIdle)

	release, err := n.guard.acquire(n.cfg.Transfer.LockTimeout)
	if err != nil {
		return t.result, t.fail(ErrContention, errors.Errorf("camera and link busy for %s", n.cfg.Transfer.LockTimeout))
	}
	defer release()

	t.enter(StateCapturing)
	ts := n.now()
	fname, err := availableName(n.cfg.SaveDir, n.builder.Filename(ts))
	if err != nil {
		return t.result, t.fail(ErrDevice, errors.Wrap(err, "save dir"))
	}
	path := filepath.Join(n.cfg.SaveDir, fname)
	t.logger.Info("trigger", "fname", fname)

	if err := n.camera.Capture(path); err != nil {
		return t.result, t.fail(ErrDevice, errors.Wrap(err, "capture"))
	}
	width, height, hist, err := n.hist.Compute(path)
	if err != nil {
		return t.result, t.fail(ErrDevice, errors.Wrap(err, "histogram"))
	}
	rec := n.builder.Build(ts, fname, width, height, hist)
	t.result.Record = rec
	t.result.Path = path
	if n.publisher != nil {
		n.publisher.publishCapture(rec, path)
	}

	line, err := wire.EncodeControl(rec)
	if err != nil {
		return t.result, t.fail(ErrLink, errors.Wrap(err, "encode metadata"))
	}
	if dropped, err := n.channel.Drain(); err != nil {
		return t.result, t.fail(ErrLink, err)
	} else if dropped > 0 {
		t.logger.Warn("dropped stale inbound bytes", "bytes", dropped)
	}
	if _, err := n.channel.Write(line); err != nil {
		return t.result, t.fail(ErrLink, errors.Wrap(err, "send metadata"))
	}
	t.enter(StateMetadataSent)

	keyword := n.cfg.Transfer.AckKeyword
	t.logger.Info("metadata sent, waiting for request", "keyword", keyword, "timeout", n.cfg.Transfer.AckTimeout)
	t.enter(StateAwaitingAck)
	started := time.Now()
	requested, err := n.gate.AwaitKeyword([]byte(keyword), n.cfg.Transfer.AckTimeout)
	n.metrics.ackWait.Observe(time.Since(started).Seconds())
	if err != nil {
		return t.result, t.fail(ErrLink, errors.Wrap(err, "await request"))
	}
	if !requested {
		t.enter(StateSkipped)
		t.logger.Info("no image requested", "fname", fname)
		t.enter(StateDone)
		return t.result, nil
	}

	t.enter(StateStreaming)
	t.logger.Info("streaming artifact", "fname", fname)
	if err := t.stream(path); err != nil {
		return t.result, err
	}
	t.result.Transferred = true
	t.enter(StateDone)
	t.logger.Info("artifact sent", "fname", fname, "frames", t.result.Frames, "bytes", t.result.Bytes)
	return t.result, nil
}

// stream writes the artifact as chunk frames in file order followed by
// the end marker. Nothing is retried; a failed write leaves the
// counterpart with a partial stream.
func (t *CaptureTask) stream(path string) error {
	n := t.node
	f, err := os.Open(path)
	if err != nil {
		return t.fail(ErrDevice, errors.Wrap(err, "open artifact"))
	}
	defer f.Close()

	buf := make([]byte, n.cfg.Transfer.ChunkSize)
	for {
		read, readErr := io.ReadFull(f, buf)
		if read > 0 {
			frame, err := wire.EncodeChunk(buf[:read])
			if err != nil {
				return t.fail(ErrLink, err)
			}
			if _, err := n.channel.Write(frame); err != nil {
				return t.fail(ErrLink, errors.Wrapf(err, "send chunk %d", t.result.Frames))
			}
			t.result.Frames++
			t.result.Bytes += int64(read)
			n.metrics.framesSent.Inc()
			n.metrics.bytesSent.Add(float64(read))
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return t.fail(ErrDevice, errors.Wrap(readErr, "read artifact"))
		}
	}
	if _, err := n.channel.Write(wire.EndMarker()); err != nil {
		return t.fail(ErrLink, errors.Wrap(err, "send end marker"))
	}
	return nil
}
