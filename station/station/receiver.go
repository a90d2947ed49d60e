package station

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/derktes/spectral-capture-node/wire"
	"github.com/pkg/errors"
)

// maxImageBytes bounds one reassembled artifact.
const maxImageBytes = 64 << 20

// controlPrefix is how every capture line starts on the wire, since the
// encoder emits the type field first.
var controlPrefix = []byte(`{"type":`)

// receiver reads capture records from the link, asks for the artifacts
// the policy wants and reassembles their chunk streams.
type receiver struct {
	link     io.Writer
	in       *bufio.Reader
	policy   RequestPolicy
	keyword  []byte
	imageDir string
	station  *Station
	logger   *log.Logger
	now      func() time.Time
}

func newReceiver(port io.ReadWriter, policy RequestPolicy, keyword, imageDir string, s *Station, logger *log.Logger) *receiver {
	return &receiver{
		link:     port,
		in:       bufio.NewReaderSize(port, 4096),
		policy:   policy,
		keyword:  []byte(keyword),
		imageDir: imageDir,
		station:  s,
		logger:   logger,
		now:      time.Now,
	}
}

// run handles lines until the link fails or ctx is cancelled. Closing
// the port is what unblocks a pending read.
func (r *receiver) run(ctx context.Context) error {
	for {
		line, err := r.in.ReadBytes('\n')
		if err != nil {
			if ctx.Err() != nil || err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "read control line")
		}
		if err := r.handleLine(line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// handleLine returns an error only when the link itself failed.
func (r *receiver) handleLine(line []byte) error {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	rec, err := wire.DecodeCapture(line)
	if err != nil {
		r.logger.Warn("skipping control line", "err", err, "line", truncate(line, 80))
		return nil
	}

	want := r.policy.Want(rec)
	db := <-r.station.dbLock
	err = db.insert(rec, want, r.now())
	r.station.dbUnlock <- db
	if err != nil {
		r.logger.Warn("capture not indexed", "err", err)
		return nil
	}
	r.logger.Info("Received capture", "fname", rec.Filename, "filter", rec.FilterID, "mean", rec.Hist.Luminance().Mean(), "request", want)
	if !want {
		return nil
	}

	if _, err := r.link.Write(r.keyword); err != nil {
		return errors.Wrap(err, "write artifact request")
	}
	return r.receiveImage(rec.Filename)
}

// receiveImage reads chunk frames up to the end marker. A checksum
// mismatch marks the artifact corrupt but reading continues so the
// stream stays aligned.
func (r *receiver) receiveImage(fname string) error {
	// The node may have stopped waiting before the request arrived, in
	// which case the next capture line follows instead of a stream.
	if head, err := r.in.Peek(1); err == nil && head[0] == '{' {
		if head, err := r.in.Peek(len(controlPrefix)); err == nil && bytes.Equal(head, controlPrefix) {
			r.logger.Warn("artifact request went unanswered", "fname", fname)
			return nil
		}
	}

	var image bytes.Buffer
	info := imageInfo{}
	for {
		frame, err := wire.ReadFrame(r.in)
		if errors.Is(err, wire.ErrChecksum) {
			r.logger.Warn("chunk checksum mismatch", "fname", fname, "frame", info.Frames)
			info.Corrupt = true
		} else if err != nil {
			return errors.Wrapf(err, "read chunk of %s", fname)
		}
		if frame.End {
			break
		}
		info.Frames++
		if image.Len()+len(frame.Payload) > maxImageBytes {
			info.Corrupt = true
			continue
		}
		image.Write(frame.Payload)
	}
	info.Size = image.Len()

	path := filepath.Join(r.imageDir, filepath.Base(fname))
	if err := os.WriteFile(path, image.Bytes(), 0o644); err != nil {
		r.logger.Error("saving image failed", "path", path, "err", err)
		return nil
	}
	info.Path = path

	db := <-r.station.dbLock
	err := db.attachImage(fname, info)
	r.station.dbUnlock <- db
	if err != nil {
		r.logger.Warn("image not indexed", "err", err)
	}
	r.logger.Info("Received image", "fname", fname, "bytes", info.Size, "frames", info.Frames, "corrupt", info.Corrupt)
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
