package node

import (
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// Camera produces a still image at the given path.
type Camera interface {
	Capture(path string) error
}

// commandCamera runs an external still-capture program once per capture.
type commandCamera struct {
	command string
	args    []string
}

func newCommandCamera(cfg CameraConfig) *commandCamera {
	return &commandCamera{command: cfg.Command, args: cfg.Args}
}

func (c *commandCamera) Capture(path string) error {
	args := make([]string, len(c.args))
	for i, a := range c.args {
		args[i] = strings.ReplaceAll(a, pathPlaceholder, path)
	}
	output, err := exec.Command(c.command, args...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s: %s", c.command, strings.TrimSpace(string(output)))
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(err, "%s produced no image", c.command)
	}
	return nil
}

// fileCamera copies a fixture image, for bench runs without a sensor.
type fileCamera struct {
	source string
}

func (c *fileCamera) Capture(path string) error {
	src, err := os.Open(c.source)
	if err != nil {
		return errors.Wrap(err, "open simulated capture")
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "create capture file")
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return errors.Wrap(err, "copy simulated capture")
	}
	return dst.Close()
}

// NewCamera picks the simulated camera when a fixture is configured.
func NewCamera(cfg CameraConfig) Camera {
	if cfg.SimulateFrom != "" {
		return &fileCamera{source: cfg.SimulateFrom}
	}
	return newCommandCamera(cfg)
}
