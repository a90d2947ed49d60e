package node

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileCameraCopiesFixture(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.jpg")
	require.NoError(t, os.WriteFile(fixture, []byte("jpeg bytes"), 0o644))

	camera := NewCamera(CameraConfig{SimulateFrom: fixture})
	out := filepath.Join(dir, "out.jpg")
	require.NoError(t, camera.Capture(out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(got))

	missing := NewCamera(CameraConfig{SimulateFrom: filepath.Join(dir, "nope.jpg")})
	assert.Error(t, missing.Capture(filepath.Join(dir, "x.jpg")))
}

func TestCommandCameraSubstitutesPath(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.jpg")
	require.NoError(t, os.WriteFile(fixture, []byte("frame"), 0o644))

	camera := NewCamera(CameraConfig{Command: "cp", Args: []string{fixture, pathPlaceholder}})
	out := filepath.Join(dir, "shot.jpg")
	require.NoError(t, camera.Capture(out))
	assert.FileExists(t, out)
}

func TestCommandCameraFailures(t *testing.T) {
	dir := t.TempDir()

	failing := NewCamera(CameraConfig{Command: "false", Args: []string{pathPlaceholder}})
	assert.Error(t, failing.Capture(filepath.Join(dir, "a.jpg")))

	silent := NewCamera(CameraConfig{Command: "true", Args: []string{pathPlaceholder}})
	assert.Error(t, silent.Capture(filepath.Join(dir, "b.jpg")), "exit 0 without an image")
}
