package station

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func seededStation(t *testing.T) *Station {
	s := newStation([]string{"*"}, testLogger())
	path := filepath.Join(t.TempDir(), "a.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xd8, 0xff, 0xd9}, 0o644))

	db := <-s.dbLock
	require.NoError(t, db.insert(testRecord("a.jpg", 90), true, time.Now()))
	require.NoError(t, db.attachImage("a.jpg", imageInfo{Path: path, Size: 4, Frames: 1}))
	require.NoError(t, db.insert(testRecord("b.jpg", 10), false, time.Now()))
	s.dbUnlock <- db
	return s
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func TestCaptureListHandler(t *testing.T) {
	w := get(t, seededStation(t).routes(), "/captures")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var summaries []captureSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, "a.jpg", summaries[0].Filename)
	assert.NotNil(t, summaries[0].Image)
	assert.Nil(t, summaries[1].Image)
}

func TestCaptureQueryHandler(t *testing.T) {
	routes := seededStation(t).routes()

	w := get(t, routes, "/captures/b.jpg")
	require.Equal(t, http.StatusOK, w.Code)
	var entry captureEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, "b.jpg", entry.Record.Filename)
	assert.Equal(t, 12, entry.Record.Hist.Luminance().Sum())

	assert.Equal(t, http.StatusNotFound, get(t, routes, "/captures/zzz.jpg").Code)
}

func TestImageHandler(t *testing.T) {
	routes := seededStation(t).routes()

	w := get(t, routes, "/images/a.jpg")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff, 0xd9}, w.Body.Bytes())
	assert.Empty(t, w.Header().Get("X-Capture-Corrupt"))

	assert.Equal(t, http.StatusNotFound, get(t, routes, "/images/b.jpg").Code, "not requested")
	assert.Equal(t, http.StatusNotFound, get(t, routes, "/images/zzz.jpg").Code)
}

func TestCaptureStreamHandler(t *testing.T) {
	s := newStation([]string{"*"}, testLogger())
	server := httptest.NewServer(s.routes())
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(server.URL, "http")+"/captures/stream", nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	// Wait for the handler to register before publishing.
	require.Eventually(t, func() bool {
		db := <-s.dbLock
		defer func() { s.dbUnlock <- db }()
		return len(db.(*captureDatabase).listeners) == 1
	}, 2*time.Second, 5*time.Millisecond)

	db := <-s.dbLock
	require.NoError(t, db.insert(testRecord("live.jpg", 70), true, time.Now()))
	require.NoError(t, db.attachImage("live.jpg", imageInfo{Size: 9, Frames: 1}))
	s.dbUnlock <- db

	var ev captureEvent
	require.NoError(t, wsjson.Read(ctx, c, &ev))
	assert.Equal(t, eventMetadata, ev.Kind)
	assert.Equal(t, "live.jpg", ev.Capture.Filename)
	require.NoError(t, wsjson.Read(ctx, c, &ev))
	assert.Equal(t, eventImage, ev.Kind)
	assert.Equal(t, 9, ev.Capture.Image.Size)

	c.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool {
		db := <-s.dbLock
		defer func() { s.dbUnlock <- db }()
		return len(db.(*captureDatabase).listeners) == 0
	}, 2*time.Second, 5*time.Millisecond, "listener removed after disconnect")
}

func TestStreamRejectsPlainRequest(t *testing.T) {
	w := get(t, newStation(nil, testLogger()).routes(), "/captures/stream")
	assert.NotEqual(t, http.StatusOK, w.Code)
}
