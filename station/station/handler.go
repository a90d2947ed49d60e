package station

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func (s *Station) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /captures", s.captureListHandler)
	mux.HandleFunc("GET /captures/stream", s.captureStreamHandler)
	mux.HandleFunc("GET /captures/{fname}", s.captureQueryHandler)
	mux.HandleFunc("GET /images/{fname}", s.imageHandler)
	return mux
}

func (s *Station) captureListHandler(w http.ResponseWriter, r *http.Request) {
	db := <-s.dbLock
	summaries := db.list()
	s.dbUnlock <- db
	s.writeJSON(w, summaries)
}

func (s *Station) captureQueryHandler(w http.ResponseWriter, r *http.Request) {
	db := <-s.dbLock
	entry, err := db.get(r.PathValue("fname"))
	s.dbUnlock <- db
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, entry)
}

func (s *Station) imageHandler(w http.ResponseWriter, r *http.Request) {
	db := <-s.dbLock
	entry, err := db.get(r.PathValue("fname"))
	s.dbUnlock <- db
	if err != nil || entry.Image == nil {
		http.NotFound(w, r)
		return
	}
	if entry.Image.Corrupt {
		w.Header().Set("X-Capture-Corrupt", "true")
	}
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, entry.Image.Path)
}

func (s *Station) writeJSON(w http.ResponseWriter, v interface{}) {
	output, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encoding response", "err", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.Header().Add("Access-Control-Allow-Origin", "*")
	w.Write(output)
}

// captureStreamHandler pushes a JSON event per indexed capture and per
// reassembled image until the client goes away.
func (s *Station) captureStreamHandler(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}
	s.logger.Info("Accepted websocket request", "remote", r.RemoteAddr)
	defer s.logger.Info("Closing websocket connection", "remote", r.RemoteAddr)
	defer c.Close(websocket.StatusNormalClosure, "Handler exits")

	subscriber := getSubscriberID(r.RemoteAddr)
	db := <-s.dbLock
	notifier := db.(captureNotifier)
	events, err := notifier.notify(subscriber)
	s.dbUnlock <- db
	if err != nil {
		s.logger.Debug("subscribe failed", "err", err)
		c.Close(websocket.StatusPolicyViolation, "Already subscribed")
		return
	}
	defer func() {
		db := <-s.dbLock
		if err := db.(captureNotifier).unNotify(subscriber); err != nil {
			s.logger.Debug("unsubscribe failed", "err", err)
		}
		s.dbUnlock <- db
	}()

	ctx := c.CloseRead(r.Context())
	for {
		select {
		case ev := <-events:
			if err := writeEvent(ctx, c, ev); err != nil {
				s.logger.Debug("websocket write failed", "remote", r.RemoteAddr, "err", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func getSubscriberID(data string) string {
	h := sha1.Sum([]byte(data))
	return hex.EncodeToString(h[:])
}

func writeEvent(ctx context.Context, c *websocket.Conn, ev captureEvent) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return wsjson.Write(ctx, c, ev)
}
