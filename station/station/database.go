package station

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/derktes/spectral-capture-node/wire"
)

// listenerBuffer is how many events a slow subscriber may fall behind
// before events to it are dropped.
const listenerBuffer = 16

type captureListener struct {
	subscriber string
	events     chan captureEvent
}

// captureDatabase indexes received captures by filename. It is not safe
// for concurrent use; callers hold the token from dbLock.
type captureDatabase struct {
	store     map[string]*captureEntry
	order     []string
	listeners []captureListener
	logger    *log.Logger
}

type captureCRUD interface {
	insert(rec wire.CaptureRecord, requested bool, at time.Time) error
	attachImage(fname string, image imageInfo) error
	list() []captureSummary
	get(fname string) (captureEntry, error)
}

type captureNotifier interface {
	notify(subscriber string) (<-chan captureEvent, error)
	unNotify(subscriber string) error
}

func newDatabase(logger *log.Logger) *captureDatabase {
	return &captureDatabase{store: make(map[string]*captureEntry), logger: logger}
}

func (db *captureDatabase) notify(subscriber string) (<-chan captureEvent, error) {
	for _, l := range db.listeners {
		if l.subscriber == subscriber {
			return nil, fmt.Errorf("subscriber '%s' already registered", subscriber)
		}
	}
	l := captureListener{subscriber, make(chan captureEvent, listenerBuffer)}
	db.listeners = append(db.listeners, l)
	return l.events, nil
}

func (db *captureDatabase) unNotify(subscriber string) error {
	for i, l := range db.listeners {
		if l.subscriber == subscriber {
			db.listeners = append(db.listeners[:i], db.listeners[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("subscriber '%s' cannot be found", subscriber)
}

// publish never blocks the receiver on a slow websocket.
func (db *captureDatabase) publish(ev captureEvent) {
	for _, l := range db.listeners {
		select {
		case l.events <- ev:
		default:
			db.logger.Warn("dropping event for slow subscriber", "subscriber", l.subscriber, "kind", ev.Kind)
		}
	}
}

func (db *captureDatabase) insert(rec wire.CaptureRecord, requested bool, at time.Time) error {
	if rec.Filename == "" {
		return fmt.Errorf("capture record has no filename")
	}
	entry, ok := db.store[rec.Filename]
	if ok {
		db.logger.Warn("capture resent, replacing entry", "fname", rec.Filename)
	} else {
		entry = &captureEntry{}
		db.store[rec.Filename] = entry
		db.order = append(db.order, rec.Filename)
	}
	*entry = captureEntry{Record: rec, ReceivedAt: at, Requested: requested}
	db.logger.Debug("capture indexed", "fname", rec.Filename, "total", len(db.order))
	db.publish(captureEvent{Kind: eventMetadata, Capture: entry.summary()})
	return nil
}

func (db *captureDatabase) attachImage(fname string, image imageInfo) error {
	entry, ok := db.store[fname]
	if !ok {
		return fmt.Errorf("capture '%s' cannot be found", fname)
	}
	entry.Image = &image
	db.publish(captureEvent{Kind: eventImage, Capture: entry.summary()})
	return nil
}

// list returns summaries in arrival order.
func (db *captureDatabase) list() []captureSummary {
	summaries := make([]captureSummary, 0, len(db.order))
	for _, fname := range db.order {
		summaries = append(summaries, db.store[fname].summary())
	}
	return summaries
}

func (db *captureDatabase) get(fname string) (captureEntry, error) {
	entry, ok := db.store[fname]
	if !ok {
		return captureEntry{}, fmt.Errorf("capture '%s' cannot be found", fname)
	}
	return *entry, nil
}
