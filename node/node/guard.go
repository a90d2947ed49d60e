package node

import (
	"sync"
	"time"
)

// exclusive hands out a single token covering the camera and the serial
// link. A task holds it from capture until its transfer is finished.
type exclusive struct {
	token chan struct{}
}

func newExclusive() *exclusive {
	e := &exclusive{token: make(chan struct{}, 1)}
	e.token <- struct{}{}
	return e
}

// acquire waits up to wait for the token; wait <= 0 waits forever. The
// returned release func may be called more than once.
func (e *exclusive) acquire(wait time.Duration) (func(), error) {
	if wait <= 0 {
		<-e.token
		return e.releaser(), nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-e.token:
		return e.releaser(), nil
	case <-timer.C:
		return nil, ErrContention
	}
}

func (e *exclusive) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { e.token <- struct{}{} })
	}
}
