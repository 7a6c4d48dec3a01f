package websocket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/reactfasttraining/course_booking/services"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeConn struct {
	mu      sync.Mutex
	written []any
	fail    bool
	closed  bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.written = append(c.written, v)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) snapshot() ([]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.written...), c.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub(t *testing.T) {
	t.Run("Given subscribers on two sessions When availability changes Then only the matching session is told", func(t *testing.T) {
		log, _ := test.NewNullLogger()
		hub := NewHub(log)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go hub.Run(ctx)

		watched, other := uuid.New(), uuid.New()
		a, b := &fakeConn{}, &fakeConn{}
		hub.Register(&Client{SessionID: watched, Conn: a})
		hub.Register(&Client{SessionID: other, Conn: b})

		hub.PublishAvailability(services.Availability{SessionID: watched, Capacity: 5, Reserved: 5})

		waitFor(t, func() bool { w, _ := a.snapshot(); return len(w) == 1 })
		got, _ := a.snapshot()
		if av, ok := got[0].(services.Availability); !ok || av.Reserved != 5 {
			t.Errorf("unexpected message %#v", got[0])
		}
		if w, _ := b.snapshot(); len(w) != 0 {
			t.Errorf("expected the other session to hear nothing, got %v", w)
		}
	})

	t.Run("Given a broken connection When broadcasting Then it is closed and dropped", func(t *testing.T) {
		log, _ := test.NewNullLogger()
		hub := NewHub(log)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go hub.Run(ctx)

		session := uuid.New()
		broken := &fakeConn{fail: true}
		hub.Register(&Client{SessionID: session, Conn: broken})
		hub.PublishAvailability(services.Availability{SessionID: session})

		waitFor(t, func() bool { _, closed := broken.snapshot(); return closed })
	})

	t.Run("Given a stopped hub When publishing Then the caller is not blocked", func(t *testing.T) {
		log, _ := test.NewNullLogger()
		hub := NewHub(log)

		done := make(chan struct{})
		go func() {
			for i := 0; i < 1000; i++ {
				hub.PublishAvailability(services.Availability{SessionID: uuid.New()})
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("PublishAvailability blocked")
		}
	})
}
