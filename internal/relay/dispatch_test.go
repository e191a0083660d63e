package relay

import (
	"context"
	"io"
	"log/slog"
	"testing"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	e, _ := newTestEngine(t)
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewDispatcher(logger, e)
}

func TestDispatchUnknownKind(t *testing.T) {
	d := newTestDispatcher(t)
	conn := &fakeConn{}
	sess := NewSession(conn)

	d.Dispatch(context.Background(), sess, []byte(`{"type":"no_such_event"}`))

	ev, ok := findEvent[ErrorEvent](conn.take())
	if !ok || ev.Code != CodeUnknownEvent {
		t.Fatalf("got %+v, want UNKNOWN_EVENT", ev)
	}
}

func TestDispatchMalformedFrame(t *testing.T) {
	d := newTestDispatcher(t)
	conn := &fakeConn{}
	sess := NewSession(conn)

	for _, frame := range []string{`{not json`, `{"kind":"ping"}`, ``} {
		d.Dispatch(context.Background(), sess, []byte(frame))
		ev, ok := findEvent[ErrorEvent](conn.take())
		if !ok || ev.Code != CodeValidation {
			t.Fatalf("frame %q: got %+v, want VALIDATION_ERROR", frame, ev)
		}
	}
}

func TestDispatchPing(t *testing.T) {
	d := newTestDispatcher(t)
	conn := &fakeConn{}
	sess := NewSession(conn)

	d.Dispatch(context.Background(), sess, []byte(`{"type":"ping"}`))

	if _, ok := findEvent[PongEvent](conn.take()); !ok {
		t.Fatal("ping must answer with pong")
	}
}
