package stream_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencli/opencli/internal/auth"
	"github.com/opencli/opencli/internal/clock"
	"github.com/opencli/opencli/internal/stream"
	"github.com/opencli/opencli/internal/stream/streamtest"
)

const testSecret = "s3cret"

var epoch = time.UnixMilli(1_700_000_000_123)

type harness struct {
	srv     *streamtest.Server
	clock   *clock.FakeClock
	session *stream.Session
	cancel  context.CancelFunc
	done    chan error
}

func start(t *testing.T, srv *streamtest.Server, secret string, mutate ...func(*stream.Options)) *harness {
	t.Helper()
	fc := clock.Fake(epoch)
	opts := stream.Options{
		URL:        srv.URL,
		Signer:     auth.Signer{DeviceID: "dev-1", Secret: secret},
		DeviceName: "laptop",
		Platform:   "linux/amd64",
		Clock:      fc,
	}
	for _, m := range mutate {
		m(&opts)
	}
	s := stream.NewSession(opts)
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{srv: srv, clock: fc, session: s, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		for range s.Events() {
		}
		<-h.done
		srv.Close()
	})
	return h
}

func (h *harness) await(t *testing.T, kind stream.EventKind) stream.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-h.session.Events():
			require.True(t, ok, "events closed while waiting for %v", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", kind)
		}
	}
}

func (h *harness) awaitState(t *testing.T, st stream.State) {
	t.Helper()
	for {
		ev := h.await(t, stream.EventStateChanged)
		if ev.State == st {
			return
		}
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func receiveType(t *testing.T, srv *streamtest.Server, typ stream.MessageType) stream.Envelope {
	t.Helper()
	for {
		msg := receive(t, srv.Received())
		if msg.Type == typ {
			return msg
		}
	}
}

func TestSessionAuthenticates(t *testing.T) {
	srv := streamtest.NewServer(testSecret)
	h := start(t, srv, testSecret)

	h.awaitState(t, stream.StateAuthenticated)
	assert.Equal(t, stream.StateAuthenticated, h.session.State())
	assert.EqualValues(t, 1, srv.AuthAttempts())
}

func TestSessionFallsBackToBucketedTimestamp(t *testing.T) {
	srv := streamtest.NewServer(testSecret, streamtest.WithBucketWindow(auth.DefaultBucket))
	h := start(t, srv, testSecret)

	h.awaitState(t, stream.StateAuthenticated)
	assert.EqualValues(t, 2, srv.AuthAttempts())
}

func TestSessionPinnedWindowSkipsAlternate(t *testing.T) {
	srv := streamtest.NewServer(testSecret)
	h := start(t, srv, "wrong", func(o *stream.Options) { o.Signer.Window = auth.DefaultBucket })

	ev := h.await(t, stream.EventAuthFailed)
	var authErr *stream.AuthError
	require.ErrorAs(t, ev.Err, &authErr)
	assert.EqualValues(t, 1, srv.AuthAttempts())
}

func TestSessionPinnedWindowAuthenticates(t *testing.T) {
	srv := streamtest.NewServer(testSecret, streamtest.WithBucketWindow(auth.DefaultBucket))
	h := start(t, srv, testSecret, func(o *stream.Options) { o.Signer.Window = auth.DefaultBucket })

	h.awaitState(t, stream.StateAuthenticated)
	assert.EqualValues(t, 1, srv.AuthAttempts())
}

func TestSessionAuthFailureReconnectsAfterDelay(t *testing.T) {
	srv := streamtest.NewServer(testSecret)
	h := start(t, srv, "wrong")

	ev := h.await(t, stream.EventAuthFailed)
	var authErr *stream.AuthError
	require.ErrorAs(t, ev.Err, &authErr)
	assert.Equal(t, "dev-1", authErr.DeviceID)
	assert.EqualValues(t, 2, srv.AuthAttempts())

	h.clock.WaitForWaiters(1)
	h.clock.Advance(stream.DefaultReconnectDelay)

	h.await(t, stream.EventAuthFailed)
	assert.EqualValues(t, 4, srv.AuthAttempts())
}

func TestSubmitRequiresAuthentication(t *testing.T) {
	s := stream.NewSession(stream.Options{URL: "ws://127.0.0.1:1", Signer: auth.Signer{DeviceID: "d"}})
	_, err := s.Submit("echo", nil)
	assert.ErrorIs(t, err, stream.ErrNotAuthenticated)
	assert.ErrorIs(t, s.Cancel("srv-1"), stream.ErrNotAuthenticated)
}

type rejectAll struct{}

func (rejectAll) Validate(string, map[string]any) error { return errors.New("bad data") }

func TestSubmitRunsValidator(t *testing.T) {
	srv := streamtest.NewServer(testSecret)
	h := start(t, srv, testSecret, func(o *stream.Options) { o.Validator = rejectAll{} })
	h.awaitState(t, stream.StateAuthenticated)

	_, err := h.session.Submit("echo", map[string]any{"x": 1})
	assert.EqualError(t, err, "bad data")
}

func TestSubmitSendsTaskAndCorrelatesAck(t *testing.T) {
	srv := streamtest.NewServer(testSecret)
	h := start(t, srv, testSecret)
	h.awaitState(t, stream.StateAuthenticated)
	conn := receive(t, srv.Conns())

	sub, err := h.session.Submit("shell", map[string]any{"cmd": "ls"}, stream.WithPriority(3))
	require.NoError(t, err)
	assert.Len(t, sub.ClientTaskID, 26)
	assert.Equal(t, stream.SynthesizeTaskID("dev-1", epoch), sub.SynthesizedID)

	msg := receiveType(t, srv, stream.MsgSubmitTask)
	assert.Equal(t, sub.ClientTaskID, msg.ClientTaskID)
	assert.Equal(t, "shell", msg.TaskType)
	assert.Equal(t, "ls", msg.TaskData["cmd"])
	require.NotNil(t, msg.Priority)
	assert.Equal(t, 3, *msg.Priority)

	serverID := conn.Ack(msg, false)
	ev := h.await(t, stream.EventTaskSubmitted)
	assert.True(t, ev.InferredClientID)
	assert.Equal(t, sub.ClientTaskID, ev.Message.ClientTaskID)
	assert.Equal(t, serverID, ev.Message.TaskID)
}

func TestEchoedAckAfterUpdateKeepsClientID(t *testing.T) {
	srv := streamtest.NewServer(testSecret)
	h := start(t, srv, testSecret)
	h.awaitState(t, stream.StateAuthenticated)
	conn := receive(t, srv.Conns())

	first, err := h.session.Submit("render", nil)
	require.NoError(t, err)
	second, err := h.session.Submit("render", nil)
	require.NoError(t, err)
	firstMsg := receiveType(t, srv, stream.MsgSubmitTask)
	secondMsg := receiveType(t, srv, stream.MsgSubmitTask)

	require.NoError(t, conn.Send(stream.Envelope{
		Type: stream.MsgTaskUpdate, ClientTaskID: first.ClientTaskID, TaskID: "srv-A",
		Status: stream.StatusCompleted, Result: map[string]any{"who": "A"},
	}))
	upd := h.await(t, stream.EventTaskUpdate)
	assert.Equal(t, first.ClientTaskID, upd.Message.ClientTaskID)

	require.NoError(t, conn.Send(stream.Envelope{Type: stream.MsgTaskSubmitted, ClientTaskID: firstMsg.ClientTaskID, TaskID: "srv-A"}))
	ack := h.await(t, stream.EventTaskSubmitted)
	assert.False(t, ack.InferredClientID)
	assert.Equal(t, first.ClientTaskID, ack.Message.ClientTaskID)

	secondID := conn.Ack(secondMsg, false)
	ack = h.await(t, stream.EventTaskSubmitted)
	assert.True(t, ack.InferredClientID)
	assert.Equal(t, second.ClientTaskID, ack.Message.ClientTaskID)
	assert.Equal(t, secondID, ack.Message.TaskID)
}

func TestDisconnectReportsOrphans(t *testing.T) {
	srv := streamtest.NewServer(testSecret)
	h := start(t, srv, testSecret)
	h.awaitState(t, stream.StateAuthenticated)
	conn := receive(t, srv.Conns())

	first, err := h.session.Submit("a", nil)
	require.NoError(t, err)
	second, err := h.session.Submit("b", nil)
	require.NoError(t, err)

	firstID := conn.Ack(receiveType(t, srv, stream.MsgSubmitTask), true)
	conn.Ack(receiveType(t, srv, stream.MsgSubmitTask), true)
	require.NoError(t, conn.Update(firstID, stream.StatusCompleted, map[string]any{"ok": true}))

	upd := h.await(t, stream.EventTaskUpdate)
	assert.Equal(t, firstID, upd.Message.TaskID)
	assert.Equal(t, stream.StatusCompleted, upd.Message.Status)

	conn.Drop()
	ev := h.await(t, stream.EventDisconnected)
	require.Len(t, ev.Orphaned, 1)
	assert.Equal(t, second.ClientTaskID, ev.Orphaned[0].ClientTaskID)
	assert.NotEqual(t, first.ClientTaskID, ev.Orphaned[0].ClientTaskID)

	_, err = h.session.Submit("c", nil)
	assert.ErrorIs(t, err, stream.ErrNotAuthenticated)

	h.clock.WaitForWaiters(1)
	h.clock.Advance(stream.DefaultReconnectDelay)
	h.awaitState(t, stream.StateAuthenticated)
}

func TestHeartbeatMissedIsSignalled(t *testing.T) {
	srv := streamtest.NewServer(testSecret)
	srv.SetSilent(true)
	h := start(t, srv, testSecret)
	h.awaitState(t, stream.StateAuthenticated)

	for i := 0; i < 3; i++ {
		h.clock.WaitForWaiters(1)
		h.clock.Advance(stream.DefaultHeartbeatInterval)
		receiveType(t, srv, stream.MsgHeartbeat)
	}

	ev := h.await(t, stream.EventHeartbeatMissed)
	assert.Equal(t, stream.StateAuthenticated, ev.State)
	assert.Equal(t, stream.StateAuthenticated, h.session.State())
}

func TestFlushWritesQueuedMessages(t *testing.T) {
	s := stream.NewSession(stream.Options{URL: "ws://127.0.0.1:1", Signer: auth.Signer{DeviceID: "d"}})
	assert.ErrorIs(t, s.Flush(context.Background()), stream.ErrNotAuthenticated)

	srv := streamtest.NewServer(testSecret)
	h := start(t, srv, testSecret)
	h.awaitState(t, stream.StateAuthenticated)

	sub, err := h.session.Submit("shell", map[string]any{"cmd": "true"})
	require.NoError(t, err)
	require.NoError(t, h.session.Cancel("srv-9"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.session.Flush(ctx))

	assert.Equal(t, sub.ClientTaskID, receiveType(t, srv, stream.MsgSubmitTask).ClientTaskID)
	assert.Equal(t, "srv-9", receiveType(t, srv, stream.MsgCancelTask).TaskID)
}

func TestStatusTerminal(t *testing.T) {
	for status, want := range map[stream.Status]bool{
		stream.StatusSubmitted: false,
		stream.StatusRunning:   false,
		stream.StatusCompleted: true,
		stream.StatusFailed:    true,
		stream.StatusDenied:    true,
		stream.StatusCancelled: true,
	} {
		assert.Equal(t, want, status.Terminal(), "status %q", status)
	}
}

func TestEnvelopeErrorText(t *testing.T) {
	env := &stream.Envelope{Result: map[string]any{"error": "boom"}, Message: "m"}
	assert.Equal(t, "boom", env.ErrorText())
	env.Error = "top"
	assert.Equal(t, "top", env.ErrorText())
	assert.Equal(t, "m", (&stream.Envelope{Message: "m"}).ErrorText())
}
