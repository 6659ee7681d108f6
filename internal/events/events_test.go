package events

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()
	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

func TestNATSPublisher_PublishSubscribe(t *testing.T) {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	pub := NewNATSPublisher(nc, "tm.", nil)

	got := make(chan Event, 4)
	sub, err := pub.Subscribe("s1", func(e Event) { got <- e })
	require.NoError(t, err)
	defer func() { _ = sub.Unsubscribe() }()
	require.NoError(t, nc.Flush())

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Publish(context.Background(), Event{SessionID: "s2", Action: "execute_next", At: at}))
	require.NoError(t, pub.Publish(context.Background(), Event{
		SessionID: "s1", Action: "validate_task", Status: "passed", TaskID: "t1", Phase: "validation", Version: 4, At: at,
	}))
	require.NoError(t, pub.Flush())

	select {
	case e := <-got:
		assert.Equal(t, Event{SessionID: "s1", Action: "validate_task", Status: "passed", TaskID: "t1", Phase: "validation", Version: 4, At: at}, e)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
	select {
	case e := <-got:
		t.Fatalf("unexpected event for other session: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNATSPublisher_Subject(t *testing.T) {
	pub := NewNATSPublisher(nil, "", nil)
	assert.Equal(t, "taskmaster.session.abc.end_session", pub.Subject(Event{SessionID: "abc", Action: "end_session"}))
}

func TestConnect_OwnsConnection(t *testing.T) {
	server := startTestNATSServer(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pub, err := Connect(server.ClientURL(), "", nil)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), Event{SessionID: "s", Action: "get_status"}))
	require.NoError(t, pub.Close())

	require.Eventually(t, func() bool { return pub.nc.IsClosed() }, 5*time.Second, 10*time.Millisecond)
}

func TestNoop(t *testing.T) {
	var p Publisher = Noop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}
