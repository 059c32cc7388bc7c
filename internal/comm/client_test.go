package comm

import (
	"context"
	"testing"
	"time"
)

func TestClientReconnectsAfterServerRestart(t *testing.T) {
	_, ts, _ := newTestServer(t)

	client := NewClient(wsURL(ts.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client.Start(ctx)
	defer client.Close()
	waitConnected(t, client)

	ts.CloseClientConnections()

	deadline := time.Now().Add(3 * time.Second)
	sawDisconnected := false
	for time.Now().Before(deadline) {
		if client.State() == clientDisconnected || client.State() == clientConnecting {
			sawDisconnected = true
		}
		if sawDisconnected && client.State() == clientConnected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("client never reconnected after the connection was dropped")
}

func TestClientCallFailsWhenNeverConnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/unreachable")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	client.Start(ctx)
	defer client.Close()

	if _, err := client.GetPaths(ctx); err == nil {
		t.Fatal("expected an error calling through a client that never connected")
	}
}
