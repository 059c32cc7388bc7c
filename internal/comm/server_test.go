package comm

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fieldcycler/runtime/internal/outputs"
	"github.com/fieldcycler/runtime/internal/paramtree"
	"github.com/fieldcycler/runtime/internal/ratelimit"
	"github.com/fieldcycler/runtime/internal/valuetree"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, *outputs.Router) {
	t.Helper()
	params := paramtree.NewTree(1)
	srv := NewServer(params, nil)
	router := outputs.NewRouter(srv.DispatchUpdate)
	srv.BindRouter(router)

	router.RegisterCycler("Control", []string{"ball_position"}, func() (valuetree.Value, bool) {
		return valuetree.Object(map[string]valuetree.Value{"ball_position": valuetree.Number(1)}), true
	})

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts, router
}

func wsURL(httpURL string) string { return "ws" + strings.TrimPrefix(httpURL, "http") }

func TestServerGetPathsReturnsRegisteredFields(t *testing.T) {
	_, ts, _ := newTestServer(t)
	client := NewClient(wsURL(ts.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client.Start(ctx)
	defer client.Close()

	waitConnected(t, client)

	paths, err := client.GetPaths(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || paths[0] != "Control.ball_position" {
		t.Fatalf("unexpected paths: %v", paths)
	}
}

func TestServerReadReturnsOutputsValue(t *testing.T) {
	_, ts, _ := newTestServer(t)
	client := NewClient(wsURL(ts.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client.Start(ctx)
	defer client.Close()
	waitConnected(t, client)

	resp, err := client.Read(ctx, "Control.ball_position", FormatText)
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := resp.Value.Number(); !ok || n != 1 {
		t.Fatalf("unexpected value: %+v", resp.Value)
	}
}

func TestServerWriteMergesIntoParameterTree(t *testing.T) {
	srv, ts, _ := newTestServer(t)
	client := NewClient(wsURL(ts.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client.Start(ctx)
	defer client.Close()
	waitConnected(t, client)

	if err := client.Write(ctx, "/control/kp", valuetree.Number(5)); err != nil {
		t.Fatal(err)
	}

	v, ok := valuetree.ParsePath("/control/kp").Resolve(srv.params.Read(), "")
	if !ok {
		t.Fatal("expected the write to be visible in the parameter tree")
	}
	if n, _ := v.Number(); n != 5 {
		t.Fatalf("expected 5, got %v", n)
	}
}

func TestServerSubscribeThenNotifyPublishDeliversUpdate(t *testing.T) {
	_, ts, router := newTestServer(t)
	client := NewClient(wsURL(ts.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client.Start(ctx)
	defer client.Close()
	waitConnected(t, client)

	if _, err := client.Subscribe(ctx, "Control.ball_position", FormatText); err != nil {
		t.Fatal(err)
	}

	router.NotifyPublish("Control", time.Now(), valuetree.Object(map[string]valuetree.Value{
		"ball_position": valuetree.Number(2),
	}))

	select {
	case u := <-client.Updates():
		if n, _ := u.Value.Number(); n != 2 {
			t.Fatalf("expected update value 2, got %v", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription update")
	}
}

func TestServerRejectsRequestsOverAStarvedClientBudget(t *testing.T) {
	srv, ts, _ := newTestServer(t)
	limiter := ratelimit.New(ratelimit.Config{Enabled: true, RefillPerSecond: 1, Burst: 1})
	t.Cleanup(func() { _ = limiter.Close() })
	srv.SetLimiter(limiter)

	client := NewClient(wsURL(ts.URL))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client.Start(ctx)
	defer client.Close()
	waitConnected(t, client)

	if _, err := client.GetPaths(ctx); err != nil {
		t.Fatalf("expected the first request within budget to succeed: %v", err)
	}

	fastCtx, fastCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer fastCancel()
	if _, err := client.GetPaths(fastCtx); err == nil {
		t.Fatal("expected a second request within the same burst window to be throttled past a short deadline")
	}
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == clientConnected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("client never reached Connected")
}
