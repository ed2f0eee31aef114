package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.PublishGeocodeProgress("p1", 3, 10)

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: geocode.progress") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"done":3`) || !strings.Contains(s, `"projectId":"p1"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func drain(ch chan []byte) []string {
	time.Sleep(50 * time.Millisecond)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestPublishLayerEventThrottlesRefreshPerProject(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.PublishLayerEvent("created", "p1", "l1")
	b.PublishLayerEvent("renamed", "p1", "l1")
	b.PublishLayerEvent("deleted", "p2", "l9")

	layerCount, refresh := 0, map[string]int{}
	for _, s := range drain(ch) {
		switch {
		case strings.Contains(s, "event: layers.updated"):
			if strings.Contains(s, `"p1"`) {
				refresh["p1"]++
			} else {
				refresh["p2"]++
			}
		case strings.Contains(s, "event: layer."):
			layerCount++
		}
	}

	if layerCount != 3 {
		t.Errorf("layer events = %d, want 3", layerCount)
	}
	if refresh["p1"] != 1 || refresh["p2"] != 1 {
		t.Errorf("refresh events = %v, want one per project", refresh)
	}
}

func TestLayerEventPayload(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.PublishLayerEvent("restyled", "p1", "l7")
	msgs := drain(ch)
	if len(msgs) == 0 {
		t.Fatal("no events")
	}
	want := "id: 1\nevent: layer.restyled\ndata: {\"layerId\":\"l7\",\"projectId\":\"p1\"}\n\n"
	if msgs[0] != want {
		t.Fatalf("message = %q, want %q", msgs[0], want)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishLayerEvent("created", "p1", "l1")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: 3000\n\n") {
		t.Errorf("stream does not open with a retry hint: %q", body)
	}
	if !strings.Contains(body, "event: layer.created") {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	// Client buffer holds 64; the rest must be dropped without blocking.
	for i := 0; i < 70; i++ {
		b.PublishGeocodeProgress("p1", i, 70)
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Publish(Event{Type: "layers.updated", Data: map[string]string{"projectId": "p1"}})
	b.PublishLayerEvent("deleted", "p1", "l1")
	b.PublishGeocodeProgress("p1", 1, 1)
}

func TestSubscribeFiltersByProject(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	p1 := b.Subscribe("p1")
	defer b.Unsubscribe(p1)
	all := b.Subscribe("")
	defer b.Unsubscribe(all)

	b.PublishLayerEvent("created", "p2", "l1")
	b.PublishGeocodeProgress("p2", 1, 2)
	b.PublishLayerEvent("deleted", "p1", "l2")
	b.Publish(Event{Type: "maps.reloaded", Data: map[string]int{"points": 3}})

	got := drain(p1)
	if len(got) != 3 {
		t.Fatalf("p1 stream = %q, want layer.deleted, layers.updated and maps.reloaded", got)
	}
	for _, s := range got {
		if strings.Contains(s, `"p2"`) {
			t.Errorf("p1 stream received %q", s)
		}
	}
	if n := len(drain(all)); n != 6 {
		t.Errorf("unfiltered stream got %d events, want 6", n)
	}
}

func TestEventIDsIncrease(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.PublishGeocodeProgress("p1", 1, 2)
	b.PublishGeocodeProgress("p1", 2, 2)
	msgs := drain(ch)
	if len(msgs) != 2 || !strings.HasPrefix(msgs[0], "id: 1\n") || !strings.HasPrefix(msgs[1], "id: 2\n") {
		t.Fatalf("messages = %q", msgs)
	}
}

func TestSSEHandlerHeartbeat(t *testing.T) {
	b := NewBroker(time.Second, WithHeartbeat(20*time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events?projectId=p1", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if !strings.Contains(w.Body.String(), ": keep-alive\n\n") {
		t.Fatalf("no heartbeat in %q", w.Body.String())
	}
}
