package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func drain(ch chan []byte) []string {
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

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients = %d, want 0", n)
	}
	ch := b.Subscribe()
	if n := b.ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}
	b.Unsubscribe(ch)
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients after unsubscribe = %d, want 0", n)
	}
}

func TestPublish_FormatsWithSequence(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: TypeNoteCreated, Data: map[string]string{"path": "a.md"}})
	b.Publish(Event{Type: TypeNoteDeleted, Data: map[string]string{"path": "b.md"}})

	for i, want := range []string{"id: 1\nevent: note.created\ndata: {\"path\":\"a.md\"}\n\n", "id: 2\nevent: note.deleted"} {
		select {
		case msg := <-ch:
			if !strings.HasPrefix(string(msg), want) {
				t.Errorf("message %d = %q, want prefix %q", i, msg, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	}
}

func TestPublishNoteEvent_StaleThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishNoteEvent("created", "a.md")
	b.PublishNoteEvent("updated", "b.md")
	b.PublishNoteEvent("renamed", "c.md")
	time.Sleep(50 * time.Millisecond)

	stale, notes := 0, 0
	for _, msg := range drain(ch) {
		if strings.Contains(msg, "event: "+TypeSuggestionsStale) {
			stale++
		} else {
			notes++
		}
	}
	if notes != 2 {
		t.Errorf("note events = %d, want 2", notes)
	}
	if stale != 1 {
		t.Errorf("stale events = %d, want 1", stale)
	}
}

func TestPublishScan(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishScan(false, map[string]int{"processed": 1})
	b.PublishScan(true, map[string]int{"processed": 2})
	time.Sleep(50 * time.Millisecond)

	msgs := drain(ch)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if !strings.Contains(msgs[0], "event: scan.progress") || !strings.Contains(msgs[1], "event: scan.completed") {
		t.Errorf("messages = %q", msgs)
	}
}

func TestKeepalive(t *testing.T) {
	b := NewBroker(time.Second, WithKeepalive(20*time.Millisecond))
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	select {
	case msg := <-ch:
		if string(msg) != ": keepalive\n\n" {
			t.Errorf("message = %q, want keepalive comment", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for keepalive")
	}
}

func TestServeHTTP(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if n := b.ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}

	b.PublishNoteEvent("updated", "x.md")
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: note.updated") || !strings.Contains(body, "event: suggestions.stale") {
		t.Errorf("body = %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if n := b.ClientCount(); n != 0 {
		t.Errorf("clients after disconnect = %d, want 0", n)
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: TypeScanProgress, Data: i})
	}
	time.Sleep(50 * time.Millisecond)
	if n := len(drain(ch)); n != 64 {
		t.Errorf("buffered = %d, want 64", n)
	}
}

func TestClose(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("subscriber channel should be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients after close = %d, want 0", n)
	}

	b.Publish(Event{Type: TypeNoteUpdated})
	b.PublishNoteEvent("updated", "x.md")
	b.Close()
	if ch := b.Subscribe(); ch == nil {
		t.Fatal("Subscribe after close returned nil")
	}
}

func TestPublishNoteEvent_StaleBatchedAfterWindow(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishNoteEvent("updated", "a.md")
	b.PublishNoteEvent("updated", "c.md")
	b.PublishNoteEvent("deleted", "b.md")
	b.PublishNoteEvent("updated", "c.md")
	time.Sleep(300 * time.Millisecond)

	var stale []string
	for _, msg := range drain(ch) {
		if strings.Contains(msg, "event: "+TypeSuggestionsStale) {
			stale = append(stale, msg)
		}
	}
	if len(stale) != 2 {
		t.Fatalf("stale events = %d, want 2: %q", len(stale), stale)
	}
	if !strings.Contains(stale[0], `{"paths":["a.md"]}`) {
		t.Errorf("first stale = %q", stale[0])
	}
	if !strings.Contains(stale[1], `{"paths":["b.md","c.md"]}`) {
		t.Errorf("batched stale = %q", stale[1])
	}
}

func TestSubscribeAfter_Replays(t *testing.T) {
	b := NewBroker(time.Second, WithReplay(2))
	defer b.Close()

	for i := 1; i <= 3; i++ {
		b.Publish(Event{Type: TypeScanProgress, Data: i})
	}
	// Publish is asynchronous; a counted round trip orders after it.
	b.ClientCount()

	ch := b.SubscribeAfter(1)
	defer b.Unsubscribe(ch)
	msgs := drain(ch)
	if len(msgs) != 2 || !strings.HasPrefix(msgs[0], "id: 2\n") || !strings.HasPrefix(msgs[1], "id: 3\n") {
		t.Errorf("replayed = %q, want ids 2 and 3", msgs)
	}

	fresh := b.Subscribe()
	defer b.Unsubscribe(fresh)
	if msgs := drain(fresh); len(msgs) != 0 {
		t.Errorf("plain subscribe replayed %q", msgs)
	}
}

func TestServeHTTP_LastEventID(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	b.Publish(Event{Type: TypeScanProgress, Data: 1})
	b.Publish(Event{Type: TypeScanCompleted, Data: 2})
	b.ClientCount()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if strings.Contains(body, "id: 1\n") || !strings.Contains(body, "id: 2\nevent: scan.completed") {
		t.Errorf("body = %q, want only event 2", body)
	}
}
