//go:build !no_mqtt

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"scriptroom/internal/transport"
)

// broker routes publishes between bridges in-process, keeping retained
// payloads like a real broker would.
type broker struct {
	mu       sync.Mutex
	bridges  []*Bridge
	retained map[string][]byte
	log      []string
}

func newBroker() *broker {
	return &broker{retained: make(map[string][]byte)}
}

func (br *broker) connect(t *testing.T, id string) *Bridge {
	t.Helper()
	b := newBridge(id, Config{TopicPrefix: "test", Room: "r1", SyncTimeout: 20 * time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	b.publish = br.publish

	br.mu.Lock()
	br.bridges = append(br.bridges, b)
	retained := make(map[string][]byte, len(br.retained))
	for k, v := range br.retained {
		retained[k] = v
	}
	br.mu.Unlock()

	for topic, payload := range retained {
		b.route(topic, payload)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func (br *broker) publish(_ context.Context, topic string, payload []byte, retained bool) error {
	br.mu.Lock()
	if retained {
		br.retained[topic] = payload
	}
	br.log = append(br.log, topic)
	bridges := append([]*Bridge(nil), br.bridges...)
	br.mu.Unlock()

	for _, b := range bridges {
		b.route(topic, payload)
	}
	return nil
}

func (br *broker) published() []string {
	br.mu.Lock()
	defer br.mu.Unlock()
	return append([]string(nil), br.log...)
}

func TestTopics(t *testing.T) {
	tp := newTopics("/scriptroom/", "table")
	tests := []struct {
		got, want string
	}{
		{tp.metadata(), "scriptroom/table/metadata"},
		{tp.messages(), "scriptroom/table/messages/#"},
		{tp.message("scriptroom/message"), "scriptroom/table/messages/scriptroom/message"},
		{tp.presence("p1"), "scriptroom/table/presence/p1"},
		{newTopics("", "x").metadata(), "scriptroom/x/metadata"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("topic = %q, want %q", tt.got, tt.want)
		}
	}

	if ch, ok := tp.channel("scriptroom/table/messages/a/b"); !ok || ch != "a/b" {
		t.Errorf("channel = %q, %v", ch, ok)
	}
	if _, ok := tp.channel("scriptroom/other/messages/a"); ok {
		t.Error("foreign room topic accepted")
	}
	if _, ok := tp.channel("scriptroom/table/messages/"); ok {
		t.Error("empty channel accepted")
	}
}

func TestSendDestinations(t *testing.T) {
	tests := []struct {
		dest      transport.Destination
		wantSelf  bool
		wantOther bool
		wantWire  bool
	}{
		{transport.DestinationLocal, true, false, false},
		{transport.DestinationRemote, false, true, true},
		{transport.DestinationAll, true, true, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.dest), func(t *testing.T) {
			br := newBroker()
			a := br.connect(t, "a")
			b := br.connect(t, "b")

			var gotA, gotB []transport.Message
			a.Subscribe("room/ping", func(m transport.Message) { gotA = append(gotA, m) })
			b.Subscribe("room/ping", func(m transport.Message) { gotB = append(gotB, m) })

			if err := a.Send(context.Background(), "room/ping", map[string]int{"n": 1}, tt.dest); err != nil {
				t.Fatal(err)
			}
			if (len(gotA) == 1) != tt.wantSelf || (len(gotB) == 1) != tt.wantOther {
				t.Errorf("self=%d other=%d, want %v %v", len(gotA), len(gotB), tt.wantSelf, tt.wantOther)
			}
			if wire := len(br.published()) > 0; wire != tt.wantWire {
				t.Errorf("published = %v, want %v", wire, tt.wantWire)
			}
			for _, m := range append(gotA, gotB...) {
				var body map[string]int
				if m.From != "a" || m.Channel != "room/ping" || json.Unmarshal(m.Payload, &body) != nil || body["n"] != 1 {
					t.Errorf("message = %+v", m)
				}
			}
		})
	}
}

func TestMetadataRetainedAndNotified(t *testing.T) {
	br := newBroker()
	a := br.connect(t, "a")
	ctx := context.Background()

	doc, err := a.GetMetadata(ctx)
	if err != nil || doc != nil {
		t.Fatalf("empty room doc = %s, %v", doc, err)
	}

	var seen []string
	unsub := a.OnMetadataChange(func(doc []byte) { seen = append(seen, string(doc)) })
	if err := a.SetMetadata(ctx, []byte(`{"scripts":[]}`)); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != `{"scripts":[]}` {
		t.Errorf("seen = %q", seen)
	}
	unsub()

	late := br.connect(t, "late")
	doc, err = late.GetMetadata(ctx)
	if err != nil || string(doc) != `{"scripts":[]}` {
		t.Errorf("late joiner doc = %s, %v", doc, err)
	}
}

func TestGetMetadataHonorsContext(t *testing.T) {
	b := newBridge("a", Config{Room: "r", SyncTimeout: time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { b.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.GetMetadata(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestQueuedMetadataAppliesInArrivalOrder(t *testing.T) {
	const n = 200
	b := newBridge("a", Config{Room: "r", SyncTimeout: time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { b.Close() })

	seen := make(chan string, n)
	b.OnMetadataChange(func(doc []byte) { seen <- string(doc) })

	docs := make([]string, n)
	for i := range docs {
		docs[i] = fmt.Sprintf(`{"version":%d}`, i)
		b.enqueue(b.topics.metadata(), []byte(docs[i]))
	}

	for i, want := range docs {
		select {
		case got := <-seen:
			if got != want {
				t.Fatalf("update %d = %s, want %s", i, got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for update %d", i)
		}
	}
	doc, err := b.GetMetadata(context.Background())
	if err != nil || string(doc) != docs[n-1] {
		t.Errorf("GetMetadata = %s, %v, want %s", doc, err, docs[n-1])
	}
}

func TestEnqueueCopiesPayload(t *testing.T) {
	b := newBridge("a", Config{Room: "r", SyncTimeout: time.Second}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { b.Close() })

	seen := make(chan string, 1)
	b.OnMetadataChange(func(doc []byte) { seen <- string(doc) })

	buf := []byte(`{"v":1}`)
	b.enqueue(b.topics.metadata(), buf)
	copy(buf, `{"v":2}`)

	select {
	case got := <-seen:
		if got != `{"v":1}` {
			t.Errorf("doc = %s, want {\"v\":1}", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for metadata")
	}
}

func TestInvalidEnvelopeIgnored(t *testing.T) {
	br := newBroker()
	a := br.connect(t, "a")
	called := false
	a.Subscribe("ch", func(transport.Message) { called = true })
	a.route(a.topics.message("ch"), []byte("not json"))
	if called {
		t.Error("handler called for invalid envelope")
	}
}

func TestSendValidation(t *testing.T) {
	br := newBroker()
	a := br.connect(t, "a")
	ctx := context.Background()

	if err := a.Send(ctx, "bad/+", 1, transport.DestinationAll); err == nil {
		t.Error("wildcard channel accepted")
	}
	if err := a.Send(ctx, "ch", 1, "SIDEWAYS"); err == nil {
		t.Error("invalid destination accepted")
	}
	a.Close()
	if err := a.Send(ctx, "ch", 1, transport.DestinationAll); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("closed err = %v, want ErrClosed", err)
	}
	if err := a.SetMetadata(ctx, nil); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("closed metadata err = %v, want ErrClosed", err)
	}
}
