package ingest

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/hypixel-market-poller/pkg/cache"
	"github.com/Sternrassler/hypixel-market-poller/pkg/detect"
	"github.com/Sternrassler/hypixel-market-poller/pkg/hypixel"
	"github.com/Sternrassler/hypixel-market-poller/pkg/poller"
)

type fakeWriter struct {
	entries []*cache.Entry
	err     error
}

func (w *fakeWriter) Set(_ context.Context, entry *cache.Entry) error {
	if w.err != nil {
		return w.err
	}
	w.entries = append(w.entries, entry)
	return nil
}

func bazaarExecution(marker string, ids ...string) poller.Execution[*hypixel.BazaarResponse] {
	products := make(map[string]hypixel.BazaarProduct, len(ids))
	for _, id := range ids {
		products[id] = hypixel.BazaarProduct{ProductID: id}
	}
	header := http.Header{}
	header.Set("ETag", `"v1"`)
	header.Set("Last-Modified", "Tue, 14 Nov 2023 22:13:20 GMT")

	return poller.Execution[*hypixel.BazaarResponse]{
		Decision:   detect.Compare("1", marker),
		Payload:    &hypixel.BazaarResponse{Success: true, Products: products},
		HasPayload: true,
		FetchedAt:  time.UnixMilli(1700000000500),
		Transport:  poller.Transport{StatusCode: 200, Header: header, Body: []byte(`{}`)},
	}
}

func TestCacheHandler_StoresPayload(t *testing.T) {
	w := &fakeWriter{}
	h := CacheHandler[*hypixel.BazaarResponse]("bazaar", w)

	if err := h(context.Background(), bazaarExecution("1700000000000", "ENCHANTED_DIAMOND")); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(w.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(w.entries))
	}

	e := w.entries[0]
	if e.Source != "bazaar" || e.Marker != "1700000000000" {
		t.Errorf("entry = source %q marker %q", e.Source, e.Marker)
	}
	if e.ID == "" {
		t.Error("entry should carry an id")
	}
	if e.ETag != `"v1"` || e.LastModified == "" {
		t.Errorf("validators = %q / %q", e.ETag, e.LastModified)
	}
	if !e.FetchedAt.Equal(time.UnixMilli(1700000000500)) {
		t.Errorf("FetchedAt = %v", e.FetchedAt)
	}

	var decoded hypixel.BazaarResponse
	if err := json.Unmarshal(e.Data, &decoded); err != nil {
		t.Fatalf("stored data is not JSON: %v", err)
	}
	if _, ok := decoded.Products["ENCHANTED_DIAMOND"]; !ok {
		t.Errorf("stored products = %v", decoded.Products)
	}
}

func TestCacheHandler_SkipsWithoutPayload(t *testing.T) {
	w := &fakeWriter{}
	h := CacheHandler[*hypixel.BazaarResponse]("bazaar", w)

	exec := bazaarExecution("2")
	exec.HasPayload = false
	exec.Payload = nil

	if err := h(context.Background(), exec); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if len(w.entries) != 0 {
		t.Errorf("entries = %d, want 0", len(w.entries))
	}
}

func TestCacheHandler_StoreError(t *testing.T) {
	failure := errors.New("redis down")
	h := CacheHandler[*hypixel.BazaarResponse]("bazaar", &fakeWriter{err: failure})

	err := h(context.Background(), bazaarExecution("2", "A"))
	if !errors.Is(err, failure) {
		t.Fatalf("error = %v, want store error", err)
	}
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	h := LogHandler[*hypixel.BazaarResponse](zerolog.New(&buf))

	if err := h(context.Background(), bazaarExecution("42", "A", "B", "C")); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{`"marker":"42"`, `"previous":"1"`, `"items":3`, `"bytes":2`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %s missing %s", out, want)
		}
	}
}

func TestChain(t *testing.T) {
	var calls []string
	first := errors.New("first failed")

	h := Chain(
		func(context.Context, int) error { calls = append(calls, "a"); return first },
		nil,
		func(context.Context, int) error { calls = append(calls, "b"); return nil },
	)

	err := h(context.Background(), 1)
	if !errors.Is(err, first) {
		t.Errorf("error = %v, want first handler's error", err)
	}
	if strings.Join(calls, ",") != "a,b" {
		t.Errorf("calls = %v, want every handler to run", calls)
	}

	if err := Chain[int]()(context.Background(), 1); err != nil {
		t.Errorf("empty chain error = %v", err)
	}
}
