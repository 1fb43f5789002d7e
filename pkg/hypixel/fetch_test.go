package hypixel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/hypixel-market-poller/internal/testutil"
	"github.com/Sternrassler/hypixel-market-poller/pkg/detect"
	"github.com/Sternrassler/hypixel-market-poller/pkg/poller"
)

const (
	bazaarPath   = "/skyblock/bazaar"
	auctionsPath = "/skyblock/auctions"
)

type countingAdmitter struct {
	calls atomic.Int32
	err   error
}

func (a *countingAdmitter) Acquire(ctx context.Context) error {
	a.calls.Add(1)
	if a.err != nil {
		return a.err
	}
	return ctx.Err()
}

func TestBazaarFetcher_DecodesNewVersion(t *testing.T) {
	mock := testutil.NewMockHypixel()
	defer mock.Close()
	mock.SetBazaar(bazaarPath, 1700000000000, "ENCHANTED_DIAMOND", "BOOSTER_COOKIE")

	f := NewBazaarFetcher(newTestClient(t, mock, nil), bazaarPath, zerolog.Nop())
	res, err := f.Fetch(context.Background(), poller.Comparison{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if res.Marker != "1700000000000" {
		t.Errorf("Marker = %q, want 1700000000000", res.Marker)
	}
	if !res.HasPayload || res.Payload == nil {
		t.Fatal("expected a decoded payload")
	}
	if len(res.Payload.Products) != 2 {
		t.Errorf("products = %d, want 2", len(res.Payload.Products))
	}
	qs := res.Payload.Products["ENCHANTED_DIAMOND"].QuickStatus
	if qs.BuyPrice != 10.5 || qs.SellVolume != 800 {
		t.Errorf("quick_status = %+v", qs)
	}
	if res.Transport.StatusCode != 200 || len(res.Transport.Body) == 0 {
		t.Errorf("Transport = status %d, %d bytes", res.Transport.StatusCode, len(res.Transport.Body))
	}
}

func TestBazaarFetcher_SameVersionSkipsDecode(t *testing.T) {
	mock := testutil.NewMockHypixel()
	defer mock.Close()
	mock.SetBazaar(bazaarPath, 1700000000000, "ENCHANTED_DIAMOND")

	f := NewBazaarFetcher(newTestClient(t, mock, nil), bazaarPath, zerolog.Nop())
	res, err := f.Fetch(context.Background(), poller.Comparison{PreviousMarker: "1700000000000"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.HasPayload {
		t.Error("unchanged version should not carry a payload")
	}
	if d := detect.Compare("1700000000000", res.Marker); d.Changed() {
		t.Errorf("decision = %v, want NO_CHANGE", d.Outcome)
	}
}

func TestBazaarFetcher_NotModified(t *testing.T) {
	mock := testutil.NewMockHypixel()
	defer mock.Close()
	mock.SetHandler(bazaarPath, testutil.NewConditionalHandler(`"v7"`, testutil.BazaarBody(7, "A")))

	f := NewBazaarFetcher(newTestClient(t, mock, nil), bazaarPath, zerolog.Nop())
	res, err := f.Fetch(context.Background(), poller.Comparison{PreviousMarker: "7", ETag: `"v7"`})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !res.NotModified || res.HasPayload {
		t.Errorf("result = %+v, want NotModified without payload", res)
	}
}

func TestBazaarFetcher_FingerprintWithoutLastUpdated(t *testing.T) {
	mock := testutil.NewMockHypixel()
	defer mock.Close()
	body := `{"success":true,"products":{}}`
	mock.SetResponse(bazaarPath, testutil.NewHealthyResponse(body))

	f := NewBazaarFetcher(newTestClient(t, mock, nil), bazaarPath, zerolog.Nop())
	res, err := f.Fetch(context.Background(), poller.Comparison{})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if want := detect.Fingerprint([]byte(body)); res.Marker != want {
		t.Errorf("Marker = %q, want fingerprint %q", res.Marker, want)
	}
}

func TestBazaarFetcher_BadBodies(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantClass ErrorClass
		wantIs    error
	}{
		{"malformed json", `{"success":tru`, ErrorClassDecode, nil},
		{"success false", `{"success":false,"cause":"maintenance"}`, ErrorClassServer, ErrUnsuccessful},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockHypixel()
			defer mock.Close()
			mock.SetResponse(bazaarPath, testutil.NewHealthyResponse(tt.body))

			f := NewBazaarFetcher(newTestClient(t, mock, nil), bazaarPath, zerolog.Nop())
			_, err := f.Fetch(context.Background(), poller.Comparison{})

			var apiErr *APIError
			if !errors.As(err, &apiErr) || apiErr.Class != tt.wantClass {
				t.Fatalf("error = %v, want %s *APIError", err, tt.wantClass)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want it to wrap %v", err, tt.wantIs)
			}
			if !poller.IsRetryable(err) {
				t.Error("bad bodies are transient")
			}
		})
	}
}

func TestAuctionsFetcher_AssemblesAllPages(t *testing.T) {
	mock := testutil.NewMockHypixel()
	defer mock.Close()
	mock.SetAuctions(auctionsPath, 1700000000000, 3, 2)

	admit := &countingAdmitter{}
	f := NewAuctionsFetcher(newTestClient(t, mock, nil), auctionsPath, admit, 2, zerolog.Nop())

	res, err := f.Fetch(context.Background(), poller.Comparison{PreviousMarker: "1699999980000"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.Marker != "1700000000000" || !res.HasPayload {
		t.Fatalf("result = marker %q, payload %v", res.Marker, res.HasPayload)
	}

	snap := res.Payload
	if snap.TotalPages != 3 || snap.TotalAuctions != 6 {
		t.Errorf("snapshot totals = %d pages, %d auctions", snap.TotalPages, snap.TotalAuctions)
	}
	if len(snap.Auctions) != 6 {
		t.Fatalf("auctions = %d, want 6", len(snap.Auctions))
	}
	for i, a := range snap.Auctions {
		if want := fmt.Sprintf("auction-%d-%d", i/2, i%2); a.UUID != want {
			t.Errorf("auctions[%d] = %q, want %q", i, a.UUID, want)
		}
	}

	// Page 0 was admitted by the poller; every further page takes its own admission.
	if got := admit.calls.Load(); got != 2 {
		t.Errorf("admissions = %d, want 2", got)
	}
	if got := mock.GetPathCount(auctionsPath); got != 3 {
		t.Errorf("page requests = %d, want 3", got)
	}
}

func TestAuctionsFetcher_UnchangedSkipsRemainingPages(t *testing.T) {
	mock := testutil.NewMockHypixel()
	defer mock.Close()
	mock.SetAuctions(auctionsPath, 1700000000000, 40, 1)

	admit := &countingAdmitter{}
	f := NewAuctionsFetcher(newTestClient(t, mock, nil), auctionsPath, admit, 4, zerolog.Nop())

	res, err := f.Fetch(context.Background(), poller.Comparison{PreviousMarker: "1700000000000"})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if res.HasPayload {
		t.Error("unchanged version should not carry a payload")
	}
	if got := mock.GetPathCount(auctionsPath); got != 1 {
		t.Errorf("page requests = %d, want only page 0", got)
	}
	if admit.calls.Load() != 0 {
		t.Errorf("admissions = %d, want 0", admit.calls.Load())
	}
}

func TestAuctionsFetcher_InconsistentPagesFail(t *testing.T) {
	mock := testutil.NewMockHypixel()
	defer mock.Close()
	mock.SetAuctionsFunc(auctionsPath, func(page int) int64 {
		if page == 2 {
			return 1700000020000
		}
		return 1700000000000
	}, 4, 1)

	f := NewAuctionsFetcher(newTestClient(t, mock, nil), auctionsPath, &countingAdmitter{}, 1, zerolog.Nop())
	res, err := f.Fetch(context.Background(), poller.Comparison{})

	if !errors.Is(err, ErrInconsistentSnapshot) {
		t.Fatalf("error = %v, want ErrInconsistentSnapshot", err)
	}
	if res.HasPayload {
		t.Error("a failed fetch must not carry a payload")
	}
	if !poller.IsRetryable(err) {
		t.Error("inconsistent snapshots are transient")
	}
}

func TestAuctionsFetcher_NotModifiedLaterPageFails(t *testing.T) {
	mock := testutil.NewMockHypixel()
	defer mock.Close()
	mock.SetHandler(auctionsPath, func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		if page > 0 {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(testutil.AuctionsPageBody(0, 3, 2, 1700000000000)))
	})

	f := NewAuctionsFetcher(newTestClient(t, mock, nil), auctionsPath, &countingAdmitter{}, 2, zerolog.Nop())
	res, err := f.Fetch(context.Background(), poller.Comparison{})

	if !errors.Is(err, ErrUnexpectedNotModified) {
		t.Fatalf("error = %v, want ErrUnexpectedNotModified", err)
	}
	if res.HasPayload {
		t.Error("a failed fetch must not carry a payload")
	}
	if !poller.IsRetryable(err) {
		t.Error("a 304 on a later page is transient")
	}
}

func TestAuctionsFetcher_AdmissionFailureAborts(t *testing.T) {
	mock := testutil.NewMockHypixel()
	defer mock.Close()
	mock.SetAuctions(auctionsPath, 1700000000000, 5, 1)

	denied := errors.New("admission denied")
	f := NewAuctionsFetcher(newTestClient(t, mock, nil), auctionsPath, &countingAdmitter{err: denied}, 2, zerolog.Nop())

	if _, err := f.Fetch(context.Background(), poller.Comparison{}); !errors.Is(err, denied) {
		t.Fatalf("error = %v, want admission error", err)
	}
	if got := mock.GetPathCount(auctionsPath); got != 1 {
		t.Errorf("page requests = %d, want only page 0", got)
	}
}

func TestAuctionsFetcher_PageZeroError(t *testing.T) {
	mock := testutil.NewMockHypixel()
	defer mock.Close()
	mock.SetResponse(auctionsPath, testutil.NewServerErrorResponse())

	f := NewAuctionsFetcher(newTestClient(t, mock, nil), auctionsPath, &countingAdmitter{}, 2, zerolog.Nop())
	_, err := f.Fetch(context.Background(), poller.Comparison{})

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Class != ErrorClassServer {
		t.Fatalf("error = %v, want server *APIError", err)
	}
}
