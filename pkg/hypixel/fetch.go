package hypixel

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/hypixel-market-poller/pkg/detect"
	"github.com/Sternrassler/hypixel-market-poller/pkg/pagination"
	"github.com/Sternrassler/hypixel-market-poller/pkg/poller"
)

// Admitter takes admission from the shared request budget.
// *ratelimit.Limiter implements it.
type Admitter interface {
	Acquire(ctx context.Context) error
}

// BazaarFetcher fetches the bazaar resource.
type BazaarFetcher struct {
	client *Client
	path   string
	logger zerolog.Logger
}

// NewBazaarFetcher creates a fetcher for the bazaar resource at path.
func NewBazaarFetcher(client *Client, path string, logger zerolog.Logger) *BazaarFetcher {
	return &BazaarFetcher{
		client: client,
		path:   path,
		logger: logger,
	}
}

// Fetch implements poller.FetchFunc. The products are decoded only when
// lastUpdated moved past the previous marker.
func (f *BazaarFetcher) Fetch(ctx context.Context, cmp poller.Comparison) (poller.FetchResult[*BazaarResponse], error) {
	var res poller.FetchResult[*BazaarResponse]

	resp, err := f.client.Get(ctx, f.path, nil, Conditional{ETag: cmp.ETag, LastModified: cmp.LastModified})
	if err != nil {
		return res, err
	}
	res.ETag = resp.ETag
	res.LastModified = resp.LastModified
	res.Transport = transport(resp)

	if resp.NotModified {
		res.NotModified = true
		return res, nil
	}

	env, err := decodeEnvelope(f.path, resp)
	if err != nil {
		return res, err
	}

	res.Marker = marker(env.LastUpdated, resp.Body)
	if res.Marker == cmp.PreviousMarker {
		return res, nil
	}

	var body BazaarResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return res, decodeError(f.path, err)
	}
	res.Payload = &body
	res.HasPayload = true

	f.logger.Debug().
		Str("marker", res.Marker).
		Int("products", len(body.Products)).
		Msg("Decoded bazaar")

	return res, nil
}

// AuctionsFetcher fetches every page of the auctions resource.
type AuctionsFetcher struct {
	client *Client
	path   string
	admit  Admitter
	paging pagination.Config
	logger zerolog.Logger
}

// NewAuctionsFetcher creates a fetcher for the auctions resource at path.
// Pages after the first take admission from admit.
func NewAuctionsFetcher(client *Client, path string, admit Admitter, concurrency int, logger zerolog.Logger) *AuctionsFetcher {
	return &AuctionsFetcher{
		client: client,
		path:   path,
		admit:  admit,
		paging: pagination.Config{
			MaxConcurrency: concurrency,
			Logger:         logger,
		},
		logger: logger,
	}
}

// Fetch implements poller.FetchFunc. Page 0 decides: when its lastUpdated
// matches the previous marker the remaining pages are not requested. Every
// further page must report the same lastUpdated, otherwise the fetch fails
// with ErrInconsistentSnapshot.
func (f *AuctionsFetcher) Fetch(ctx context.Context, cmp poller.Comparison) (poller.FetchResult[*AuctionsSnapshot], error) {
	var res poller.FetchResult[*AuctionsSnapshot]

	first, resp, err := f.fetchPage(ctx, 0, Conditional{ETag: cmp.ETag, LastModified: cmp.LastModified})
	if err != nil {
		return res, err
	}
	res.ETag = resp.ETag
	res.LastModified = resp.LastModified
	res.Transport = transport(resp)

	if resp.NotModified {
		res.NotModified = true
		return res, nil
	}

	res.Marker = marker(first.LastUpdated, resp.Body)
	if res.Marker == cmp.PreviousMarker {
		return res, nil
	}

	pages := pagination.PageFetcherFunc[*AuctionsPage](func(ctx context.Context, page int) (*AuctionsPage, error) {
		if err := f.admit.Acquire(ctx); err != nil {
			return nil, err
		}
		p, resp, err := f.fetchPage(ctx, page, Conditional{})
		if err != nil {
			return nil, err
		}
		if resp.NotModified {
			return nil, unexpectedNotModified(f.path, page)
		}
		if p.LastUpdated != first.LastUpdated {
			return nil, fmt.Errorf("%w: page %d lastUpdated %d, page 0 lastUpdated %d",
				ErrInconsistentSnapshot, page, p.LastUpdated, first.LastUpdated)
		}
		return p, nil
	})

	rest, err := pagination.NewBatchFetcher[*AuctionsPage](pages, f.paging).FetchRemaining(ctx, first.TotalPages)
	if err != nil {
		return res, fmt.Errorf("fetch auctions pages: %w", err)
	}

	snapshot := &AuctionsSnapshot{
		LastUpdated:   first.LastUpdated,
		TotalPages:    first.TotalPages,
		TotalAuctions: first.TotalAuctions,
		Auctions:      make([]Auction, 0, first.TotalAuctions),
	}
	snapshot.Auctions = append(snapshot.Auctions, first.Auctions...)
	for _, p := range rest {
		snapshot.Auctions = append(snapshot.Auctions, p.Auctions...)
	}
	res.Payload = snapshot
	res.HasPayload = true

	f.logger.Debug().
		Str("marker", res.Marker).
		Int("pages", first.TotalPages).
		Int("auctions", len(snapshot.Auctions)).
		Msg("Assembled auctions snapshot")

	return res, nil
}

func (f *AuctionsFetcher) fetchPage(ctx context.Context, page int, cond Conditional) (*AuctionsPage, *Response, error) {
	query := url.Values{"page": []string{strconv.Itoa(page)}}
	resp, err := f.client.Get(ctx, f.path, query, cond)
	if err != nil {
		return nil, nil, err
	}
	if resp.NotModified {
		return nil, resp, nil
	}

	var p AuctionsPage
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		return nil, nil, decodeError(f.path, err)
	}
	if !p.Success {
		return nil, nil, unsuccessful(f.path, resp.StatusCode)
	}
	pagesFetchedTotal.WithLabelValues(f.path).Inc()
	return &p, resp, nil
}

func decodeEnvelope(path string, resp *Response) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return env, decodeError(path, err)
	}
	if !env.Success {
		return env, unsuccessful(path, resp.StatusCode)
	}
	return env, nil
}

// marker prefers the upstream's lastUpdated and falls back to a body
// fingerprint when it is missing.
func marker(lastUpdated int64, body []byte) string {
	if m := detect.TimestampMarker(lastUpdated); m != "" {
		return m
	}
	return detect.Fingerprint(body)
}

func transport(resp *Response) poller.Transport {
	return poller.Transport{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}
}

func decodeError(path string, err error) error {
	errorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
	return &APIError{
		Class:   ErrorClassDecode,
		Message: "decode " + path,
		Err:     err,
	}
}

func unsuccessful(path string, status int) error {
	errorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
	return &APIError{
		StatusCode: status,
		Class:      ErrorClassServer,
		Message:    path,
		Err:        ErrUnsuccessful,
	}
}

// unexpectedNotModified reports a 304 for a request sent without validators,
// which a caching proxy may produce. The page holds no body, so the attempt fails.
func unexpectedNotModified(path string, page int) error {
	errorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
	return &APIError{
		StatusCode: http.StatusNotModified,
		Class:      ErrorClassServer,
		Message:    fmt.Sprintf("%s page %d", path, page),
		Err:        ErrUnexpectedNotModified,
	}
}
