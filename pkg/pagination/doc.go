// Package pagination fetches the remaining pages of a paginated upstream
// resource in parallel.
//
// Hypixel numbers pages from 0 and reports totalPages on every page. The
// caller fetches page 0 itself (it needs the version marker before deciding
// whether the rest is worth fetching) and hands the total to FetchRemaining:
//
//	bf := pagination.NewBatchFetcher[*hypixel.AuctionsPage](pages, pagination.DefaultConfig())
//	rest, err := bf.FetchRemaining(ctx, first.TotalPages)
//
// The batch fetcher:
//   - distributes pages 1..totalPages-1 across a bounded worker pool
//   - returns pages in page order
//   - fails the whole batch on the first page error and cancels the rest,
//     since a snapshot with holes is not a snapshot
//
// Rate limiting is the PageFetcher's concern; workers only bound concurrency.
package pagination
