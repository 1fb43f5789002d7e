// Package pipeline decouples "a change was detected" from "the change was
// handled" for one polled source.
//
// A Pipeline owns a bounded FIFO queue and a single worker goroutine that
// drains it, calling the Handler once per item. Producers never block the
// poller unless they ask to:
//
//   - Offer never blocks. When the queue is full and coalescing is enabled the
//     oldest pending item is dropped so the newest snapshot wins; without
//     coalescing the new item is refused with ErrQueueFull.
//   - Put waits for room (bounded by its context) when coalescing is disabled,
//     and behaves like Offer when it is enabled.
//
// Handler errors and panics are logged and counted; the worker keeps going.
//
// Shutdown policy: Close stops intake immediately. With DrainOnShutdown the
// worker processes what is queued until Close's context expires, after which
// the rest is discarded and the in-flight handler's context is cancelled.
// Without it, queued items are discarded at once and only the in-flight
// handler is awaited. Close never waits past its context.
package pipeline
