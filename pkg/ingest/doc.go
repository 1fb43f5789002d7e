// Package ingest assembles the polling service: one supervised poller per
// configured source, each feeding its own pipeline, all sharing one request
// budget.
//
// Handlers chained onto a pipeline decide what happens to a changed payload.
// The service always logs it and, when Redis is configured, stores it as the
// source's latest snapshot. On startup the stored markers are fed back to the
// pollers so a restart does not report the current upstream version as new.
package ingest
