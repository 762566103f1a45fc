// Package api hosts the HTTP control server for the archiver. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to archive a keyword synchronously.
//   - GET /v1/state for the sequence counter and domain ledger.
package api
