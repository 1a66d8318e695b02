// Package api defines the request and response bodies of the chatplugin HTTP API.
//
// # API Overview
//
// The serve command exposes:
//   - POST /v1/conversations: run one plugin conversation
//   - POST /v1/plugins/describe: fetch a plugin and summarize its endpoints
//   - GET /healthz, GET /readyz: liveness and readiness probes
//   - GET /version: build information
//   - GET /metrics: Prometheus metrics
//
// Every JSON response uses the envelope written by the handlers package:
//
//	{"success": true, "data": {...}, "timestamp": "...", "request_id": "..."}
//
// # Errors
//
// Failures carry the error code of the failing stage, for example
// FETCH_ERROR, MALFORMED_REPLY or INVOCATION_ERROR, under error.code.
//
// # Base URL
//
// The default listen address is:
//
//	http://localhost:8080
package api
