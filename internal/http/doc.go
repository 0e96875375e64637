// Package http provides the REST API over the image loader.
//
// Endpoints:
//   - GET /image?url=U: blocking load, served re-encoded as PNG
//   - POST /prefetch: asynchronous load, returns a handle
//   - DELETE /prefetch/:handle: cancel an in-flight prefetch
//   - GET /health, GET /stats: liveness and counters
package http
