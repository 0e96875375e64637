// Package fetch provides the outbound HTTP transport used by the loader.
//
// Built on go-resty/resty over a retryablehttp transport, with:
//   - Context-based cancellation and deadlines
//   - Optional rate limiting per client instance
//   - A circuit breaker guarding a misbehaving origin
//
// Retries are deliberately disabled; retry policy belongs to callers.
package fetch
