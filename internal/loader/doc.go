// Package loader implements cache-first, cancellable image loading.
//
// A load is cache-first and network-fallback: a cached URL is delivered
// immediately with no handle; an uncached URL starts a network fetch with
// a fixed deadline and returns a handle usable only for cancellation.
// Each call gets its own fetch: concurrent loads of the same URL are not
// coalesced, so transport call counts map one-to-one onto load calls.
//
// Cancellation is cooperative and silent: CancelLoad aborts the fetch,
// removes the bookkeeping immediately, and the callback for that load is
// never invoked. Callers keep the handle; the absence of a callback after
// cancelling is the only signal, and it is sufficient.
//
// Two call surfaces share one primitive: LoadImage is the callback form,
// Load a blocking wrapper that resumes exactly once per settled outcome.
package loader
