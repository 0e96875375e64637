// Package server assembles the service: fetch client, cache, loader,
// REST handlers, websocket feed, metrics, and middleware.
package server
