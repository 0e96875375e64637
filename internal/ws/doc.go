// Package ws streams loader lifecycle events over WebSocket.
//
// Each connection subscribes to the loader's event feed and receives
// started/hit/completed/failed/cancelled events as JSON. Delivery is
// best-effort; this is an operational window into the loader, not part
// of the load contract.
package ws
