package interfaces

import "context"

// Server is the per-account handle to the remote mail store. One exists
// per account, shared by that account's folder workers within a pass and
// optionally held open between passes.
type Server interface {
	// Keepalive pings the open connections every interval until stop is
	// closed. It runs between sync passes, never during one.
	Keepalive(interval int, stop <-chan struct{}) error

	// Close logs out and releases all connections.
	Close(ctx context.Context) error
}
