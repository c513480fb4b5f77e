// Package store provides the key-value backend used to persist lock
// records. The backend is treated as a trusted linearizable service for
// single-key operations: create-if-absent is the sole cross-process
// serialization point. The Redis implementation is safe for concurrent use
// by the acquiring caller and the keepalive goroutine.
package store
