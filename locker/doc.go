// Package locker implements TTL-based exclusive locks on named lab
// resources, coordinated through an external key-value store. A Manager
// tracks the locks held by this process, renews their TTLs from a single
// background goroutine while any are held, and releases them on demand.
// Locks are not reentrant and not shared: one holder per resource name.
package locker
