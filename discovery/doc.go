// Package discovery locates coordination-store endpoints through DNS SRV
// records. Every lookup queries fresh so that store membership changes are
// observed; results are ordered by priority, weight and host for
// deterministic connection attempts.
package discovery
