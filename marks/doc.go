// Package marks fetches dynamic test marks from the centralized marking
// service, so test selection can be adjusted without editing the suites.
package marks
