// Package labenv records which hosts fulfil which roles in a named lab
// environment. The mappings live in the same coordination store as the
// locks, under their own key prefix, so every test runner sees one
// consistent view.
package labenv
