// Package metadata provides the typed metadata documents attached to
// stored vector records.
//
// It uses Go 1.24's unique package to intern string values, keeping
// repetitive tags (theme labels, classifications) cheap to store and
// compare.
package metadata
