// Package id provides compact, lexicographically sortable job identifiers.
package id
