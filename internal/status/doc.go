// Package status implements the shared table of last-known service health.
//
// The table's key set is fixed when it is created. Writers replace whole
// entries under a short write lock, so readers always observe either the
// previous or the new value of an entry and never a partial one.
package status
