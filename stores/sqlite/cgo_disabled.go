//go:build !cgo

package sqlite

// CGOEnabled is false when built without cgo; go-sqlite3 cannot open a
// database then, so the store's tests exit early.
const CGOEnabled = false
