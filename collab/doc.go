// Package collab is the live synchronization engine for shared documents.
//
// A Registry maps document ids to Rooms. Each Room holds the
// authoritative content of one document, fans out every accepted edit
// to the other Sessions attached to it and persists the latest content
// through a debounced scheduler. Edits are full-content replacements
// and the last edit a Room applies wins; there is no merge.
//
// All mutation of a Room happens under its own lock. Attach and Detach
// for the same document are serialized by a per-document lock held by
// the Registry, so a Room is never torn down while a new Session for
// the same document is attaching.
package collab
