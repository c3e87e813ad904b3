// Package storage is the durable key/value layer behind every tool.
//
// A Backend stores opaque values under string keys and commits changes in
// atomic batches. A Store splits one backend into per-chat Scopes, and the
// List and Family collections build ordered record stores on top of a Scope.
package storage
