// Package session persists service session cookies across process
// invocations.
//
// Cookies are stored in a single JSON document under the user's home
// directory, keyed by identity (base URL plus username), so several clients
// and several processes can share one cache. Every read-modify-write of the
// file happens under an advisory file lock, and the file is re-read inside
// the lock before merging so that writes from other processes are never lost.
//
// The cache degrades rather than fails: a missing, corrupt, or
// wrong-version file reads as empty, and when the backing directory cannot
// be created the store keeps working in memory for the life of the process.
package session
