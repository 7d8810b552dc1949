// Package runstore owns the run state directory: crash-safe JSON snapshots
// written by temp-file-and-rename, and a directory lock that keeps two
// processes from appending to the same result log.
package runstore
