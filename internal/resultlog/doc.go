// Package resultlog implements the append-only JSON Lines result log.
//
// The log is the source of truth for a run: every record is written with a
// single write call and fsynced before Append returns. A record is committed
// once its terminating newline is on disk; anything after the last newline is
// an interrupted write and is discarded by Truncate on the next start.
package resultlog
