// Package checkpoint maintains the cached index of completed items.
//
// The result log is authoritative; the checkpoint only lets a new process
// skip replaying the whole log. On load the checkpoint is validated against
// the input set and then caught up by replaying the log from its recorded
// offset, so a stale checkpoint never hides a committed result. A missing or
// unreadable checkpoint is rebuilt from the log.
package checkpoint
