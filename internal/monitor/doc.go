// Package monitor provides read-only views over a run's progress snapshot:
// an HTTP router for dashboards and scrapers, and a terminal model for
// watching a run interactively.
//
// Neither view talks to the running process. Both re-read the snapshot
// file, so they keep working across restarts of the run and never affect
// it.
package monitor
