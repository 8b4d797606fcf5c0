// Package scheduler contains the scripts that operate a Scheduler CSC:
// moving it to ENABLED or STANDBY, stopping and resuming it, and loading
// blocks and snapshots into it.
//
// Every script is bound to one Scheduler, selected by queue. Scripts that
// change what the Scheduler is doing refuse to run from the other
// telescope's queue.
package scheduler
