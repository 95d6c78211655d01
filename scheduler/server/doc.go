/*
Package server implements the cluster schedule control loops.

Each accepted ScheduleSpec gets its own instanceSupervisor running a
single-writer control loop: a goroutine woken by a tick or an incoming event,
whichever comes first. All mutation of a schedule's instance map happens on
that loop, so no locking is needed inside reconcile or the event handlers.
Slow node agent calls are issued through an async runner and their results
folded back in on the owning loop.

The node catalog is the one piece of state shared across schedules. Its
reserve/release operations are atomic per call, and reserve re-validates
capacity at apply time, so a planning snapshot that went stale costs one
instance one tick, never a deadlock.
*/
package server
