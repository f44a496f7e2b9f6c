// Package executor runs one read-only Operation against many hosts with a
// hard cap on how many run at once.
//
// Every host passed to Run gets exactly one ExecutionResult, whatever the
// Operation does: return a payload, return an error, panic, overrun its
// timeout, or get cancelled. Per-host failures are data, never a call-level
// error; Run only fails for invalid arguments, before any Task starts.
//
// Hosts are dispatched in input order through a FIFO queue and at most
// Concurrency Tasks are in flight. Completion order is unspecified; the
// drained ResultSet is sorted by host name.
//
// Cancellation is cooperative. A Task whose Operation ignores its context is
// abandoned locally once its deadline passes: the Task is reported as timed
// out and its slot is released, but the Operation's goroutine (and whatever
// it started on the remote side) keeps running until it returns on its own.
package executor
