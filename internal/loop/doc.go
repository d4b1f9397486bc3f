// Package loop implements the single logical thread of control every tracking
// session runs on.
//
// ARCHITECTURE:
//
// Single-Writer Task Loop:
// All session log mutation, event correlation and state machine transitions
// execute as tasks on one loop. No component touches session state from any
// other goroutine, so session state needs no locks.
//
// Tasks reach the loop three ways:
//  1. Post: enqueue a task directly (host messages, commands)
//  2. After: a timer fires and posts the task (retries, polls)
//  3. Async: blocking work (network calls) runs on its own goroutine and
//     returns a continuation, which is posted back onto the loop
//
// Tasks are processed in FIFO order either by Run (production, one dedicated
// goroutine) or by Drain/Settle (host tick, tests). Exactly one of these may
// be active at a time.
//
// Cancellation is not ambient. Components tag scheduled tasks with their own
// epoch and check it when the task runs; a superseded task simply returns.
package loop
