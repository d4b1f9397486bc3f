// Package sessionlog provides the append-only record log a tracking session
// derives its state from, plus an optional SQLite audit journal.
//
// # Semantics
//
//   - Append stamps each record with the next Seq and the capture time; the
//     record is never modified or removed afterwards
//   - "Latest matching" is the last-appended record satisfying a predicate,
//     so later appends always shadow earlier ones
//   - All returns a sequence over the log as it was when All was called;
//     records appended later are not visible to it
//
// A Log has no deletion operation. Switching backend targets replaces the Log
// instance wholesale.
//
// # Concurrency
//
// A Log is not safe for concurrent use. It is owned by exactly one tracking
// session and only touched from that session's loop goroutine.
//
// # Journal
//
// Journal mirrors appended records into SQLite for later inspection with the
// trace command. It is write-only from the tracker's point of view: state is
// never restored from it.
package sessionlog
