// Package record defines the typed event records kept in the session log.
//
// A Record is a tagged union: Kind names the variant and Attributes holds the
// kind-specific payload. Four kinds are received from the embedded page
// (page views, module session starts and the two content-opened events); the
// rest are synthesized by the tracker itself and never arrive from the host.
//
// This package imports nothing internal. Every other package builds on it.
//
// Key constraints:
//   - Records are values; once appended they are never mutated
//   - Seq is a logical clock, strictly increasing per log (ordering never
//     relies on CapturedAt)
//   - Empty strings in Session mean "not known"
package record
