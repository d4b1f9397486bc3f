// Package ingest turns raw host messages into typed events.
//
// Messages arrive as JSON envelopes:
//
//	{"data": {"type": "pageView", "attributes": {...}}}
//
// Attributes of the received kinds are validated against embedded CUE
// schemas, then decoded into record attribute values. Unknown types are
// passed through as external events.
package ingest
