package ingest

import (
	"log/slog"

	"github.com/roach88/gamelink/internal/record"
)

// Handler receives the outcome of ingesting one message.
type Handler interface {
	// Handle processes a decoded event of a received kind.
	Handle(attrs record.Attributes) error

	// External is called for envelope types the tracker does not model.
	External(eventType string)
}

// Ingester parses envelopes and dispatches them to a Handler.
type Ingester struct {
	decoder *Decoder
	handler Handler
	logger  *slog.Logger
}

// New creates an Ingester dispatching to h.
func New(h Handler) (*Ingester, error) {
	d, err := NewDecoder()
	if err != nil {
		return nil, err
	}
	return &Ingester{decoder: d, handler: h, logger: slog.Default()}, nil
}

// Ingest processes one raw host message.
//
// Malformed envelopes and events are logged and returned; nothing is
// dispatched for them. Unknown types go to Handler.External. Errors
// returned by Handler.Handle are passed through.
func (in *Ingester) Ingest(raw []byte) error {
	msg, err := ParseEnvelope(raw)
	if err != nil {
		in.logger.Warn("dropping malformed envelope", "error", err)
		return err
	}

	if !record.Kind(msg.Type).Received() {
		in.handler.External(msg.Type)
		return nil
	}

	attrs, err := in.decoder.Decode(msg)
	if err != nil {
		in.logger.Warn("dropping malformed event",
			"type", msg.Type,
			"error", err,
		)
		return err
	}
	return in.handler.Handle(attrs)
}
