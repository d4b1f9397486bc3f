package ingest

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/roach88/gamelink/internal/record"
)

//go:embed schema.cue
var schemaSource string

// Message is a parsed envelope: the type tag and its raw attributes.
type Message struct {
	Type       string
	Attributes json.RawMessage
}

type envelopeBody struct {
	Type       *string         `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
}

type envelope struct {
	Data *envelopeBody `json:"data"`
	envelopeBody
}

// ParseEnvelope reads {"data":{"type":..,"attributes":..}}. A bare
// {"type":..,"attributes":..} object is accepted as well.
func ParseEnvelope(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Message{}, malformedEnvelope("invalid JSON", err)
	}

	body := env.envelopeBody
	if env.Data != nil {
		body = *env.Data
	}
	if body.Type == nil {
		return Message{}, malformedEnvelope("missing data.type", nil)
	}
	if *body.Type == "" {
		return Message{}, malformedEnvelope("empty data.type", nil)
	}
	return Message{Type: *body.Type, Attributes: body.Attributes}, nil
}

// Decoder validates attributes of the received kinds against their CUE
// schema and decodes them into typed records.
//
// A Decoder holds a CUE context and is not safe for concurrent use.
type Decoder struct {
	ctx    *cue.Context
	schema cue.Value
}

// NewDecoder compiles the embedded attribute schemas.
func NewDecoder() (*Decoder, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile attribute schema: %w", err)
	}
	return &Decoder{ctx: ctx, schema: schema}, nil
}

// Decode validates and decodes msg. The type must be a received kind.
func (d *Decoder) Decode(msg Message) (record.Attributes, error) {
	kind := record.Kind(msg.Type)
	if !kind.Received() {
		return nil, malformedEvent(msg.Type, "unsupported type", nil)
	}
	if len(msg.Attributes) == 0 || string(msg.Attributes) == "null" {
		return nil, malformedEvent(msg.Type, "missing attributes", nil)
	}
	if err := d.validate(kind, msg.Attributes); err != nil {
		return nil, err
	}

	switch kind {
	case record.KindPageView:
		var a record.PageView
		if err := unmarshalAttributes(msg, &a.Session); err != nil {
			return nil, err
		}
		a.Language = CanonicalLanguage(a.Language)
		return a, nil

	case record.KindModuleSessionStarted:
		var a record.ModuleSessionStarted
		if err := unmarshalAttributes(msg, &a); err != nil {
			return nil, err
		}
		if err := requireUUID(msg.Type, "module_session_id", a.ModuleSessionID); err != nil {
			return nil, err
		}
		if err := requireUUID(msg.Type, "module_id", a.ModuleID); err != nil {
			return nil, err
		}
		a.Language = CanonicalLanguage(a.Language)
		return a, nil

	case record.KindMicroGameOpened:
		var a record.MicroGameOpened
		if err := unmarshalAttributes(msg, &a); err != nil {
			return nil, err
		}
		if err := requireUUID(msg.Type, "module_session_id", a.ModuleSessionID); err != nil {
			return nil, err
		}
		return a, nil

	case record.KindFitnessContentOpened:
		var a record.FitnessContentOpened
		if err := unmarshalAttributes(msg, &a); err != nil {
			return nil, err
		}
		return a, nil
	}

	return nil, malformedEvent(msg.Type, "unsupported type", nil)
}

func (d *Decoder) validate(kind record.Kind, attrs json.RawMessage) error {
	def := d.schema.LookupPath(cue.ParsePath("#" + string(kind)))
	if !def.Exists() {
		return malformedEvent(string(kind), "no schema", nil)
	}

	data := d.ctx.CompileBytes(attrs)
	if err := data.Err(); err != nil {
		return malformedEvent(string(kind), "attributes are not a JSON object", err)
	}

	if err := def.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return malformedEvent(string(kind), cueerrors.Details(err, nil), nil)
	}
	return nil
}

func unmarshalAttributes(msg Message, v any) error {
	if err := json.Unmarshal(msg.Attributes, v); err != nil {
		return malformedEvent(msg.Type, "decode attributes", err)
	}
	return nil
}

func requireUUID(eventType, field, value string) error {
	if _, err := uuid.Parse(value); err != nil {
		return malformedEvent(eventType, field+" is not a UUID", err)
	}
	return nil
}

// CanonicalLanguage returns the BCP-47 canonical form of tag. Values that
// do not parse are kept verbatim.
func CanonicalLanguage(tag string) string {
	if tag == "" {
		return ""
	}
	t, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	return t.String()
}
