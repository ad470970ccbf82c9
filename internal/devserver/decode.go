package devserver

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

// Decoder validates frames against the message schema and decodes them.
//
// Thread-safety: safe for concurrent use; validation is serialised because
// CUE values are not safe for concurrent use.
type Decoder struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewDecoder compiles the embedded schema.
func NewDecoder() (*Decoder, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile message schema: %w", err)
	}
	schema := root.LookupPath(cue.ParsePath("#Message"))
	if !schema.Exists() {
		return nil, fmt.Errorf("compile message schema: #Message not defined")
	}
	return &Decoder{ctx: ctx, schema: schema}, nil
}

// Decode validates and decodes one frame. Errors wrap ErrMalformed.
func (d *Decoder) Decode(frame []byte) (Message, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 || frame[0] != '{' {
		return Message{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	if !json.Valid(frame) {
		return Message{}, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	if err := d.validate(frame); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return m, nil
}

func (d *Decoder) validate(frame []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	v := d.ctx.CompileBytes(frame, cue.Filename("frame.json"))
	if err := v.Err(); err != nil {
		return err
	}
	return d.schema.Unify(v).Validate(cue.Concrete(true))
}

var defaultDecoder = sync.OnceValues(NewDecoder)

// Decode validates and decodes one frame with a shared decoder.
func Decode(frame []byte) (Message, error) {
	d, err := defaultDecoder()
	if err != nil {
		return Message{}, err
	}
	return d.Decode(frame)
}
