package platform

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Schema validates store values against a CUE definition.
// It is safe for concurrent use.
type Schema struct {
	mu  sync.Mutex
	ctx *cue.Context
	v   cue.Value
}

// CompileSchema compiles CUE source. Empty source accepts any JSON object.
func CompileSchema(src string) (*Schema, error) {
	if src == "" {
		src = "{...}"
	}
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile store schema: %w", err)
	}
	return &Schema{ctx: ctx, v: v}, nil
}

// Validate reports whether blob is a JSON value satisfying the schema.
func (s *Schema) Validate(blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.ctx.CompileBytes(blob)
	if err := data.Err(); err != nil {
		return fmt.Errorf("parse store value: %w", err)
	}
	if err := s.v.Unify(data).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validate store value: %w", err)
	}
	return nil
}
