package catalog

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator checks JSON documents against JSON Schemas. Compiled schemas are
// cached by content hash.
type Validator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewValidator returns an empty Validator.
func NewValidator() *Validator {
	return &Validator{cache: make(map[string]*jsonschema.Schema)}
}

// Validate checks the JSON document data against schema. An empty schema
// accepts everything.
func (v *Validator) Validate(schema, data []byte) error {
	if len(bytes.TrimSpace(schema)) == 0 {
		return nil
	}

	compiled, err := v.compile(schema)
	if err != nil {
		return err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return compiled.Validate(doc)
}

// Check reports whether schema compiles.
func (v *Validator) Check(schema []byte) error {
	if len(bytes.TrimSpace(schema)) == 0 {
		return nil
	}
	_, err := v.compile(schema)
	return err
}

func (v *Validator) compile(schema []byte) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(schema)
	key := hex.EncodeToString(sum[:])

	v.mu.RLock()
	s, ok := v.cache[key]
	v.mu.RUnlock()
	if ok {
		return s, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schema))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	url := "hookline://schema/" + key + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err = c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.mu.Lock()
	v.cache[key] = s
	v.mu.Unlock()
	return s, nil
}
