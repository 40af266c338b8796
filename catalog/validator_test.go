package catalog_test

import (
	"testing"

	"github.com/xraph/hookline/catalog"
)

const questSchema = `{
	"type": "object",
	"properties": {
		"quest_id": {"type": "string"},
		"xp":       {"type": "integer", "minimum": 0}
	},
	"required": ["quest_id"]
}`

func TestValidatorEmptySchema(t *testing.T) {
	v := catalog.NewValidator()

	if err := v.Validate(nil, []byte(`{"anything":1}`)); err != nil {
		t.Fatal("empty schema should skip validation, got:", err)
	}
	if err := v.Validate([]byte("  "), []byte(`[]`)); err != nil {
		t.Fatal("blank schema should skip validation, got:", err)
	}
}

func TestValidatorValidPayload(t *testing.T) {
	v := catalog.NewValidator()

	if err := v.Validate([]byte(questSchema), []byte(`{"quest_id":"q1","xp":50}`)); err != nil {
		t.Fatal("valid payload should pass, got:", err)
	}
}

func TestValidatorMissingRequired(t *testing.T) {
	v := catalog.NewValidator()

	if err := v.Validate([]byte(questSchema), []byte(`{"xp":50}`)); err == nil {
		t.Fatal("expected validation error for missing required field")
	}
}

func TestValidatorWrongType(t *testing.T) {
	v := catalog.NewValidator()

	if err := v.Validate([]byte(questSchema), []byte(`{"quest_id":"q1","xp":"lots"}`)); err == nil {
		t.Fatal("expected validation error for wrong type")
	}
	if err := v.Validate([]byte(questSchema), []byte(`{"quest_id":"q1","xp":1.5}`)); err == nil {
		t.Fatal("expected validation error for non-integer")
	}
}

func TestValidatorMalformedInput(t *testing.T) {
	v := catalog.NewValidator()

	if err := v.Validate([]byte(`{not json`), []byte(`{}`)); err == nil {
		t.Fatal("expected error for malformed schema")
	}
	if err := v.Validate([]byte(questSchema), []byte(`{not json`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestValidatorCaching(t *testing.T) {
	v := catalog.NewValidator()

	for range 3 {
		if err := v.Validate([]byte(questSchema), []byte(`{"quest_id":"q"}`)); err != nil {
			t.Fatal(err)
		}
	}
}
