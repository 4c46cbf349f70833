package tool

import (
	"context"
	"encoding/json"
	"testing"
)

func TestWithSchemaValidationPassesValidParams(t *testing.T) {
	wrapped, err := WithSchemaValidation(&echoTool{name: "echo", schema: echoSchema})
	if err != nil {
		t.Fatalf("WithSchemaValidation: %v", err)
	}

	result, err := wrapped.Execute(context.Background(), json.RawMessage(`{"msg":"hi"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
}

func TestWithSchemaValidationRejectsInvalid(t *testing.T) {
	wrapped, err := WithSchemaValidation(&echoTool{name: "echo", schema: echoSchema})
	if err != nil {
		t.Fatalf("WithSchemaValidation: %v", err)
	}

	result, err := wrapped.Execute(context.Background(), json.RawMessage(`{"msg":42}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected validation failure for wrong type")
	}
}

func TestWithSchemaValidationNoSchema(t *testing.T) {
	inner := &echoTool{name: "free"}
	wrapped, err := WithSchemaValidation(inner)
	if err != nil {
		t.Fatalf("WithSchemaValidation: %v", err)
	}
	if wrapped != inner {
		t.Error("tool without schema should be returned unwrapped")
	}
}

func TestWithSchemaValidationBadSchema(t *testing.T) {
	bad := &echoTool{name: "bad", schema: json.RawMessage(`{"type": 42}`)}
	if _, err := WithSchemaValidation(bad); err == nil {
		t.Fatal("expected compile error for malformed schema")
	}
}
