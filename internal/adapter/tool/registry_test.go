package tool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"parley/internal/domain"
)

// echoTool returns its params verbatim.
type echoTool struct {
	name   string
	schema json.RawMessage
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echo" }
func (t *echoTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: "echo", Parameters: t.schema}
}
func (t *echoTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return &domain.ToolResult{Content: string(params)}, nil
}

var echoSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"msg": {"type": "string"}},
	"required": ["msg"]
}`)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tool, err := r.Get("echo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if tool.Name() != "echo" {
		t.Errorf("name = %q", tool.Name())
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&echoTool{name: "echo"})
	if err := r.Register(&echoTool{name: "echo"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Get("nope")
	if !errors.Is(err, domain.ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got %v", err)
	}
}

func TestRegistrySchemasDeterministicOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(&echoTool{name: "b", schema: echoSchema})
	r.Register(&echoTool{name: "a", schema: echoSchema})

	schemas := r.Schemas()
	if len(schemas) != 2 {
		t.Fatalf("schemas = %d", len(schemas))
	}
	if schemas[0].Name != "a" || schemas[1].Name != "b" {
		t.Errorf("order = %q, %q", schemas[0].Name, schemas[1].Name)
	}
}

func TestRegistryWrapsWithSchemaValidation(t *testing.T) {
	r := NewRegistry(newTestLogger())
	if err := r.Register(&echoTool{name: "echo", schema: echoSchema}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tool, _ := r.Get("echo")
	result, err := tool.Execute(context.Background(), json.RawMessage(`{"wrong":1}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected schema validation to reject missing required field")
	}
	if !strings.Contains(result.Content, "schema validation failed") {
		t.Errorf("content = %q", result.Content)
	}
}
