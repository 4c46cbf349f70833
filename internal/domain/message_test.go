package domain

import (
	"encoding/json"
	"testing"
)

func TestMessageOmitsEmptyStreamFields(t *testing.T) {
	msg := Message{ID: "m1", Role: RoleUser, Content: "hello"}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// In-flight fields must not pollute persisted user turns.
	for _, field := range []string{"reasoning", "finish_reason", "error_text", "usage", "citations", "parent_message_id"} {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			t.Fatal(err)
		}
		if _, present := m[field]; present {
			t.Errorf("empty field %q serialized: %s", field, data)
		}
	}
}

func TestMessageCarriesToolCalls(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{
			{ID: "call-1", Name: "web_search", Arguments: json.RawMessage(`{"query":"go generics"}`)},
		},
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Name != "web_search" {
		t.Errorf("tool calls mismatch: got %+v", got.ToolCalls)
	}
}

func TestRoleConstants(t *testing.T) {
	roles := map[string]string{
		"system":    RoleSystem,
		"user":      RoleUser,
		"assistant": RoleAssistant,
		"tool":      RoleTool,
		"context":   RoleContext,
	}
	for expected, got := range roles {
		if got != expected {
			t.Errorf("Role %q = %q, want %q", expected, got, expected)
		}
	}
}

func TestStatusConstants(t *testing.T) {
	statuses := map[string]string{
		"pending":   StatusPending,
		"streaming": StatusStreaming,
		"done":      StatusDone,
		"error":     StatusError,
	}
	for expected, got := range statuses {
		if got != expected {
			t.Errorf("Status %q = %q, want %q", expected, got, expected)
		}
	}
}
