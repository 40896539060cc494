package publish

import (
	"reflect"
	"strings"
	"testing"

	"megadata-go/internal/megadata"
)

func mustParse(t *testing.T, id, schema string) *ModuleSchema {
	t.Helper()
	m, err := ParseModule(megadata.Module{ID: id, Schema: []byte(schema)})
	if err != nil {
		t.Fatalf("ParseModule(%s) error = %v", id, err)
	}
	return m
}

func testModules(t *testing.T) []*ModuleSchema {
	return []*ModuleSchema{
		mustParse(t, "erc721", `{"type":"object","properties":{"name":{"type":"string"},"image":{"type":"string"}}}`),
		mustParse(t, "style", `{"type":"object","properties":{"color":{"type":"string"}}}`),
		mustParse(t, "empty", `{"type":"object","properties":{"missing":{}}}`),
	}
}

func TestParseModule(t *testing.T) {
	m := mustParse(t, "erc721", `{"type":"object","properties":{"name":{},"image":{},"attributes":{}}}`)
	want := []string{"attributes", "image", "name"}
	if !reflect.DeepEqual(m.Properties, want) {
		t.Errorf("Properties = %v, want %v", m.Properties, want)
	}

	if _, err := ParseModule(megadata.Module{ID: "bad", Schema: []byte("{")}); err == nil {
		t.Error("ParseModule() with invalid JSON succeeded")
	}
}

func TestFormatForLedger(t *testing.T) {
	modules := testModules(t)
	data := map[string]any{"name": "One", "image": "ipfs://x", "color": "red", "secret": "s"}

	got := FormatForLedger(data, modules)
	want := map[string]any{
		"erc721": map[string]any{"name": "One", "image": "ipfs://x"},
		"style":  map[string]any{"color": "red"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FormatForLedger() = %v, want %v", got, want)
	}

	again := FormatForLedger(data, modules)
	if !reflect.DeepEqual(got, again) {
		t.Errorf("FormatForLedger() not idempotent: %v vs %v", got, again)
	}
}

func TestFormatForLedger_UndeclaredKeysNeverAppear(t *testing.T) {
	modules := testModules(t)
	data := map[string]any{"secret": 1, "internal": map[string]any{"name": "nested"}}

	got := FormatForLedger(data, modules)
	if len(got) != 0 {
		t.Errorf("FormatForLedger() = %v, want no sections", got)
	}
}

func TestValidateFormatted(t *testing.T) {
	modules := testModules(t)

	tests := []struct {
		name    string
		data    map[string]any
		wantErr string
	}{
		{name: "valid", data: map[string]any{"name": "One", "color": "red"}},
		{name: "wrong type", data: map[string]any{"name": 42}, wantErr: "erc721"},
		{name: "no sections", data: map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFormatted(FormatForLedger(tt.data, modules), modules)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("ValidateFormatted() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ValidateFormatted() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
