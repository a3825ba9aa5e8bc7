package tool

import "testing"

func TestSchemaForType(t *testing.T) {
	type args struct {
		Text   string `json:"text" desc:"input text"`
		Offset int    `json:"offset,omitempty"`
		hidden bool
	}
	_ = args{hidden: false}

	schema := schemaForType[args]()
	if schema["type"] != "object" {
		t.Fatalf("unexpected schema type: %v", schema["type"])
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		t.Fatalf("missing properties")
	}
	text, ok := props["text"].(map[string]any)
	if !ok {
		t.Fatalf("missing property text")
	}
	if text["description"] != "input text" {
		t.Fatalf("desc tag not applied: %v", text["description"])
	}
	if _, ok := props["hidden"]; ok {
		t.Fatalf("unexported field leaked into schema")
	}
	required, _ := schema["required"].([]string)
	if len(required) != 1 || required[0] != "text" {
		t.Fatalf("required = %v, want [text]", required)
	}
}

func TestSchemaForNestedTypes(t *testing.T) {
	type inner struct {
		Count float64 `json:"count"`
	}
	type args struct {
		Items []inner        `json:"items"`
		Meta  map[string]any `json:"meta,omitempty"`
	}
	schema := schemaForType[args]()
	props := schema["properties"].(map[string]any)
	items := props["items"].(map[string]any)
	if items["type"] != "array" {
		t.Fatalf("items type = %v", items["type"])
	}
	inner0 := items["items"].(map[string]any)
	innerProps := inner0["properties"].(map[string]any)
	if innerProps["count"].(map[string]any)["type"] != "number" {
		t.Fatalf("nested number mapped wrong: %v", innerProps["count"])
	}
	if props["meta"].(map[string]any)["type"] != "object" {
		t.Fatalf("map should map to object")
	}
}
