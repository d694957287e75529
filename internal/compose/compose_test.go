package compose

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/sydlexius/massaction/internal/massaction"
	"github.com/sydlexius/massaction/internal/schema"
)

func TestCompose_ListMarker(t *testing.T) {
	fields := []schema.Field{{Name: "tags[]", Type: schema.TypeSelect, Multiple: true}}

	tests := []struct {
		name  string
		value schema.Value
		want  []string
	}{
		{"scalar is wrapped", schema.String("x"), []string{"x"}},
		{"list passes through", schema.List("x", "y"), []string{"x", "y"}},
		{"null is empty", schema.Null(), []string{}},
		{"empty string is empty", schema.String(""), []string{}},
		{"checked box", schema.Bool(true), []string{"1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := Compose(fields, schema.FormValues{"tags[]": tt.value})
			if len(data) != 1 {
				t.Fatalf("data = %v", data)
			}
			got, ok := data["tags"].([]string)
			if !ok {
				t.Fatalf("tags is %T, want []string", data["tags"])
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("tags = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompose_ScalarsAndOmission(t *testing.T) {
	fields := []schema.Field{
		{Name: "field"},
		{Name: "is_recursive", Type: schema.TypeCheckbox},
		{Name: "comment", Type: schema.TypeTextarea},
		{Name: "note"},
	}
	values := schema.FormValues{
		"field":        schema.String("states_id"),
		"is_recursive": schema.Bool(true),
		"note":         schema.Null(),
		"unrelated":    schema.String("ignored"),
	}

	data := Compose(fields, values)
	want := ActionData{"field": "states_id", "is_recursive": true, "note": nil}
	if !reflect.DeepEqual(data, want) {
		t.Errorf("Compose = %#v, want %#v", data, want)
	}
	if _, present := data["comment"]; present {
		t.Error("fields without a value must be omitted")
	}
}

func TestValidate(t *testing.T) {
	fields := []schema.Field{{Name: "field", Required: true}, {Name: "tags[]", Required: true, Multiple: true}}

	if ValidateRequired(fields, schema.FormValues{"field": schema.String("x")}) {
		t.Error("missing tags should fail validation")
	}

	err := Validate(fields, schema.FormValues{"field": schema.String(" "), "tags[]": schema.List("a")})
	var ve *massaction.ValidationError
	if !errors.As(err, &ve) || !reflect.DeepEqual(ve.Fields, []string{"field"}) {
		t.Errorf("Validate error = %v", err)
	}

	if err := Validate(fields, schema.FormValues{"field": schema.String("x"), "tags[]": schema.List("a")}); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}

func TestBuild(t *testing.T) {
	fields := []schema.Field{{Name: "amount"}}
	req := Build("Computer", []int{3, 1, 3}, "MassiveAction:update", fields, schema.FormValues{"amount": schema.String("5")})

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"items":{"Computer":[3,1]},"action":"MassiveAction:update","processor":"MassiveAction","initial_items":{"Computer":[3,1]},"is_deleted":0,"action_data":{"amount":"5"}}`
	if string(data) != want {
		t.Errorf("request = %s\nwant %s", data, want)
	}
}
