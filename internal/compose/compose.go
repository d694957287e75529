// Package compose rebuilds the host's processing payload from the values an
// operator entered into a derived parameter form.
package compose

import (
	"strings"

	"github.com/sydlexius/massaction/internal/massaction"
	"github.com/sydlexius/massaction/internal/schema"
)

// ActionData is the per-field parameter set forwarded to the processor.
// Values are strings, booleans, string lists or nil.
type ActionData map[string]any

// Compose flattens form values into action data. Fields whose name ends in
// the list marker are sent under their base name as a list: scalars are
// wrapped and null or empty input becomes an empty list. Other fields pass
// through unchanged. Fields without a value are left out so the processor
// applies its own default.
func Compose(fields []schema.Field, values schema.FormValues) ActionData {
	data := make(ActionData, len(fields))
	for _, f := range fields {
		v, ok := values[f.Name]
		if !ok {
			continue
		}
		if base, isList := strings.CutSuffix(f.Name, schema.ListMarker); isList {
			data[base] = asList(v)
			continue
		}
		data[f.Name] = v.Any()
	}
	return data
}

func asList(v schema.Value) []string {
	switch v.Kind() {
	case schema.KindList:
		return v.Strings()
	case schema.KindNull:
		return []string{}
	case schema.KindBool:
		if v.Truthy() {
			return []string{"1"}
		}
		return []string{"0"}
	default:
		if v.Str() == "" {
			return []string{}
		}
		return []string{v.Str()}
	}
}

// ValidateRequired reports whether every required field has a value.
func ValidateRequired(fields []schema.Field, values schema.FormValues) bool {
	return len(schema.MissingRequired(fields, values)) == 0
}

// Validate is ValidateRequired returning the missing fields as a
// *massaction.ValidationError.
func Validate(fields []schema.Field, values schema.FormValues) error {
	if missing := schema.MissingRequired(fields, values); len(missing) > 0 {
		return &massaction.ValidationError{Fields: missing}
	}
	return nil
}

// Request builds the full process_action body for one item type: the
// selection is declared both as items and as initial items, and the
// processor is the action key's prefix.
func Request(itemType string, ids []int, actionKey string, data ActionData) massaction.ProcessRequest {
	sel := massaction.Selection{itemType: massaction.UniqueIDs(ids)}
	return massaction.ProcessRequest{
		Items:        sel,
		Action:       actionKey,
		Processor:    massaction.Processor(actionKey),
		InitialItems: sel,
		ActionData:   data,
	}
}

// Build is Compose followed by Request.
func Build(itemType string, ids []int, actionKey string, fields []schema.Field, values schema.FormValues) massaction.ProcessRequest {
	return Request(itemType, ids, actionKey, Compose(fields, values))
}
