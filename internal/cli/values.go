package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sydlexius/massaction/internal/schema"
)

// uncheckedValue is sent for a checkbox or radio turned off.
const uncheckedValue = "0"

// applySets overrides form values with name=value assignments. Checkboxes
// and radios take a boolean, multi selects a comma separated list and all
// other fields the raw text.
func applySets(fields []schema.Field, values schema.FormValues, sets []string) error {
	byName := make(map[string]schema.Field, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}

	for _, set := range sets {
		name, raw, ok := strings.Cut(set, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return fmt.Errorf("invalid --set %q: want name=value", set)
		}
		f, known := byName[name]
		if !known {
			return fmt.Errorf("unknown field %q", name)
		}

		switch {
		case f.Type == schema.TypeCheckbox || f.Type == schema.TypeRadio:
			on, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("field %q: %q is not a boolean", name, raw)
			}
			if on {
				values[name] = schema.String(checkedValue(f))
			} else {
				values[name] = schema.String(uncheckedValue)
			}
		case f.Type == schema.TypeSelect && f.Multiple:
			var items []string
			for _, p := range strings.Split(raw, ",") {
				if p = strings.TrimSpace(p); p != "" {
					items = append(items, p)
				}
			}
			values[name] = schema.List(items...)
		default:
			values[name] = schema.String(raw)
		}
	}
	return nil
}

func checkedValue(f schema.Field) string {
	if f.CheckedValue == "" {
		return schema.DefaultCheckedValue
	}
	return f.CheckedValue
}

// initialValues seeds values from field defaults the way a submitted form
// would carry them: checkboxes as their checked value or "0".
func initialValues(fields []schema.Field) schema.FormValues {
	values := schema.InitialValues(fields)
	for _, f := range fields {
		if f.Type != schema.TypeCheckbox && f.Type != schema.TypeRadio {
			continue
		}
		if values[f.Name].Truthy() {
			values[f.Name] = schema.String(checkedValue(f))
		} else {
			values[f.Name] = schema.String(uncheckedValue)
		}
	}
	return values
}
