package console

import (
	"net/url"
	"slices"

	"github.com/sydlexius/massaction/internal/schema"
)

// uncheckedValue is submitted for a checkbox or radio left unchecked.
const uncheckedValue = "0"

// ValuesFromForm reads the operator's input for fields from a submitted
// form. Checkboxes and radios yield their checked value or "0", multi
// selects yield the chosen options and everything else its text.
// Radios are rendered as single checkboxes, so only the first control of
// a group reaches the form.
func ValuesFromForm(fields []schema.Field, form url.Values) schema.FormValues {
	vals := make(schema.FormValues, len(fields))
	for _, f := range fields {
		switch {
		case f.Type == schema.TypeCheckbox || f.Type == schema.TypeRadio:
			if form.Has(f.Name) {
				vals[f.Name] = schema.String(checkedValue(f))
			} else {
				vals[f.Name] = schema.String(uncheckedValue)
			}
		case f.Type == schema.TypeSelect && f.Multiple:
			vals[f.Name] = schema.List(form[f.Name]...)
		default:
			vals[f.Name] = schema.String(form.Get(f.Name))
		}
	}
	return vals
}

func checkedValue(f schema.Field) string {
	if f.CheckedValue == "" {
		return schema.DefaultCheckedValue
	}
	return f.CheckedValue
}

// inputType maps a field type onto the input rendered for it. Numbers are
// plain text so host formats such as "1,5" survive.
func inputType(t schema.FieldType) string {
	switch t {
	case schema.TypeNumber, "hidden", "":
		return "text"
	default:
		return string(t)
	}
}

func renderField(h *htmlWriter, f schema.Field, v schema.Value, missing bool) {
	id := "f-" + f.Name
	label := f.Label
	if label == "" {
		label = f.Name
	}
	if f.Required {
		label += " *"
	}

	h.raw(`<div class="field">`)
	if missing {
		h.raw(`<div class="banner error">Required</div>`)
	}

	switch {
	case f.Type == schema.TypeCheckbox || f.Type == schema.TypeRadio:
		h.raw(`<label><input type="checkbox" id="`, esc(id), `" name="`, esc(f.Name), `" value="`, esc(checkedValue(f)), `"`)
		if v.Truthy() {
			h.raw(` checked`)
		}
		h.raw(`> `)
		h.text(label)
		h.raw(`</label>`)

	case f.Type == schema.TypeSelect:
		h.raw(`<label for="`, esc(id), `">`)
		h.text(label)
		h.raw(`</label><select id="`, esc(id), `" name="`, esc(f.Name), `"`)
		if f.Multiple {
			h.raw(` multiple`)
		}
		h.raw(`>`)
		chosen := v.Strings()
		for _, o := range f.Options {
			h.raw(`<option value="`, esc(o.Value), `"`)
			if (f.Multiple && slices.Contains(chosen, o.Value)) || (!f.Multiple && v.Str() == o.Value) {
				h.raw(` selected`)
			}
			h.raw(`>`)
			h.text(o.Label)
			h.raw(`</option>`)
		}
		h.raw(`</select>`)

	case f.Type == schema.TypeTextarea:
		h.raw(`<label for="`, esc(id), `">`)
		h.text(label)
		h.raw(`</label><textarea id="`, esc(id), `" name="`, esc(f.Name), `">`)
		h.text(v.Str())
		h.raw(`</textarea>`)

	default:
		h.raw(`<label for="`, esc(id), `">`)
		h.text(label)
		h.raw(`</label><input type="`, esc(inputType(f.Type)), `" id="`, esc(id), `" name="`, esc(f.Name), `" value="`, esc(v.Str()), `">`)
	}
	h.raw(`</div>`)
}
