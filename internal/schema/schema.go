// Package schema turns the host's rendered action subform into a list of
// parameter fields.
//
// The host renders action parameters as arbitrary HTML. The extractor
// treats that HTML as a wire format: it keeps only named, user-facing
// controls and describes each one declaratively, so the consoles can build
// their own forms and the composer can rebuild the host's payload.
package schema

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/sydlexius/massaction/internal/massaction"
)

// FieldType names the kind of control a field came from. Input fields keep
// their HTML type attribute, so values beyond the constants below occur.
type FieldType string

// Common field types.
const (
	TypeText     FieldType = "text"
	TypeTextarea FieldType = "textarea"
	TypeSelect   FieldType = "select"
	TypeCheckbox FieldType = "checkbox"
	TypeRadio    FieldType = "radio"
	TypeNumber   FieldType = "number"
)

// DefaultCheckedValue is submitted for a checked checkbox or radio that has
// no value attribute.
const DefaultCheckedValue = "1"

// Option is one choice of a select field.
type Option struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

// Field describes one user-facing parameter of a specialized action.
type Field struct {
	Name     string    `json:"name"`
	Label    string    `json:"label"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Default  Value     `json:"default"`
	Options  []Option  `json:"options,omitempty"`
	Multiple bool      `json:"multiple,omitempty"`
	// CheckedValue is what a checkbox or radio submits when checked.
	CheckedValue string `json:"value,omitempty"`
}

// IsList reports whether the field's name carries the list marker.
func (f Field) IsList() bool {
	return strings.HasSuffix(f.Name, ListMarker)
}

// ListMarker is the trailing name suffix the host uses for array fields.
const ListMarker = "[]"

var skippedInputTypes = map[string]struct{}{
	"submit": {},
	"button": {},
	"hidden": {},
	"reset":  {},
	"image":  {},
}

// Extract parses an HTML fragment and returns its parameter fields.
//
// Inputs are collected first, then selects, then textareas, each in
// document order; a name seen earlier wins over later controls with the
// same name. Scripts are never executed. The result does not depend on
// anything but the fragment.
func Extract(fragment string) ([]Field, error) {
	root, err := parseFragment(fragment)
	if err != nil {
		return nil, &massaction.SchemaDerivationError{Cause: err}
	}

	var inputs, selects, textareas []*html.Node
	labelsByFor := make(map[string]*html.Node)
	walk(root, func(n *html.Node) {
		switch n.DataAtom {
		case atom.Input:
			inputs = append(inputs, n)
		case atom.Select:
			selects = append(selects, n)
		case atom.Textarea:
			textareas = append(textareas, n)
		case atom.Label:
			if id := attr(n, "for"); id != "" {
				if _, seen := labelsByFor[id]; !seen {
					labelsByFor[id] = n
				}
			}
		}
	})

	x := &extractor{root: root, labelsByFor: labelsByFor}

	var fields []Field
	for _, n := range inputs {
		if f, ok := x.input(n); ok {
			fields = append(fields, f)
		}
	}
	for _, n := range selects {
		if f, ok := x.selectField(n); ok {
			fields = append(fields, f)
		}
	}
	for _, n := range textareas {
		if f, ok := x.textarea(n); ok {
			fields = append(fields, f)
		}
	}

	return dedupe(fields), nil
}

// MissingRequired returns the names of required fields whose value is
// absent or blank. Multi-valued fields need at least one entry; everything
// else needs a non-blank string form.
func MissingRequired(fields []Field, values FormValues) []string {
	var missing []string
	for _, f := range fields {
		if !f.Required {
			continue
		}
		v, ok := values[f.Name]
		if !ok || v.Blank() || strings.TrimSpace(v.Str()) == "" {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

type extractor struct {
	root        *html.Node
	labelsByFor map[string]*html.Node
}

func (x *extractor) input(n *html.Node) (Field, bool) {
	name := attr(n, "name")
	typ := strings.ToLower(strings.TrimSpace(attr(n, "type")))
	if typ == "" {
		typ = string(TypeText)
	}
	if _, skip := skippedInputTypes[typ]; skip || !userFacing(name) {
		return Field{}, false
	}

	f := Field{
		Name:     name,
		Label:    x.label(n, name),
		Type:     FieldType(typ),
		Required: hasAttr(n, "required"),
		Default:  String(attr(n, "value")),
	}
	if f.Type == TypeCheckbox || f.Type == TypeRadio {
		f.Default = Bool(hasAttr(n, "checked"))
		f.CheckedValue = attr(n, "value")
		if f.CheckedValue == "" {
			f.CheckedValue = DefaultCheckedValue
		}
	}
	return f, true
}

func (x *extractor) selectField(n *html.Node) (Field, bool) {
	name := attr(n, "name")
	if !userFacing(name) {
		return Field{}, false
	}

	var options []Option
	walk(n, func(c *html.Node) {
		if c.DataAtom != atom.Option {
			return
		}
		label := strings.TrimSpace(textContent(c))
		value, ok := attrOK(c, "value")
		if !ok {
			value = label
		}
		options = append(options, Option{Value: value, Label: label, Selected: hasAttr(c, "selected")})
	})

	f := Field{
		Name:     name,
		Label:    x.label(n, name),
		Type:     TypeSelect,
		Required: hasAttr(n, "required"),
		Multiple: hasAttr(n, "multiple"),
		Options:  options,
	}

	if f.Multiple {
		selected := []string{}
		for _, o := range options {
			if o.Selected {
				selected = append(selected, o.Value)
			}
		}
		f.Default = List(selected...)
		return f, true
	}

	f.Default = String("")
	if len(options) > 0 {
		f.Default = String(options[0].Value)
	}
	for _, o := range options {
		if o.Selected {
			f.Default = String(o.Value)
			break
		}
	}
	return f, true
}

func (x *extractor) textarea(n *html.Node) (Field, bool) {
	name := attr(n, "name")
	if !userFacing(name) {
		return Field{}, false
	}
	return Field{
		Name:     name,
		Label:    x.label(n, name),
		Type:     TypeTextarea,
		Required: hasAttr(n, "required"),
		Default:  String(textContent(n)),
	}, true
}

// label resolves a control's caption: an explicit label[for] first, then
// the nearest label found walking preceding siblings and ancestors, then
// the field name.
func (x *extractor) label(ctrl *html.Node, name string) string {
	if id := attr(ctrl, "id"); id != "" {
		if lbl, ok := x.labelsByFor[id]; ok {
			if text := labelText(lbl); text != "" {
				return text
			}
			return name
		}
	}

	for n := ctrl; n != nil && n != x.root; {
		if n.DataAtom == atom.Label {
			if text := labelText(n); text != "" {
				return text
			}
			return name
		}
		if prev := previousElementSibling(n); prev != nil {
			n = prev
		} else {
			n = n.Parent
		}
	}
	return name
}

func labelText(lbl *html.Node) string {
	var own strings.Builder
	for c := lbl.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			own.WriteString(c.Data)
		}
	}
	if text := strings.TrimSpace(own.String()); text != "" {
		return text
	}
	return strings.TrimSpace(textContent(lbl))
}

func userFacing(name string) bool {
	return name != "" && !massaction.IsInternalField(name)
}

func dedupe(fields []Field) []Field {
	seen := make(map[string]struct{}, len(fields))
	out := make([]Field, 0, len(fields))
	for _, f := range fields {
		if _, dup := seen[f.Name]; dup {
			continue
		}
		seen[f.Name] = struct{}{}
		out = append(out, f)
	}
	return out
}

func parseFragment(fragment string) (*html.Node, error) {
	root := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), root)
	if err != nil {
		return nil, fmt.Errorf("parsing subform: %w", err)
	}
	for _, n := range nodes {
		root.AppendChild(n)
	}
	return root, nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			fn(c)
		}
		walk(c, fn)
	}
}

func previousElementSibling(n *html.Node) *html.Node {
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		if s.Type == html.ElementNode {
			return s
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
			collect(c)
		}
	}
	collect(n)
	return b.String()
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := attrOK(n, key)
	return ok
}
