package console

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/a-h/templ"

	"github.com/sydlexius/massaction/internal/batch"
	"github.com/sydlexius/massaction/internal/schema"
)

func render(t *testing.T, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	if err := c.Render(context.Background(), &buf); err != nil {
		t.Fatalf("rendering: %v", err)
	}
	return buf.String()
}

func TestErrorBanner_Escapes(t *testing.T) {
	out := render(t, ErrorBanner(`<script>alert("x")</script>`))
	if strings.Contains(out, "<script>") {
		t.Errorf("banner not escaped: %s", out)
	}
	if !strings.Contains(out, `class="banner error"`) {
		t.Errorf("missing banner class: %s", out)
	}
}

func TestValuesFromForm(t *testing.T) {
	fields := []schema.Field{
		{Name: "name", Type: schema.TypeText},
		{Name: "notify", Type: schema.TypeCheckbox, CheckedValue: "yes"},
		{Name: "plain", Type: schema.TypeCheckbox},
		{Name: "mode", Type: schema.TypeRadio, CheckedValue: "fast"},
		{Name: "groups[]", Type: schema.TypeSelect, Multiple: true},
		{Name: "state", Type: schema.TypeSelect},
		{Name: "comment", Type: schema.TypeTextarea},
	}
	form := url.Values{
		"name":     {"printer"},
		"plain":    {"1"},
		"groups[]": {"3", "5"},
		"state":    {"2"},
		"comment":  {"line one\nline two"},
	}

	got := ValuesFromForm(fields, form)
	want := schema.FormValues{
		"name":     schema.String("printer"),
		"notify":   schema.String("0"),
		"plain":    schema.String("1"),
		"mode":     schema.String("0"),
		"groups[]": schema.List("3", "5"),
		"state":    schema.String("2"),
		"comment":  schema.String("line one\nline two"),
	}
	for name, w := range want {
		if !got[name].Equal(w) {
			t.Errorf("%s = %v, want %v", name, got[name], w)
		}
	}

	form.Set("notify", "on")
	if v := ValuesFromForm(fields, form)["notify"]; !v.Equal(schema.String("yes")) {
		t.Errorf("checked box = %v, want its checked value", v)
	}
}

func TestValuesFromForm_EmptyMultiSelect(t *testing.T) {
	fields := []schema.Field{{Name: "tags[]", Type: schema.TypeSelect, Multiple: true}}
	v := ValuesFromForm(fields, url.Values{})["tags[]"]
	if v.Kind() != schema.KindList || !v.Blank() {
		t.Errorf("empty multi select = %v, want empty list", v)
	}
}

func TestParamsPage(t *testing.T) {
	fields := []schema.Field{
		{Name: "field", Label: "Field", Type: schema.TypeSelect, Required: true, Default: schema.String("b"),
			Options: []schema.Option{{Value: "a", Label: "A"}, {Value: "b", Label: "B & C"}}},
		{Name: "value", Label: "Value", Type: schema.TypeText, Default: schema.String(`"quoted"`)},
		{Name: "recursive", Label: "Recursive", Type: schema.TypeCheckbox, Default: schema.Bool(true), CheckedValue: "1"},
	}
	p := Page{BasePath: "/ma", CSRF: "tok"}
	out := render(t, ParamsPage(p, ParamsView{
		ItemType: "Computer",
		Action:   "MassiveAction:update",
		IDs:      []int{3, 1},
		Fields:   fields,
		Missing:  []string{"field"},
	}))

	for _, want := range []string{
		`action="/ma/console/run"`,
		`name="csrf_token" value="tok"`,
		`name="ids" value="3,1"`,
		`<option value="b" selected>B &amp; C</option>`,
		`value="&#34;quoted&#34;"`,
		`name="recursive" value="1" checked`,
		"Please fill in all required action fields: field",
		`name="schema"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("params page missing %q", want)
		}
	}
}

func TestParamsPage_SchemaFailure(t *testing.T) {
	out := render(t, ParamsPage(Page{}, ParamsView{
		ItemType: "Computer",
		Action:   "MassiveAction:delete",
		IDs:      []int{1},
		Error:    MsgSchemaFailed,
	}))
	if !strings.Contains(out, MsgSchemaFailed) {
		t.Error("expected schema failure banner")
	}
	if !strings.Contains(out, `<button type="submit">Run</button>`) {
		t.Error("flow should stay usable after a schema failure")
	}
	if strings.Contains(out, "takes no parameters") {
		t.Error("should not claim the action has no parameters")
	}
}

func TestJobPage(t *testing.T) {
	running := &batch.JobDetail{JobRecord: batch.JobRecord{
		ID: "0d2f7a5e-aaaa", Status: batch.StatusRunning, ItemType: "Computer", ActionKey: "MassiveAction:delete",
		TotalItems: 10, Processed: 4, OK: 3, KO: 1, Errors: []string{"chunk 1 <failed>"},
	}}
	out := render(t, JobPage(Page{CSRF: "tok"}, running))
	for _, want := range []string{
		`http-equiv="refresh"`,
		`<progress max="100" value="40">`,
		`action="/console/jobs/0d2f7a5e-aaaa/cancel"`,
		"chunk 1 &lt;failed&gt;",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("running job page missing %q", want)
		}
	}

	done := &batch.JobDetail{JobRecord: batch.JobRecord{ID: "j2", Status: batch.StatusCompleted, TotalItems: 2, Processed: 2}}
	out = render(t, JobPage(Page{}, done))
	if strings.Contains(out, "refresh") || strings.Contains(out, "/cancel") {
		t.Errorf("finished job should neither refresh nor offer cancel: %s", out)
	}
}

func TestSettingsPage_ReadOnly(t *testing.T) {
	out := render(t, SettingsPage(Page{}, SettingsView{APIEnabled: true}))
	if strings.Contains(out, "<form") {
		t.Error("read-only settings page should not render forms")
	}
	if !strings.Contains(out, "<strong>enabled</strong>") {
		t.Error("expected API state")
	}
}

func TestItemTypesPage_EscapesPath(t *testing.T) {
	out := render(t, ItemTypesPage(Page{}, []string{`Glpi\Asset\Computer`}, ""))
	if !strings.Contains(out, `href="/console/actions/Glpi%5CAsset%5CComputer"`) {
		t.Errorf("unexpected link: %s", out)
	}
	if !strings.Contains(out, ">Computer</a>") {
		t.Errorf("expected short type name: %s", out)
	}
}
