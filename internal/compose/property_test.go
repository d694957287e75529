//go:build property

package compose

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/sydlexius/massaction/internal/schema"
)

// Property: ValidateRequired is false exactly when some required field is
// missing, blank or an empty list.
func TestValidateRequiredMatchesDefinition(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	// Each case encodes one field: required flag and a value shape.
	// shape 0 absent, 1 null, 2 blank string, 3 text, 4 empty list, 5 list, 6 bool
	values := []schema.Value{schema.Null(), schema.Null(), schema.String("  "), schema.String("v"), schema.List(), schema.List("a"), schema.Bool(false)}
	present := []bool{false, false, false, true, false, true, true}

	properties.Property("validateRequired matches its definition", prop.ForAll(
		func(required []bool, shapes []int) bool {
			var fields []schema.Field
			vals := schema.FormValues{}
			expect := true
			for i, req := range required {
				shape := 3
				if i < len(shapes) {
					shape = shapes[i]
				}
				name := "f" + string(rune('a'+i%26)) + string(rune('a'+i/26%26))
				fields = append(fields, schema.Field{Name: name, Required: req, Multiple: shape == 4 || shape == 5})
				if shape != 0 {
					vals[name] = values[shape]
				}
				if req && !present[shape] {
					expect = false
				}
			}
			return ValidateRequired(fields, vals) == expect
		},
		gen.SliceOfN(20, gen.Bool()),
		gen.SliceOf(gen.IntRange(0, 6)),
	))

	properties.TestingRun(t)
}
