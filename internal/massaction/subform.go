package massaction

import (
	"net/url"
	"strconv"
	"strings"
)

// SubformPath is the host endpoint that renders an action's parameter form.
const SubformPath = "/ajax/dropdownMassiveAction.php"

var internalFieldNames = map[string]struct{}{
	"action":           {},
	"container":        {},
	"is_deleted":       {},
	"_glpi_csrf_token": {},
	"sub_form":         {},
}

var internalFieldPrefixes = []string{
	"actions[",
	"action_filter[",
	"items[",
	"initial_items[",
}

// IsInternalField reports whether a form field belongs to the host's subform
// protocol rather than to the action's parameters.
func IsInternalField(name string) bool {
	if _, ok := internalFieldNames[name]; ok {
		return true
	}
	for _, p := range internalFieldPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// SubformValues builds the form-encoded body the host expects when asked to
// render the parameters of actionKey for the given items. Only the chosen
// action is declared, which is enough for the host to render its form.
func SubformValues(itemType string, ids []int, actionKey string) url.Values {
	short := ShortTypeName(itemType)

	v := url.Values{}
	v.Set("action", actionKey)
	v.Set("container", "SearchTableFor"+short)
	v.Set("is_deleted", "0")
	v.Add("action_filter["+actionKey+"][]", short)
	v.Set("actions["+actionKey+"]", actionKey)
	for _, id := range UniqueIDs(ids) {
		s := strconv.Itoa(id)
		v.Set("items["+short+"]["+s+"]", s)
		v.Set("initial_items["+short+"]["+s+"]", s)
	}
	v.Set("sub_form", "1")
	return v
}
