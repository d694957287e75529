package massaction

import "strings"

// KeySeparator splits an action key into processor and action name.
const KeySeparator = ":"

// DefaultProcessor is the host's built-in action processor.
const DefaultProcessor = "MassiveAction"

// IsForbidden reports whether key matches an entry of forbidden. Entries are
// either full action keys or, for the host's built-in processor, bare
// action names such as "purge".
func IsForbidden(key string, forbidden []string) bool {
	for _, f := range forbidden {
		if f == key {
			return true
		}
		if Processor(key) == DefaultProcessor && f == ActionName(key) {
			return true
		}
	}
	return false
}

// ActionDescriptor describes one massive action offered for an item type.
type ActionDescriptor struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Category string `json:"category"`
}

// NewActionDescriptor builds a descriptor whose category is derived from
// the key's processor prefix.
func NewActionDescriptor(key, label string) ActionDescriptor {
	return ActionDescriptor{Key: key, Label: label, Category: Processor(key)}
}

// Processor returns the part of an action key before the first separator,
// or the whole key when it has none.
func Processor(key string) string {
	processor, _, _ := strings.Cut(key, KeySeparator)
	return processor
}

// ActionName returns the part of an action key after the first separator.
func ActionName(key string) string {
	if _, name, ok := strings.Cut(key, KeySeparator); ok {
		return name
	}
	return key
}

// ShortTypeName strips any namespace from an item type: "Glpi\Asset\Computer"
// becomes "Computer".
func ShortTypeName(itemType string) string {
	if i := strings.LastIndex(itemType, `\`); i >= 0 {
		return itemType[i+1:]
	}
	return itemType
}
