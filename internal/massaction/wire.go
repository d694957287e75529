package massaction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Flag is a boolean that accepts 0/1, "0"/"1" and true/false on the wire
// and encodes as 0 or 1.
type Flag bool

// MarshalJSON encodes f as 0 or 1.
func (f Flag) MarshalJSON() ([]byte, error) {
	if f {
		return []byte("1"), nil
	}
	return []byte("0"), nil
}

// UnmarshalJSON decodes numbers, numeric strings and booleans.
func (f *Flag) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	switch s {
	case "", "null", "false":
		*f = false
		return nil
	case "true":
		*f = true
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid flag %s", data)
	}
	*f = n != 0
	return nil
}

// ProcessRequest is the body of a process_action call.
type ProcessRequest struct {
	Items        Selection      `json:"items"`
	Action       string         `json:"action"`
	Processor    string         `json:"processor,omitempty"`
	InitialItems Selection      `json:"initial_items,omitempty"`
	IsDeleted    Flag           `json:"is_deleted"`
	ActionData   map[string]any `json:"action_data,omitempty"`
}

// SpecializeRequest is the body of a specialize_action call.
type SpecializeRequest struct {
	Items              Selection `json:"items"`
	Action             string    `json:"action"`
	IsDeleted          Flag      `json:"is_deleted"`
	SpecializeItemType string    `json:"specialize_itemtype,omitempty"`
}

// SpecializeResponse carries the rendered parameter form and the payload
// the process endpoint expects for it.
type SpecializeResponse struct {
	FormHTML       string         `json:"form_html"`
	DataForProcess map[string]any `json:"data_for_process"`
}

// ActionList is the body returned by available_actions.
type ActionList struct {
	Actions   []ActionDescriptor `json:"actions"`
	ItemType  string             `json:"itemtype"`
	IsDeleted Flag               `json:"is_deleted"`
	Single    Flag               `json:"single"`
	Count     int                `json:"count"`
}

// UnmarshalJSON accepts IDs as numbers or numeric strings, in a list or as
// an object keyed by ID as the host's own forms send them.
func (s *Selection) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("items must be an object keyed by item type: %w", err)
	}
	out := make(Selection, len(raw))
	for itemType, v := range raw {
		ids, err := decodeIDs(v)
		if err != nil {
			return fmt.Errorf("items[%s]: %w", itemType, err)
		}
		out[itemType] = ids
	}
	*s = out
	return nil
}

func decodeIDs(data json.RawMessage) ([]int, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		var byKey map[string]json.RawMessage
		if err := json.Unmarshal(data, &byKey); err != nil {
			return nil, fmt.Errorf("expected a list of ids")
		}
		for _, v := range byKey {
			list = append(list, v)
		}
	}
	ids := make([]int, 0, len(list))
	for _, v := range list {
		s := strings.Trim(string(bytes.TrimSpace(v)), `"`)
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid id %s", v)
		}
		ids = append(ids, n)
	}
	return ids, nil
}
