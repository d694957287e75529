package itsm

import (
	"encoding/json"
	"strconv"
	"strings"
)

type glpiConfig struct {
	CfgGLPI struct {
		ProjectAssetTypes []string `json:"project_asset_types"`
		DocumentTypes     []string `json:"document_types"`
		ConsumablesTypes  []string `json:"consumables_types"`
		InfocomTypes      []string `json:"infocom_types"`
	} `json:"cfg_glpi"`
}

type fullSession struct {
	Session struct {
		UserID        int            `json:"glpiID"`
		UserName      string         `json:"glpiname"`
		ActiveProfile map[string]any `json:"glpiactiveprofile"`
	} `json:"session"`
}

type massiveAction struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

type applyRequest struct {
	IDs   []int          `json:"ids"`
	Input map[string]any `json:"input"`
}

type applyResult struct {
	OK       int               `json:"ok"`
	KO       int               `json:"ko"`
	NoRight  int               `json:"noright"`
	Messages []json.RawMessage `json:"messages"`
}

// apiError is the host's error body: a JSON array of an error code and a
// human readable message.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

const (
	codeSessionInvalid = "ERROR_SESSION_TOKEN_INVALID"
	codeSessionMissing = "ERROR_SESSION_TOKEN_MISSING"
	codeUnknownType    = "ERROR_RESOURCE_NOT_FOUND_NOR_COMMONDBTM"
	codeItemNotFound   = "ERROR_ITEM_NOT_FOUND"
)

func parseAPIError(status int, body []byte) *apiError {
	e := &apiError{Status: status}
	var parts []string
	if err := json.Unmarshal(body, &parts); err == nil && len(parts) > 0 {
		e.Code = parts[0]
		if len(parts) > 1 {
			e.Message = parts[1]
		}
		return e
	}
	if msg := messageText(body); msg != "" {
		e.Message = msg
		return e
	}
	e.Message = strings.TrimSpace(string(body))
	return e
}

// messageText normalizes a host message, which may be a plain string or an
// object with a "message" member.
func messageText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Message
	}
	return ""
}

func profileID(profile map[string]any) int {
	switch v := profile["id"].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func profileRights(profile map[string]any) map[string]int {
	rights := make(map[string]int)
	for k, v := range profile {
		if n, ok := v.(float64); ok && k != "id" {
			rights[k] = int(n)
		}
	}
	return rights
}
