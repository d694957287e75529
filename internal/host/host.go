// Package host defines the boundary between the bridge and the ITSM
// platform that owns items, rights and the massive action engine.
package host

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sydlexius/massaction/internal/massaction"
)

// ErrSessionInvalid is returned when the host does not recognize a session.
var ErrSessionInvalid = errors.New("host session is invalid")

// Session identifies the caller on the host.
type Session struct {
	Token string
}

// SessionInfo is what the host knows about an authenticated session.
type SessionInfo struct {
	UserID      int
	UserName    string
	ProfileID   int
	ProfileName string
	// Rights maps a right name to its bitmask in the active profile.
	Rights map[string]int
}

// HasProfile reports whether the session has an active profile.
func (s *SessionInfo) HasProfile() bool {
	return s != nil && s.ProfileID > 0
}

// ItemTypeLists are the host's configured type lists an operator may act on.
type ItemTypeLists struct {
	Assets      []string
	Documents   []string
	Consumables []string
	Infocoms    []string
}

// All returns the four lists concatenated, in list order.
func (l ItemTypeLists) All() []string {
	out := make([]string, 0, len(l.Assets)+len(l.Documents)+len(l.Consumables)+len(l.Infocoms))
	out = append(out, l.Assets...)
	out = append(out, l.Documents...)
	out = append(out, l.Consumables...)
	return append(out, l.Infocoms...)
}

// SpecializeInput selects the items and action whose parameter form to render.
type SpecializeInput struct {
	Items              massaction.Selection
	Action             string
	IsDeleted          bool
	SpecializeItemType string
}

// SpecializeOutput is the rendered form plus the stage input the host
// carries over to processing.
type SpecializeOutput struct {
	FormHTML  string
	Processor string
	Items     massaction.Selection
	// Input holds the extra parameters of the specialize stage.
	Input map[string]any
}

// ProcessInput is one call to the host's processing engine.
type ProcessInput struct {
	Items        massaction.Selection
	InitialItems massaction.Selection
	Action       string
	Processor    string
	IsDeleted    bool
	// Input holds the action parameters, merged flat with the fields above.
	Input map[string]any
}

// Stage names reported by StageError.
const (
	StageInitial    = "initial"
	StageSpecialize = "specialize"
)

// StageError reports a failure in one of the host's preparation stages.
type StageError struct {
	Stage   string
	Message string
}

func (e *StageError) Error() string {
	stage := e.Stage
	if stage != "" {
		stage = strings.ToUpper(stage[:1]) + stage[1:]
	}
	return fmt.Sprintf("%s stage failed: %s", stage, e.Message)
}

// Platform is the host surface the bridge needs.
type Platform interface {
	ItemTypes(ctx context.Context, s Session) (ItemTypeLists, error)
	// MassiveActions returns massaction.ErrInvalidItemType for unknown types
	// and *massaction.ActionsUnavailableError when the host lists nothing.
	MassiveActions(ctx context.Context, s Session, itemType string, isDeleted, single bool) ([]massaction.ActionDescriptor, error)
	ForbiddenActions(itemType string) []string
	Specialize(ctx context.Context, s Session, in SpecializeInput) (*SpecializeOutput, error)
	// Process returns *massaction.EngineError when the engine rejects the call.
	Process(ctx context.Context, s Session, in ProcessInput) (*massaction.Result, error)
	Session(ctx context.Context, token string) (*SessionInfo, error)
}
