// Package bridge implements the four massive action operations exposed
// over HTTP. It validates input and defers every item type, right and
// action semantic to the host platform.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/sydlexius/massaction/internal/auth"
	"github.com/sydlexius/massaction/internal/batch"
	"github.com/sydlexius/massaction/internal/host"
	"github.com/sydlexius/massaction/internal/massaction"
	"github.com/sydlexius/massaction/internal/schema"
)

// Validation messages returned to callers.
const (
	MsgNoItems     = "No items provided"
	MsgNoAction    = "No action provided"
	MsgNoProcessor = "No processor provided"
)

// RequestError is a client input error. Its message is shown verbatim.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string { return e.Message }

// structural keys of a process call; action data never overrides them.
var structuralKeys = map[string]struct{}{
	"items":         {},
	"initial_items": {},
	"action":        {},
	"processor":     {},
	"is_deleted":    {},
}

// Service runs the operations against a host platform.
type Service struct {
	platform host.Platform
	logger   *slog.Logger
}

// New creates a Service.
func New(platform host.Platform, logger *slog.Logger) *Service {
	return &Service{
		platform: platform,
		logger:   logger.With(slog.String("component", "bridge")),
	}
}

// ItemTypes returns the union of the host's type lists, deduplicated and
// sorted.
func (s *Service) ItemTypes(ctx context.Context, a *auth.Access) ([]string, error) {
	lists, err := s.platform.ItemTypes(ctx, a.Session())
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	out := []string{}
	for _, t := range lists.All() {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// AvailableActions lists the actions offered for itemType, minus those
// forbidden for it.
func (s *Service) AvailableActions(ctx context.Context, a *auth.Access, itemType string, isDeleted, single bool) (*massaction.ActionList, error) {
	if itemType == "" {
		return nil, massaction.ErrInvalidItemType
	}
	actions, err := s.platform.MassiveActions(ctx, a.Session(), itemType, isDeleted, single)
	if err != nil {
		return nil, err
	}

	forbidden := s.platform.ForbiddenActions(itemType)
	out := make([]massaction.ActionDescriptor, 0, len(actions))
	for _, act := range actions {
		if massaction.IsForbidden(act.Key, forbidden) {
			continue
		}
		out = append(out, massaction.NewActionDescriptor(act.Key, act.Label))
	}
	return &massaction.ActionList{
		Actions:   out,
		ItemType:  itemType,
		IsDeleted: massaction.Flag(isDeleted),
		Single:    massaction.Flag(single),
		Count:     len(out),
	}, nil
}

// Specialize renders the parameter form of an action for a selection and
// returns it with the payload the process operation expects.
func (s *Service) Specialize(ctx context.Context, a *auth.Access, req massaction.SpecializeRequest) (*massaction.SpecializeResponse, error) {
	items := req.Items.Normalize()
	if items.Empty() {
		return nil, &RequestError{Message: MsgNoItems}
	}
	if req.Action == "" {
		return nil, &RequestError{Message: MsgNoAction}
	}

	out, err := s.platform.Specialize(ctx, a.Session(), host.SpecializeInput{
		Items:              items,
		Action:             req.Action,
		IsDeleted:          bool(req.IsDeleted),
		SpecializeItemType: req.SpecializeItemType,
	})
	if err != nil {
		return nil, err
	}

	processor := out.Processor
	if processor == "" {
		processor = massaction.DefaultProcessor
	}
	if out.Items == nil {
		out.Items = items
	}

	data := make(map[string]any, len(out.Input)+5)
	for k, v := range out.Input {
		data[k] = v
	}
	data["items"] = out.Items
	data["initial_items"] = items
	data["action"] = req.Action
	data["processor"] = processor
	data["is_deleted"] = req.IsDeleted

	return &massaction.SpecializeResponse{FormHTML: out.FormHTML, DataForProcess: data}, nil
}

// Process applies an action to a selection. Host engine failures come back
// as *massaction.EngineError with the host's message.
func (s *Service) Process(ctx context.Context, a *auth.Access, req massaction.ProcessRequest) (*massaction.Result, error) {
	items := req.Items.Normalize()
	if items.Empty() {
		return nil, &RequestError{Message: MsgNoItems}
	}
	if req.Action == "" {
		return nil, &RequestError{Message: MsgNoAction}
	}
	if req.Processor == "" {
		return nil, &RequestError{Message: MsgNoProcessor}
	}

	initial := req.InitialItems.Normalize()
	if initial.Empty() {
		initial = items
	}

	input := make(map[string]any, len(req.ActionData))
	for k, v := range req.ActionData {
		if _, ok := structuralKeys[k]; ok {
			continue
		}
		input[k] = v
	}

	res, err := s.platform.Process(ctx, a.Session(), host.ProcessInput{
		Items:        items,
		InitialItems: initial,
		Action:       req.Action,
		Processor:    req.Processor,
		IsDeleted:    bool(req.IsDeleted),
		Input:        input,
	})
	if err != nil {
		return nil, err
	}
	if res.Messages == nil {
		res.Messages = []string{}
	}
	s.logger.Debug("action processed",
		"action", req.Action,
		"user", a.Identity(),
		"items", items.Count(),
		"ok", res.OK, "ko", res.KO, "noright", res.NoRight)
	return res, nil
}

// Schema specializes actionKey for the given items and derives the field
// schema of the rendered form.
func (s *Service) Schema(ctx context.Context, a *auth.Access, itemType string, ids []int, actionKey string) ([]schema.Field, error) {
	if itemType == "" {
		return nil, massaction.ErrInvalidItemType
	}
	resp, err := s.Specialize(ctx, a, massaction.SpecializeRequest{
		Items:  massaction.Selection{itemType: ids},
		Action: actionKey,
	})
	if err != nil {
		return nil, err
	}
	return schema.Extract(resp.FormHTML)
}

// Processor returns a batch.Processor that runs chunks through Process
// under a's session. Input errors and session loss are reported as engine
// errors so the batch engine does not retry them.
func (s *Service) Processor(a *auth.Access) batch.Processor {
	return batch.ProcessorFunc(func(ctx context.Context, req massaction.ProcessRequest) (*massaction.Result, error) {
		res, err := s.Process(ctx, a, req)
		if err == nil {
			return res, nil
		}
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return nil, &massaction.EngineError{Message: reqErr.Message}
		}
		if errors.Is(err, host.ErrSessionInvalid) {
			return nil, &massaction.EngineError{Message: "User not authenticated"}
		}
		return nil, err
	})
}
