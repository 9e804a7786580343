package httpapi

import (
	"context"

	"zord/internal/coordinator"
	"zord/pkg/types"
)

// Engine is the subset of the model engine the HTTP layer reports on.
type Engine interface {
	Status() types.StatusResponse
	ModelName() string
	Loaded() bool
	Ready() bool
}

// coordinatorService adapts a coordinator and its engine to Service.
type coordinatorService struct {
	coord *coordinator.Coordinator
	eng   Engine
}

// NewService wires the request coordinator behind the HTTP Service interface.
func NewService(c *coordinator.Coordinator, eng Engine) Service {
	return &coordinatorService{coord: c, eng: eng}
}

func (s *coordinatorService) Generate(ctx context.Context, clientID string, req types.GenerateRequest, onToken func(string) error) (types.GenerateResponse, error) {
	resp, cerr := s.coord.Handle(ctx, coordinator.Request{
		ClientID:    clientID,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Reasoning:   req.Reasoning,
	}, onToken)
	if cerr != nil {
		return types.GenerateResponse{}, toStatusError(cerr)
	}
	return resp.Wire(), nil
}

func (s *coordinatorService) Usage(ctx context.Context, clientID string) (types.UsageSnapshot, error) {
	u, cerr := s.coord.Usage(ctx, clientID)
	if cerr != nil {
		return types.UsageSnapshot{}, toStatusError(cerr)
	}
	return *coordinator.Snapshot(u, s.coord.Limits()), nil
}

func (s *coordinatorService) Status() types.StatusResponse { return s.eng.Status() }
func (s *coordinatorService) ModelName() string            { return s.eng.ModelName() }
func (s *coordinatorService) Loaded() bool                 { return s.eng.Loaded() }
func (s *coordinatorService) Ready() bool                  { return s.eng.Ready() }

func toStatusError(e *coordinator.Error) statusError {
	reason := e.Reason
	if reason == "" {
		reason = string(e.Kind)
	}
	return statusError{msg: e.Message, code: e.StatusCode(), reason: reason}
}
