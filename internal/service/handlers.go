package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rtext-lang/rtext/internal/logger"
	"github.com/rtext-lang/rtext/internal/tooling"
	"github.com/rtext-lang/rtext/internal/wire"
)

type handlerFunc func(ctx context.Context, c *conn, m wire.Message) (any, error)

func (s *Service) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		wire.CommandLoadModel:       s.handleLoadModel,
		wire.CommandContentComplete: s.handleContentComplete,
		wire.CommandLinkTargets:     s.handleLinkTargets,
		wire.CommandFindElements:    s.handleFindElements,
		wire.CommandStop:            s.handleStop,
	}
}

// dispatch answers one request. Requests without a positive invocation id
// are dropped since no answer could be correlated.
func (s *Service) dispatch(ctx context.Context, c *conn, m wire.Message) {
	log := s.logger.With(
		zap.Int(logger.FieldConn, c.id),
		zap.String(logger.FieldCommand, m.Command),
		zap.Int(logger.FieldInvocationID, m.InvocationID),
	)

	if m.Type != wire.TypeRequest || m.InvocationID <= 0 {
		log.Warn("dropping malformed message", zap.String("type", string(m.Type)))
		return
	}

	handle, ok := s.handlers()[m.Command]
	if !ok {
		log.Info("unknown command")
		s.reply(c, log, wire.NewUnknownCommand(m.InvocationID, m.Command))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("request handler panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	start := time.Now()
	payload, err := handle(ctx, c, m)
	if err != nil {
		log.Warn("request failed", zap.Error(err))
	}

	resp, err := wire.NewResponse(m.InvocationID, payload)
	if err != nil {
		log.Error("failed to build response", zap.Error(err))
		return
	}
	s.reply(c, log, resp)
	log.Debug("request handled", zap.Int64(logger.FieldDurationMS, time.Since(start).Milliseconds()))
}

func (s *Service) reply(c *conn, log *zap.Logger, m wire.Message) {
	if err := c.send(m); err != nil {
		log.Error("failed to encode message", zap.Error(err))
	}
}

// handleLoadModel streams strictly increasing progress before the response.
// Progress is flushed right away so the frontend sees it during the load;
// whatever the client does not take yet stays queued.
func (s *Service) handleLoadModel(ctx context.Context, c *conn, m wire.Message) (any, error) {
	last := 0
	progress := func(percent int) {
		if percent <= last || percent > 100 {
			return
		}
		last = percent
		if err := c.send(wire.NewProgress(m.InvocationID, percent)); err != nil {
			return
		}
		if err := c.flush(writeSlice); err != nil {
			s.logger.Debug("progress flush failed", zap.Int(logger.FieldConn, c.id), zap.Error(err))
		}
	}

	result, err := s.backend.LoadModel(ctx, progress)
	if err != nil {
		return wire.LoadModelResponse{Problems: []wire.FileProblems{}}, fmt.Errorf("load model: %w", err)
	}

	problems := result.Problems
	if problems == nil {
		problems = []wire.FileProblems{}
	}
	s.logger.Info("model loaded", zap.Int(logger.FieldCount, result.TotalProblems))
	return wire.LoadModelResponse{Problems: problems, TotalProblems: result.TotalProblems}, nil
}

func (s *Service) handleContentComplete(_ context.Context, _ *conn, m wire.Message) (any, error) {
	var req wire.ContextRequest
	if err := m.Bind(&req); err != nil {
		return wire.CompleteResponse{Options: []wire.Option{}}, err
	}

	lines, col := contextPosition(req)
	options := s.backend.Complete(lines, col)

	out := make([]wire.Option, 0, len(options))
	for _, o := range options {
		display := o.Text
		if o.Extra != "" {
			display += " " + o.Extra
		}
		out = append(out, wire.Option{Insert: o.Text, Display: display})
	}
	return wire.CompleteResponse{Options: out}, nil
}

func (s *Service) handleLinkTargets(_ context.Context, _ *conn, m wire.Message) (any, error) {
	empty := wire.LinkTargetsResponse{Targets: []wire.Target{}}

	var req wire.ContextRequest
	if err := m.Bind(&req); err != nil {
		return empty, err
	}

	lines, col := contextPosition(req)
	link, ok := s.backend.LinkTargets(lines, col)
	if !ok {
		return empty, nil
	}

	current := lines[len(lines)-1]
	targets := link.Targets
	if targets == nil {
		targets = []wire.Target{}
	}
	return wire.LinkTargetsResponse{
		BeginColumn: tooling.CharOffset(current, link.Begin) + 1,
		EndColumn:   tooling.CharOffset(current, link.End),
		Targets:     targets,
	}, nil
}

func (s *Service) handleFindElements(ctx context.Context, _ *conn, m wire.Message) (any, error) {
	empty := wire.FindElementsResponse{Elements: []wire.Target{}}

	var req wire.FindElementsRequest
	if err := m.Bind(&req); err != nil {
		return empty, err
	}

	elements, total, err := s.backend.FindElements(ctx, req.SearchPattern)
	if err != nil {
		return empty, err
	}
	if elements == nil {
		elements = []wire.Target{}
	}
	return wire.FindElementsResponse{Elements: elements, TotalElements: total}, nil
}

func (s *Service) handleStop(context.Context, *conn, wire.Message) (any, error) {
	s.stopped = true
	return nil, nil
}

// contextPosition converts the 1-based character column of a request into a
// byte offset into the last context line
func contextPosition(req wire.ContextRequest) ([]string, int) {
	lines := req.Context
	if len(lines) == 0 {
		lines = []string{""}
	}
	col := req.Column - 1
	if col < 0 {
		col = 0
	}
	return lines, tooling.ByteOffset(lines[len(lines)-1], col)
}
