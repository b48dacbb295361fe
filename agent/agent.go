// Package agent runs the tool-use loop between a model backend and the
// action registry.
//
// A run starts with one user turn and alternates between asking the model
// for its next turn and executing the actions it requested, until the model
// finishes, asks for something the loop does not understand, or the turn
// budget runs out. Run never returns an error: every way a run can end is
// described by its Outcome.
package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/chriskillpack/iris/action"
	"github.com/chriskillpack/iris/backend"
	"github.com/chriskillpack/iris/media"
)

const (
	DefaultMaxTurns    = 10
	DefaultMaxTokens   = 4096
	DefaultParallelism = 4
)

// BudgetExhaustedMessage is the answer of a run that used all its turns.
const BudgetExhaustedMessage = "Agent reached maximum turns without completing the task."

const (
	ReasonBudgetExhausted = "turn budget exhausted"
	ReasonUnexpectedStop  = "unexpected stop condition"
	ReasonBackendError    = "model backend error"
)

const DefaultSystemPrompt = `You are a helpful personal assistant with vision. Use the available tools when they help answer the user's request. Tool results that begin with "Error" describe a problem with the request; correct it and try again if you can.`

type State int

const (
	AwaitingModel State = iota
	ExecutingActions
	Done
	Aborted
)

func (s State) String() string {
	switch s {
	case AwaitingModel:
		return "awaiting_model"
	case ExecutingActions:
		return "executing_actions"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

type Options struct {
	Model     string // empty selects the backend default
	MaxTokens int
	MaxTurns  int

	// Parallelism bounds how many actions of one batch run at once.
	Parallelism int

	// System replaces DefaultSystemPrompt when not empty.
	System string

	Loader   media.Loader
	Logger   *slog.Logger
	Observer Observer
}

type Agent struct {
	backend  backend.Backend
	registry *action.Registry

	model       string
	maxTokens   int
	maxTurns    int
	parallelism int
	system      string
	loader      media.Loader
	logger      *slog.Logger
	observer    Observer
}

func New(b backend.Backend, r *action.Registry, opts Options) *Agent {
	a := &Agent{
		backend:     b,
		registry:    r,
		model:       opts.Model,
		maxTokens:   opts.MaxTokens,
		maxTurns:    opts.MaxTurns,
		parallelism: opts.Parallelism,
		system:      opts.System,
		loader:      opts.Loader,
		logger:      opts.Logger,
		observer:    opts.Observer,
	}
	if a.maxTokens <= 0 {
		a.maxTokens = DefaultMaxTokens
	}
	if a.maxTurns <= 0 {
		a.maxTurns = DefaultMaxTurns
	}
	if a.parallelism <= 0 {
		a.parallelism = DefaultParallelism
	}
	if a.system == "" {
		a.system = DefaultSystemPrompt
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	return a
}

// Input is the user's request. ImagePath, if set, is attached to the first
// turn.
type Input struct {
	Text      string
	ImagePath string
}

type Outcome struct {
	State State

	// Reason is set for Aborted runs.
	Reason string

	// Text is the model's answer for Done runs and a message for the user
	// otherwise.
	Text string

	// Turns is the number of model calls made.
	Turns int

	Conversation []backend.Turn
}

// Run drives one conversation to completion. ctx is passed to the backend
// and to action executors.
func (a *Agent) Run(ctx context.Context, in Input) Outcome {
	runID := uuid.NewString()
	logger := a.logger.With("run_id", runID)
	logger.Info("run started", "backend", a.backend.Name(), "image", in.ImagePath != "")

	conv := []backend.Turn{a.firstTurn(in, logger)}
	tools := a.registry.Tools()

	for turn := 1; turn <= a.maxTurns; turn++ {
		a.notify(Event{Kind: EventModelCall, RunID: runID, Turn: turn})
		resp, err := a.backend.Send(ctx, backend.Request{
			Model:     a.model,
			MaxTokens: a.maxTokens,
			System:    a.system,
			Turns:     conv,
			Tools:     tools,
		})
		if err != nil {
			logger.Error("model call failed", "turn", turn, "err", err)
			return a.abort(runID, logger, ReasonBackendError, "The model backend failed: "+err.Error(), turn, conv)
		}
		if resp == nil {
			logger.Error("model call returned no response", "turn", turn)
			return a.abort(runID, logger, ReasonBackendError, "The model backend returned no response.", turn, conv)
		}
		logger.Debug("model responded", "turn", turn, "stop", resp.Stop, "requests", len(resp.Requests))
		a.notify(Event{Kind: EventModelResponse, RunID: runID, Turn: turn, Stop: resp.Stop, Text: resp.Text})

		switch {
		case len(resp.Requests) == 0 && resp.Stop == backend.StopEndTurn:
			conv = append(conv, backend.AssistantTurn(resp.Text, nil))
			logger.Info("run finished", "turns", turn)
			a.notify(Event{Kind: EventDone, RunID: runID, Turn: turn, Text: resp.Text})
			return Outcome{State: Done, Text: resp.Text, Turns: turn, Conversation: conv}

		case len(resp.Requests) > 0 && (resp.Stop == backend.StopToolUse || resp.Stop == backend.StopEndTurn):
			conv = append(conv, backend.AssistantTurn(resp.Text, resp.Requests))
			results := a.execute(ctx, runID, turn, logger, resp.Requests)
			conv = append(conv, backend.ResultsTurn(results))

		default:
			logger.Warn("unexpected stop condition", "turn", turn, "stop", resp.Stop)
			return a.abort(runID, logger, ReasonUnexpectedStop,
				"The model stopped unexpectedly ("+string(resp.Stop)+").", turn, conv)
		}
	}

	logger.Warn("turn budget exhausted", "max_turns", a.maxTurns)
	return a.abort(runID, logger, ReasonBudgetExhausted, BudgetExhaustedMessage, a.maxTurns, conv)
}

// Answer runs in and returns only the text for the user.
func (a *Agent) Answer(ctx context.Context, in Input) string {
	return a.Run(ctx, in).Text
}

func (a *Agent) abort(runID string, logger *slog.Logger, reason, text string, turns int, conv []backend.Turn) Outcome {
	a.notify(Event{Kind: EventAborted, RunID: runID, Turn: turns, Text: reason})
	logger.Info("run aborted", "reason", reason, "turns", turns)
	return Outcome{State: Aborted, Reason: reason, Text: text, Turns: turns, Conversation: conv}
}

// firstTurn builds the opening user turn. An image that cannot be loaded is
// dropped and the request goes ahead as text.
func (a *Agent) firstTurn(in Input, logger *slog.Logger) backend.Turn {
	if in.ImagePath == "" {
		return backend.UserTurn(in.Text, nil)
	}
	img, err := a.loader.Load(in.ImagePath)
	if err != nil {
		logger.Warn("could not load image, continuing without it", "path", in.ImagePath, "err", err)
		return backend.UserTurn(in.Text, nil)
	}
	return backend.UserTurn(in.Text, &img)
}

// execute dispatches every request of one batch and returns the results in
// request order.
func (a *Agent) execute(ctx context.Context, runID string, turn int, logger *slog.Logger, reqs []backend.ActionRequest) []backend.ActionResult {
	results := make([]backend.ActionResult, len(reqs))

	// Dispatch never fails, the group is only used to bound concurrency.
	g := new(errgroup.Group)
	g.SetLimit(a.parallelism)
	for i, req := range reqs {
		a.notify(Event{Kind: EventAction, RunID: runID, Turn: turn, Request: &reqs[i]})
		g.Go(func() error {
			results[i] = a.registry.Dispatch(ctx, req)
			return nil
		})
	}
	g.Wait()

	for i := range results {
		res := &results[i]
		if res.IsError {
			logger.Warn("action failed", "turn", turn, "action", reqs[i].Name, "output", truncate(res.Output, 200))
		} else {
			logger.Debug("action done", "turn", turn, "action", reqs[i].Name)
		}
		a.notify(Event{Kind: EventActionResult, RunID: runID, Turn: turn, Request: &reqs[i], Result: res})
	}
	return results
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
