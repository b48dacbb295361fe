package agent

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/chriskillpack/iris/action"
	"github.com/chriskillpack/iris/backend"
)

// scripted replies with responses in order, repeating the last one once the
// script runs out.
type scripted struct {
	mu        sync.Mutex
	responses []*backend.Response
	errs      []error
	requests  []backend.Request
}

func (s *scripted) Name() string { return "scripted" }

func (s *scripted) Send(ctx context.Context, req backend.Request) (*backend.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.requests)
	s.requests = append(s.requests, req)
	if n < len(s.errs) && s.errs[n] != nil {
		return nil, s.errs[n]
	}
	if n >= len(s.responses) {
		n = len(s.responses) - 1
	}
	return s.responses[n], nil
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func toolUse(reqs ...backend.ActionRequest) *backend.Response {
	return &backend.Response{Stop: backend.StopToolUse, Requests: reqs}
}

func endTurn(text string) *backend.Response {
	return &backend.Response{Stop: backend.StopEndTurn, Text: text}
}

func call(id, name string, args map[string]any) backend.ActionRequest {
	return backend.ActionRequest{ID: id, Name: name, Arguments: args}
}

func builtins() *action.Registry {
	return action.NewBuiltinRegistry(action.Env{})
}

func TestCalculateEndToEnd(t *testing.T) {
	be := &scripted{responses: []*backend.Response{
		toolUse(call("toolu_1", "calculate", map[string]any{"expression": "157 * 23"})),
		endTurn("157 × 23 = 3611"),
	}}
	a := New(be, builtins(), Options{})

	out := a.Run(t.Context(), Input{Text: "What is 157 * 23?"})
	if out.State != Done {
		t.Fatalf("Expected Done, got %s (%s)", out.State, out.Reason)
	}
	if !strings.Contains(out.Text, "3611") {
		t.Errorf("Expected answer containing 3611, got %q", out.Text)
	}
	if expected, actual := 2, be.calls(); expected != actual {
		t.Errorf("Expected %d model calls, got %d", expected, actual)
	}

	second := be.requests[1]
	results := second.Turns[len(second.Turns)-1]
	if results.Role != backend.RoleToolResults || len(results.Results) != 1 {
		t.Fatalf("Expected one tool result turn, got %+v", results)
	}
	if r := results.Results[0]; r.RequestID != "toolu_1" || r.Output != "Result: 3611" {
		t.Errorf("Unexpected result %+v", r)
	}
	if len(out.Conversation) != 4 {
		t.Errorf("Expected 4 turns in conversation, got %d", len(out.Conversation))
	}
}

func TestRequestCarriesEverything(t *testing.T) {
	be := &scripted{responses: []*backend.Response{endTurn("hi")}}
	a := New(be, builtins(), Options{Model: "m-1"})
	a.Run(t.Context(), Input{Text: "hello"})

	req := be.requests[0]
	if req.Model != "m-1" || req.MaxTokens != DefaultMaxTokens || req.System != DefaultSystemPrompt {
		t.Errorf("Unexpected request header %+v", req)
	}
	if len(req.Tools) != 5 {
		t.Errorf("Expected all 5 actions advertised, got %d", len(req.Tools))
	}
}

func TestTurnBudget(t *testing.T) {
	for _, maxTurns := range []int{1, 3, DefaultMaxTurns} {
		t.Run(fmt.Sprint(maxTurns), func(t *testing.T) {
			be := &scripted{responses: []*backend.Response{
				toolUse(call("w", "get_weather", map[string]any{"location": "Oslo"})),
			}}
			a := New(be, builtins(), Options{MaxTurns: maxTurns})

			out := a.Run(t.Context(), Input{Text: "loop forever"})
			if out.State != Aborted || out.Reason != ReasonBudgetExhausted {
				t.Fatalf("Expected budget abort, got %s (%s)", out.State, out.Reason)
			}
			if out.Text != BudgetExhaustedMessage {
				t.Errorf("Unexpected text %q", out.Text)
			}
			if be.calls() != maxTurns || out.Turns != maxTurns {
				t.Errorf("Expected exactly %d model calls, got %d (outcome %d)", maxTurns, be.calls(), out.Turns)
			}
		})
	}
}

func TestUnexpectedStop(t *testing.T) {
	cases := []*backend.Response{
		{Stop: "max_tokens", Text: "truncat"},
		{Stop: "refusal"},
		{Stop: backend.StopToolUse},
	}
	for _, resp := range cases {
		t.Run(string(resp.Stop), func(t *testing.T) {
			be := &scripted{responses: []*backend.Response{resp}}
			out := New(be, builtins(), Options{}).Run(t.Context(), Input{Text: "x"})
			if out.State != Aborted || out.Reason != ReasonUnexpectedStop {
				t.Errorf("Expected unexpected stop abort, got %s (%s)", out.State, out.Reason)
			}
			if be.calls() != 1 {
				t.Errorf("Expected a single model call, got %d", be.calls())
			}
		})
	}
}

func TestBackendError(t *testing.T) {
	be := &scripted{
		responses: []*backend.Response{endTurn("unused")},
		errs:      []error{errors.New("connection reset")},
	}
	out := New(be, builtins(), Options{}).Run(t.Context(), Input{Text: "x"})
	if out.State != Aborted || out.Reason != ReasonBackendError {
		t.Errorf("Expected backend abort, got %s (%s)", out.State, out.Reason)
	}
	if !strings.Contains(out.Text, "connection reset") {
		t.Errorf("Expected error in text, got %q", out.Text)
	}
}

func TestBatchResultsMatchRequests(t *testing.T) {
	var running, peak atomic.Int32
	slow := func(ctx context.Context, args action.Args) (string, error) {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		return "echo " + args.String("v"), nil
	}
	reg := action.NewRegistry(action.Definition{
		Name:    "echo",
		Fields:  []action.Field{{Name: "v", Type: "string", Required: true}},
		Execute: slow,
	})

	var reqs []backend.ActionRequest
	for i := range 12 {
		reqs = append(reqs, call(fmt.Sprintf("id-%d", i), "echo", map[string]any{"v": fmt.Sprint(i)}))
	}
	reqs = append(reqs, call("bad", "no_such_action", nil))

	be := &scripted{responses: []*backend.Response{toolUse(reqs...), endTurn("done")}}
	out := New(be, reg, Options{Parallelism: 3}).Run(t.Context(), Input{Text: "go"})
	if out.State != Done {
		t.Fatalf("Expected Done, got %s (%s)", out.State, out.Reason)
	}

	results := be.requests[1].Turns[2].Results
	if len(results) != len(reqs) {
		t.Fatalf("Expected %d results, got %d", len(reqs), len(results))
	}
	for i, r := range results {
		if r.RequestID != reqs[i].ID {
			t.Errorf("Result %d has id %s, expected %s", i, r.RequestID, reqs[i].ID)
		}
	}
	if last := results[len(results)-1]; !last.IsError || !strings.Contains(last.Output, "no_such_action") {
		t.Errorf("Expected unknown action error, got %+v", last)
	}
	if results[5].Output != "echo 5" {
		t.Errorf("Unexpected output %q", results[5].Output)
	}
	if p := peak.Load(); p > 3 {
		t.Errorf("Expected at most 3 concurrent actions, saw %d", p)
	}
}

func TestImageOnlyInFirstTurn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cat.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	png.Encode(f, image.NewRGBA(image.Rect(0, 0, 3, 3)))
	f.Close()

	be := &scripted{responses: []*backend.Response{
		toolUse(call("c", "calculate", map[string]any{"expression": "1+1"})),
		endTurn("A cat. Also 2."),
	}}
	out := New(be, builtins(), Options{}).Run(t.Context(), Input{Text: "What is this?", ImagePath: path})
	if out.State != Done {
		t.Fatalf("Expected Done, got %s", out.State)
	}

	for i, turn := range out.Conversation {
		if (turn.Image != nil) != (i == 0) {
			t.Errorf("Turn %d: unexpected image presence %v", i, turn.Image != nil)
		}
	}
	if out.Conversation[0].Image.MediaType != "image/png" {
		t.Errorf("Unexpected media type %q", out.Conversation[0].Image.MediaType)
	}
}

func TestMissingImageDegradesToText(t *testing.T) {
	be := &scripted{responses: []*backend.Response{endTurn("I can't see an image.")}}
	out := New(be, builtins(), Options{}).Run(t.Context(), Input{
		Text:      "What is this?",
		ImagePath: filepath.Join(t.TempDir(), "gone.jpg"),
	})
	if out.State != Done {
		t.Fatalf("Expected Done, got %s", out.State)
	}
	first := be.requests[0].Turns[0]
	if first.Image != nil || first.Text != "What is this?" {
		t.Errorf("Expected text-only first turn, got %+v", first)
	}
}

func TestObserver(t *testing.T) {
	var kinds []EventKind
	be := &scripted{responses: []*backend.Response{
		toolUse(call("w", "get_weather", map[string]any{"location": "Rome"})),
		endTurn("Sunny."),
	}}
	a := New(be, builtins(), Options{Observer: func(ev Event) { kinds = append(kinds, ev.Kind) }})
	if got := a.Answer(t.Context(), Input{Text: "weather?"}); got != "Sunny." {
		t.Errorf("Unexpected answer %q", got)
	}

	expected := []EventKind{
		EventModelCall, EventModelResponse, EventAction, EventActionResult,
		EventModelCall, EventModelResponse, EventDone,
	}
	if fmt.Sprint(kinds) != fmt.Sprint(expected) {
		t.Errorf("Expected events %v, got %v", expected, kinds)
	}
}

func TestNilResponse(t *testing.T) {
	be := &scripted{responses: []*backend.Response{nil}}
	out := New(be, builtins(), Options{}).Run(t.Context(), Input{Text: "x"})
	if out.State != Aborted || out.Reason != ReasonBackendError {
		t.Errorf("Expected backend abort, got %s (%s)", out.State, out.Reason)
	}
	if out.Text == "" {
		t.Error("Expected a message for the user")
	}
}
