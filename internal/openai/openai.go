package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chriskillpack/iris/backend"
	"github.com/chriskillpack/iris/internal/ratelimit"

	oagc "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

const DefaultModel = "gpt-4o"

type openai struct {
	oac   *oagc.Client
	model string
	rl    *ratelimit.Limiter // For requests to the OpenAI API
}

var _ backend.Backend = &openai{}

var errNoChoices = errors.New("response has no choices")

// Options configures the client. BaseURL may point at any OpenAI-compatible
// server (Ollama, vLLM, etc).
type Options struct {
	APIKey            string
	BaseURL           string
	Model             string
	RequestsPerMinute int
}

func Init(opts Options, httpClient *http.Client) *openai {
	ro := []option.RequestOption{option.WithHTTPClient(httpClient)}
	if opts.APIKey != "" {
		ro = append(ro, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(opts.BaseURL))
	}
	client := oagc.NewClient(ro...)

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	return &openai{
		oac:   &client,
		model: model,
		rl:    ratelimit.PerMinute(opts.RequestsPerMinute),
	}
}

func (o *openai) Name() string { return "openai" }

func (o *openai) Model() string { return o.model }

func (o *openai) Send(ctx context.Context, req backend.Request) (*backend.Response, error) {
	// Rate limit use of the OpenAI API
	if err := o.rl.Acquire(ctx); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = o.model
	}

	params := oagc.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: toMessages(req.System, req.Turns),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = oagc.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = toTools(req.Tools)
	}

	resp, err := o.oac.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errNoChoices
	}
	return fromChoice(resp.Choices[0]), nil
}

func toTools(tools []backend.Tool) []oagc.ChatCompletionToolParam {
	out := make([]oagc.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		out[i] = oagc.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: oagc.String(t.Description),
				Parameters:  shared.FunctionParameters(t.InputSchema),
			},
		}
	}
	return out
}

// toMessages flattens a conversation into chat messages. A tool results turn
// becomes one "tool" message per result.
func toMessages(system string, turns []backend.Turn) []oagc.ChatCompletionMessageParamUnion {
	out := make([]oagc.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if system != "" {
		out = append(out, oagc.SystemMessage(system))
	}

	for _, t := range turns {
		switch t.Role {
		case backend.RoleUser:
			if t.Image == nil {
				out = append(out, oagc.UserMessage(t.Text))
				continue
			}
			out = append(out, oagc.UserMessage([]oagc.ChatCompletionContentPartUnionParam{
				oagc.ImageContentPart(oagc.ChatCompletionContentPartImageImageURLParam{URL: t.Image.DataURL()}),
				oagc.TextContentPart(t.Text),
			}))
		case backend.RoleToolResults:
			for _, r := range t.Results {
				out = append(out, oagc.ToolMessage(r.Output, r.RequestID))
			}
		case backend.RoleAssistant:
			asst := oagc.ChatCompletionAssistantMessageParam{}
			if t.Text != "" {
				asst.Content.OfString = oagc.String(t.Text)
			}
			if len(t.Requests) > 0 {
				asst.ToolCalls = make([]oagc.ChatCompletionMessageToolCallParam, len(t.Requests))
				for i, ar := range t.Requests {
					asst.ToolCalls[i] = oagc.ChatCompletionMessageToolCallParam{
						ID: ar.ID,
						Function: oagc.ChatCompletionMessageToolCallFunctionParam{
							Name:      ar.Name,
							Arguments: string(ar.ArgumentsJSON()),
						},
					}
				}
			}
			out = append(out, oagc.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	return out
}

func fromChoice(c oagc.ChatCompletionChoice) *backend.Response {
	resp := &backend.Response{Text: c.Message.Content}
	switch c.FinishReason {
	case "stop":
		resp.Stop = backend.StopEndTurn
	case "tool_calls":
		resp.Stop = backend.StopToolUse
	default:
		resp.Stop = backend.StopReason(c.FinishReason)
	}

	for _, tc := range c.Message.ToolCalls {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		resp.Requests = append(resp.Requests, backend.ActionRequest{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return resp
}
