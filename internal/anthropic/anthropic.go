package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/chriskillpack/iris/backend"
	"github.com/chriskillpack/iris/internal/ratelimit"

	asdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 4096
)

type claude struct {
	client *asdk.Client
	model  string
	rl     *ratelimit.Limiter
}

var _ backend.Backend = &claude{}

type Options struct {
	APIKey            string
	BaseURL           string // optional, e.g. a proxy or gateway
	Model             string
	RequestsPerMinute int
}

func Init(opts Options, httpClient *http.Client) *claude {
	ro := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if opts.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(opts.BaseURL))
	}
	client := asdk.NewClient(ro...)

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}

	return &claude{
		client: &client,
		model:  model,
		rl:     ratelimit.PerMinute(opts.RequestsPerMinute),
	}
}

func (c *claude) Name() string { return "anthropic" }

func (c *claude) Model() string { return c.model }

func (c *claude) Send(ctx context.Context, req backend.Request) (*backend.Response, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := asdk.MessageNewParams{
		Model:     asdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toMessages(req.Turns),
	}
	if req.System != "" {
		params.System = []asdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toTools(req.Tools)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}
	return fromMessage(msg), nil
}

// toTools converts action schemas to Anthropic tool params.
func toTools(tools []backend.Tool) []asdk.ToolUnionParam {
	out := make([]asdk.ToolUnionParam, len(tools))
	for i, t := range tools {
		props, _ := t.InputSchema["properties"].(map[string]any)
		if props == nil {
			props = map[string]any{}
		}
		var required []string
		switch req := t.InputSchema["required"].(type) {
		case []string:
			required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}

		out[i] = asdk.ToolUnionParam{
			OfTool: &asdk.ToolParam{
				Name:        t.Name,
				Description: asdk.String(t.Description),
				InputSchema: asdk.ToolInputSchemaParam{
					Properties: props,
					Required:   required,
				},
			},
		}
	}
	return out
}

// toMessages converts a conversation to Anthropic message params.
//
// The Messages API only knows "user" and "assistant". Tool results travel
// as a user message of tool_result blocks, one block per result, and
// requested actions are tool_use blocks on the assistant message.
func toMessages(turns []backend.Turn) []asdk.MessageParam {
	out := make([]asdk.MessageParam, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case backend.RoleUser:
			blocks := make([]asdk.ContentBlockParamUnion, 0, 2)
			if t.Image != nil {
				blocks = append(blocks, asdk.NewImageBlockBase64(t.Image.MediaType, t.Image.Base64()))
			}
			// Empty text blocks are rejected by the API.
			if t.Text != "" || t.Image == nil {
				blocks = append(blocks, asdk.NewTextBlock(t.Text))
			}
			out = append(out, asdk.NewUserMessage(blocks...))
		case backend.RoleToolResults:
			blocks := make([]asdk.ContentBlockParamUnion, len(t.Results))
			for i, r := range t.Results {
				blocks[i] = asdk.NewToolResultBlock(r.RequestID, r.Output, r.IsError)
			}
			out = append(out, asdk.NewUserMessage(blocks...))
		case backend.RoleAssistant:
			blocks := make([]asdk.ContentBlockParamUnion, 0, len(t.Requests)+1)
			if t.Text != "" {
				blocks = append(blocks, asdk.NewTextBlock(t.Text))
			}
			for _, ar := range t.Requests {
				blocks = append(blocks, asdk.ContentBlockParamUnion{
					OfToolUse: &asdk.ToolUseBlockParam{
						ID:    ar.ID,
						Name:  ar.Name,
						Input: ar.ArgumentsJSON(),
					},
				})
			}
			out = append(out, asdk.NewAssistantMessage(blocks...))
		}
	}
	return out
}

func fromMessage(msg *asdk.Message) *backend.Response {
	resp := &backend.Response{}
	switch msg.StopReason {
	case asdk.StopReasonEndTurn:
		resp.Stop = backend.StopEndTurn
	case asdk.StopReasonToolUse:
		resp.Stop = backend.StopToolUse
	default:
		resp.Stop = backend.StopReason(msg.StopReason)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			var args map[string]any
			// Malformed input is left nil, validation reports the missing
			// fields back to the model.
			_ = json.Unmarshal(tu.Input, &args)
			resp.Requests = append(resp.Requests, backend.ActionRequest{
				ID:        tu.ID,
				Name:      tu.Name,
				Arguments: args,
			})
		}
	}
	resp.Text = text.String()
	return resp
}
