package backend

import (
	"context"
	"errors"
	"strings"

	"github.com/chriskillpack/iris/media"
)

var ErrEmptyResponse = errors.New("model returned no text")

// Vision asks single questions about single images. It is the path used by
// the image actions, the reference store and the comparator; none of them
// offer tools to the model.
type Vision struct {
	Backend Backend
	Model   string
	Loader  media.Loader
}

// Ask sends img and prompt as one user turn and returns the text of the
// reply.
func (v Vision) Ask(ctx context.Context, img media.Image, prompt string, maxTokens int) (string, error) {
	resp, err := v.Backend.Send(ctx, Request{
		Model:     v.Model,
		MaxTokens: maxTokens,
		Turns:     []Turn{UserTurn(prompt, &img)},
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", ErrEmptyResponse
	}
	return resp.Text, nil
}

// AskFile loads the image at path with the configured Loader and calls Ask.
// Load errors are returned unwrapped so callers can test for
// media.ErrNotFound.
func (v Vision) AskFile(ctx context.Context, path, prompt string, maxTokens int) (string, error) {
	img, err := v.Loader.Load(path)
	if err != nil {
		return "", err
	}
	return v.Ask(ctx, img, prompt, maxTokens)
}
