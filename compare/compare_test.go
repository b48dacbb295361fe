package compare

import (
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chriskillpack/iris/backend"
	"github.com/chriskillpack/iris/media"
	"github.com/chriskillpack/iris/refstore"
)

var people = []refstore.Person{
	{Name: "Alice", FacialDescription: "Round face, green eyes."},
	{Name: "Bob", FacialDescription: "Square jaw, beard."},
}

func TestPrompt(t *testing.T) {
	p := Prompt(people)
	for _, want := range []string{
		"Person 1 - Alice:\nRound face, green eyes.",
		"Person 2 - Bob:\nSquare jaw, beard.",
		"PERSON 1:\n- Match:",
		"- Confidence: [High/Medium/Low]",
		"- Reasoning:",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("Prompt missing %q", want)
		}
	}
	if strings.Index(p, "Alice") > strings.Index(p, "Bob") {
		t.Error("Expected people in store order")
	}
}

func TestParse(t *testing.T) {
	text := `I can see two people in this photo.

PERSON 1:
- Match: Alice
- Confidence: High
- Reasoning: Round face and green eyes match the
  description closely.

**PERSON 2:**
- **Match:** "Unknown"
- **Confidence:** low, the face is turned away
- **Reasoning:** Not enough detail.

Let me know if you need anything else.`

	got := Parse(text)
	if len(got) != 2 {
		t.Fatalf("Expected 2 matches, got %d: %+v", len(got), got)
	}

	a := got[0]
	if a.Index != 1 || a.Name != "Alice" || a.Confidence != ConfidenceHigh {
		t.Errorf("Unexpected first match %+v", a)
	}
	if expected := "Round face and green eyes match the description closely."; a.Reasoning != expected {
		t.Errorf("Expected reasoning %q, got %q", expected, a.Reasoning)
	}

	b := got[1]
	if b.Index != 2 || b.Name != "" || b.Confidence != ConfidenceLow {
		t.Errorf("Unexpected second match %+v", b)
	}
	if b.Reasoning != "Not enough detail." {
		t.Errorf("Unexpected reasoning %q", b.Reasoning)
	}
}

func TestParseUnrecognisedConfidence(t *testing.T) {
	got := Parse("PERSON 1:\n- Match: Bob\n- Confidence: fairly sure\n")
	if len(got) != 1 {
		t.Fatalf("Expected 1 match, got %d", len(got))
	}
	if got[0].Confidence != ConfidenceUnknown {
		t.Errorf("Expected %q, got %q", ConfidenceUnknown, got[0].Confidence)
	}
}

func TestParseNoBlocks(t *testing.T) {
	if got := Parse("There are no people in this image."); len(got) != 0 {
		t.Errorf("Expected no matches, got %+v", got)
	}
}

type echo struct {
	prompt string
	err    error
}

func (e *echo) Name() string { return "echo" }

func (e *echo) Send(ctx context.Context, req backend.Request) (*backend.Response, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.prompt = req.Turns[0].Text
	return &backend.Response{Stop: backend.StopEndTurn, Text: "PERSON 1:\n- Match: Bob\n- Confidence: Medium\n- Reasoning: beard"}, nil
}

func TestIdentify(t *testing.T) {
	path := filepath.Join(t.TempDir(), "group.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	png.Encode(f, image.NewRGBA(image.Rect(0, 0, 8, 8)))
	f.Close()

	t.Run("ok", func(t *testing.T) {
		e := &echo{}
		c := Comparator{Vision: backend.Vision{Backend: e}}
		out, err := c.Identify(t.Context(), path, people)
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if e.prompt != Prompt(people) {
			t.Error("Expected the identification prompt to be sent")
		}
		if m := Parse(out); len(m) != 1 || m[0].Name != "Bob" || m[0].Confidence != ConfidenceMedium {
			t.Errorf("Unexpected parse of %q: %+v", out, m)
		}
	})

	t.Run("missing image", func(t *testing.T) {
		c := Comparator{Vision: backend.Vision{Backend: &echo{}}}
		_, err := c.Identify(t.Context(), filepath.Join(t.TempDir(), "nope.jpg"), people)
		if !errors.Is(err, media.ErrNotFound) {
			t.Errorf("Expected media.ErrNotFound, got %v", err)
		}
	})

	t.Run("backend error", func(t *testing.T) {
		c := Comparator{Vision: backend.Vision{Backend: &echo{err: errors.New("boom")}}}
		_, err := c.Identify(t.Context(), path, people)
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Errorf("Expected backend error, got %v", err)
		}
	})
}
