// Package compare matches the people in a photo against the descriptions
// held in the reference store.
//
// Matching is done by the vision model in a single request: the prompt
// carries every stored description and asks for one block per visible
// person. The model's answer is returned as text; Parse pulls the blocks
// apart for callers that want structure. Confidence is whatever the model
// said, it is not a score.
package compare

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/chriskillpack/iris/backend"
	"github.com/chriskillpack/iris/media"
	"github.com/chriskillpack/iris/refstore"
)

const maxTokens = 2048

type Comparator struct {
	Vision backend.Vision
}

// Prompt builds the identification prompt for people. Each person is listed
// as "Person i - name:" followed by their facial description, numbered from
// 1 in store order.
func Prompt(people []refstore.Person) string {
	blocks := make([]string, len(people))
	for i, p := range people {
		blocks[i] = fmt.Sprintf("Person %d - %s:\n%s", i+1, p.Name, p.FacialDescription)
	}

	return `Compare the people in this image against these known individuals from the user's personal photo database:

` + strings.Join(blocks, "\n\n") + `

For each person visible in the image:
1. Describe their appearance
2. Determine if they match any of the known individuals
3. Provide confidence level (high/medium/low) for any matches
4. Explain the reasoning

Format as:
PERSON 1:
- Match: [name or "Unknown"]
- Confidence: [High/Medium/Low]
- Reasoning: [explanation]

Be careful and thorough. Only claim high confidence if features clearly match.`
}

// Identify asks the model which of people appear in the image at path. Image
// load errors are returned unwrapped, model errors are wrapped.
func (c Comparator) Identify(ctx context.Context, path string, people []refstore.Person) (string, error) {
	img, err := c.Vision.Loader.Load(path)
	if err != nil {
		return "", err
	}
	return c.IdentifyImage(ctx, img, people)
}

func (c Comparator) IdentifyImage(ctx context.Context, img media.Image, people []refstore.Person) (string, error) {
	out, err := c.Vision.Ask(ctx, img, Prompt(people), maxTokens)
	if err != nil {
		return "", fmt.Errorf("identification: %w", err)
	}
	return out, nil
}

type Confidence string

const (
	ConfidenceHigh    Confidence = "High"
	ConfidenceMedium  Confidence = "Medium"
	ConfidenceLow     Confidence = "Low"
	ConfidenceUnknown Confidence = "Unknown"
)

func parseConfidence(s string) Confidence {
	s = strings.Trim(strings.TrimSpace(s), "[]*")
	word, _, _ := strings.Cut(s, " ")
	switch strings.ToLower(strings.Trim(word, ".,;:()")) {
	case "high":
		return ConfidenceHigh
	case "medium":
		return ConfidenceMedium
	case "low":
		return ConfidenceLow
	}
	return ConfidenceUnknown
}

// Match is one "PERSON n" block of the model's answer. Name is empty when the
// model reported no match.
type Match struct {
	Index       int
	Description string
	Name        string
	Confidence  Confidence
	Reasoning   string
}

var (
	personRE = regexp.MustCompile(`(?i)^\**\s*PERSON\s+(\d+)\s*\**\s*:?\s*\**\s*(.*)$`)
	fieldRE  = regexp.MustCompile(`(?i)^[-*•]?\s*\**\s*(match|confidence|reasoning|description|appearance)\s*\**\s*:\s*\**\s*(.*)$`)
)

// Parse extracts the PERSON blocks from an identification answer. Lines
// outside a block are ignored. A line without a field label continues the
// field above it, up to the next blank line.
func Parse(text string) []Match {
	var (
		matches []Match
		cur     *Match
		last    *string
	)
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := personRE.FindStringSubmatch(trimmed); m != nil {
			n, _ := strconv.Atoi(m[1])
			matches = append(matches, Match{Index: n, Confidence: ConfidenceUnknown})
			cur = &matches[len(matches)-1]
			last = nil
			if rest := strings.TrimSpace(m[2]); rest != "" {
				cur.Description = rest
				last = &cur.Description
			}
			continue
		}
		if trimmed == "" {
			last = nil
			continue
		}
		if cur == nil {
			continue
		}

		f := fieldRE.FindStringSubmatch(trimmed)
		if f == nil {
			if last != nil {
				*last = strings.TrimSpace(*last + " " + trimmed)
			}
			continue
		}
		val := strings.TrimSpace(f[2])
		switch strings.ToLower(f[1]) {
		case "match":
			cur.Name = matchName(val)
			last = nil
		case "confidence":
			cur.Confidence = parseConfidence(val)
			last = nil
		case "reasoning":
			cur.Reasoning = val
			last = &cur.Reasoning
		default:
			cur.Description = val
			last = &cur.Description
		}
	}
	return matches
}

func matchName(s string) string {
	s = strings.Trim(strings.TrimSpace(s), `[]*"'`)
	switch strings.ToLower(s) {
	case "", "unknown", "none", "no match":
		return ""
	}
	return s
}
