package llama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"strings"

	"github.com/chriskillpack/iris/backend"
)

const (
	chatPreamble = `A chat between a curious human and an artificial intelligence assistant. The assistant gives helpful, detailed, and polite answers to the human's questions.`
	userPrefix   = "\nUSER:"
	asstPrefix   = "\nASSISTANT:"
)

type jsonmap map[string]any

// These were lifted from the web inspector for the server UI
var defaultparams = jsonmap{
	"n_predict":         400,
	"n_probs":           0,
	"temperature":       0.7,
	"stop":              []string{"</s>", "USER:", "ASSISTANT:"},
	"repeat_last_n":     256,
	"repeat_penalty":    1.18,
	"top_k":             40,
	"top_p":             0.5,
	"tfs_z":             1,
	"typical_p":         1,
	"presence_penalty":  0,
	"frequency_penalty": 0,
	"mirostat":          0,
	"mirostat_tau":      5,
	"mirostat_eta":      0.1,
	"grammar":           "",
	"slot_id":           -1,
	"cache_prompt":      true,
}

// llama talks to a llama.cpp server running a multimodal model. The
// /completion endpoint has no function calling so this backend never
// requests actions: it is useful for describing images and for plain
// question answering, and the agent loop sees every reply as a final
// answer.
type llama struct {
	srvAddr string
	seed    int

	client *http.Client
}

var (
	_ backend.Backend       = &llama{}
	_ backend.HealthChecker = &llama{}
)

func Init(srvAddr string, seed int, httpClient *http.Client) *llama {
	return &llama{
		srvAddr: strings.TrimSuffix(srvAddr, "/"),
		seed:    seed,
		client:  httpClient,
	}
}

func (l *llama) Name() string { return "llama" }

func (l *llama) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.srvAddr+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func (l *llama) Send(ctx context.Context, req backend.Request) (*backend.Response, error) {
	prompt, images := renderPrompt(req)

	keys := jsonmap{}
	if len(images) > 0 {
		keys["image_data"] = images
	}
	if req.MaxTokens > 0 {
		keys["n_predict"] = req.MaxTokens
	}

	text, err := l.sendRequest(ctx, prompt, false, keys)
	if err != nil {
		return nil, err
	}
	return &backend.Response{Stop: backend.StopEndTurn, Text: text}, nil
}

// renderPrompt turns the conversation into a single USER/ASSISTANT prompt.
// Images are referenced in the prompt as [img-N] with N matching the id in
// the returned image_data entries.
func renderPrompt(req backend.Request) (string, []jsonmap) {
	var (
		sb     strings.Builder
		images []jsonmap
	)

	sb.WriteString(chatPreamble)
	if req.System != "" {
		sb.WriteString(" ")
		sb.WriteString(req.System)
	}

	for _, t := range req.Turns {
		switch t.Role {
		case backend.RoleUser:
			sb.WriteString(userPrefix)
			if t.Image != nil {
				id := 10 + len(images)
				images = append(images, jsonmap{"data": t.Image.Base64(), "id": id})
				sb.WriteString("[img-" + strconv.Itoa(id) + "]")
			}
			sb.WriteString(t.Text)
		case backend.RoleAssistant:
			sb.WriteString(asstPrefix)
			sb.WriteString(t.Text)
		case backend.RoleToolResults:
			sb.WriteString(userPrefix)
			for _, r := range t.Results {
				sb.WriteString("\n")
				sb.WriteString(r.Output)
			}
		}
	}
	sb.WriteString(asstPrefix)

	return sb.String(), images
}

func (l *llama) sendRequest(ctx context.Context, prompt string, stream bool, keys jsonmap) (string, error) {
	data := maps.Clone(defaultparams)
	maps.Copy(data, keys)
	data["prompt"] = prompt
	data["stream"] = stream
	data["seed"] = l.seed

	buf := bytes.NewBuffer(make([]byte, 0, 2_000_000)) // The buffer will be resized by Encode
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(&data)
	if err != nil {
		return "", err
	}
	br := bytes.NewReader(buf.Bytes())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.srvAddr+"/completion", br)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llama server returned %s", resp.Status)
	}

	content := new(bytes.Buffer)
	respbody := struct {
		Content string
		Stop    bool
	}{}

	lr := bufio.NewScanner(resp.Body)
	lr.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for !respbody.Stop {
		// Read in one line
		if !lr.Scan() {
			if err := lr.Err(); err != nil {
				return "", err
			}
			return "", fmt.Errorf("response ended before stop")
		}
		line := lr.Text()
		// The empty line appears after a JSON body
		if len(line) == 0 {
			continue
		}
		if stream {
			var found bool
			line, found = strings.CutPrefix(line, "data: ")
			if !found {
				return "", fmt.Errorf("missing `data: ` prefix")
			}
		}

		if err := json.Unmarshal([]byte(line), &respbody); err != nil {
			return "", err
		}
		content.WriteString(respbody.Content)
	}

	return strings.TrimLeft(content.String(), " "), nil
}
