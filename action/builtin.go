package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chriskillpack/iris/backend"
	"github.com/chriskillpack/iris/compare"
	"github.com/chriskillpack/iris/internal/calc"
	"github.com/chriskillpack/iris/media"
	"github.com/chriskillpack/iris/refstore"
)

const visionMaxTokens = 2048

// Env is what the built-in actions need from the rest of the process. Store
// may be nil, identify_person then reports that no reference store is set
// up.
type Env struct {
	Vision     backend.Vision
	Store      *refstore.Store
	Comparator compare.Comparator
	Logger     *slog.Logger
}

// NewBuiltinRegistry returns a registry holding the built-in actions.
func NewBuiltinRegistry(env Env) *Registry {
	return NewRegistry(Builtins(env)...)
}

// Builtins returns the built-in action definitions in the order they are
// advertised to the model.
func Builtins(env Env) []Definition {
	if env.Logger == nil {
		env.Logger = slog.New(slog.DiscardHandler)
	}
	return []Definition{
		{
			Name:        "get_weather",
			Description: "Get the current weather for a given location",
			Fields: []Field{
				{Name: "location", Type: "string", Required: true, Description: "The city and state, e.g. San Francisco, CA"},
			},
			Execute: getWeather,
		},
		{
			Name:        "calculate",
			Description: "Perform a mathematical calculation",
			Fields: []Field{
				{Name: "expression", Type: "string", Required: true, Description: "The mathematical expression to evaluate, e.g. '2 + 2' or '10 * 5'"},
			},
			Execute: calculate,
		},
		{
			Name:        "analyze_image",
			Description: "Analyze an image file and extract information from it. Can identify objects, read text, describe scenes, and answer questions about the image.",
			Fields: []Field{
				{Name: "image_path", Type: "string", Required: true, Description: "The file path to the image to analyze (supports jpg, png, gif, webp)"},
				{Name: "question", Type: "string", Description: "Optional specific question about the image. If not provided, will give a general description."},
			},
			Execute: env.analyzeImage,
		},
		{
			Name:        "analyze_people",
			Description: "Detect and analyze people in an image. Can count people, describe their activities, clothing, poses, facial expressions, and group dynamics. Use this for any questions about people in images.",
			Fields: []Field{
				{Name: "image_path", Type: "string", Required: true, Description: "The file path to the image to analyze"},
				{
					Name:        "analysis_type",
					Type:        "string",
					Required:    true,
					Enum:        analysisTypeNames(),
					Description: "Type of analysis: 'count' (count people), 'activities' (what they're doing), 'detailed' (full description of each person), 'faces' (facial expressions), 'group' (group dynamics), or 'custom'",
				},
				{
					Name:        "custom_question",
					Type:        "string",
					RequiredIf:  &Condition{Field: "analysis_type", Value: string(AnalysisCustom)},
					Description: "For analysis_type='custom', specify what you want to know about the people",
				},
			},
			Execute: env.analyzePeople,
		},
		{
			Name:        "identify_person",
			Description: "Identify specific individuals in an image by comparing against a reference database. Use this when user asks 'who is this' or wants to identify people by name. Requires people to have been added to the reference database first.",
			Fields: []Field{
				{Name: "image_path", Type: "string", Required: true, Description: "The file path to the image containing people to identify"},
			},
			Execute: env.identifyPerson,
		},
	}
}

func getWeather(ctx context.Context, args Args) (string, error) {
	return fmt.Sprintf("The weather in %s is sunny and 72°F", args.String("location")), nil
}

func calculate(ctx context.Context, args Args) (string, error) {
	v, err := calc.Eval(args.String("expression"))
	if err != nil {
		return "", Failed(err, "Error calculating: %s", err)
	}
	return "Result: " + calc.Format(v), nil
}

func (env Env) analyzeImage(ctx context.Context, args Args) (string, error) {
	path := args.String("image_path")
	prompt := "Please analyze this image and provide a detailed description of what you see."
	if q := args.String("question"); q != "" {
		prompt = "Please analyze this image and answer the following question: " + q
	}

	out, err := env.Vision.AskFile(ctx, path, prompt, visionMaxTokens)
	if errors.Is(err, media.ErrNotFound) {
		return "", Failed(err, "Error: Image file not found at %s", path)
	}
	if err != nil {
		return "", Failed(err, "Error analyzing image: %s", err)
	}
	return out, nil
}

func (env Env) analyzePeople(ctx context.Context, args Args) (string, error) {
	path := args.String("image_path")
	at, ok := ParseAnalysisType(args.String("analysis_type"))
	if !ok {
		at = AnalysisCustom
	}
	prompt := at.Prompt(args.String("custom_question"))

	out, err := env.Vision.AskFile(ctx, path, prompt, visionMaxTokens)
	if errors.Is(err, media.ErrNotFound) {
		return "", Failed(err, "Error: Image file not found at %s", path)
	}
	if err != nil {
		return "", Failed(err, "Error analyzing people in image: %s", err)
	}
	return out, nil
}

const (
	noStoreGuidance = `Face database not found. To use person identification:

1. Run: iris people add -name NAME -image PATH -consent
2. Add people to the database (with their consent)
3. Then use this tool to identify them in photos

The database stores reference images and facial descriptions to enable identification.`

	emptyStoreGuidance = "Face database is empty. Add people using: iris people add"
)

// identifyPerson is informational when there is nobody to compare against:
// the guidance text is a normal result, not an error.
func (env Env) identifyPerson(ctx context.Context, args Args) (string, error) {
	if env.Store == nil {
		return noStoreGuidance, nil
	}
	exists, err := env.Store.Exists(ctx)
	if err != nil {
		return "", Failed(err, "Error loading database: %s", err)
	}
	if !exists {
		return noStoreGuidance, nil
	}
	people, err := env.Store.List(ctx)
	if err != nil {
		return "", Failed(err, "Error loading database: %s", err)
	}
	if len(people) == 0 {
		return emptyStoreGuidance, nil
	}

	path := args.String("image_path")
	img, err := env.Comparator.Vision.Loader.Load(path)
	if errors.Is(err, media.ErrNotFound) {
		return "", Failed(err, "Error: Image not found at %s", path)
	}
	if err != nil {
		return "", Failed(err, "Error reading image: %s", err)
	}

	env.Logger.Debug("identifying people", "image", path, "candidates", len(people))
	out, err := env.Comparator.IdentifyImage(ctx, img, people)
	if err != nil {
		return "", Failed(err, "Error during identification: %s", err)
	}
	return fmt.Sprintf("Identification results (comparing against %d people in database):\n\n%s", len(people), out), nil
}
