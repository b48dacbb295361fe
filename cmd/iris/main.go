package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/chriskillpack/iris"
	"github.com/chriskillpack/iris/agent"
	"github.com/chriskillpack/iris/internal/config"
	"github.com/chriskillpack/iris/internal/logging"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file (default ./iris.yaml if present)")
	provider   = flag.String("provider", "", "Model backend: anthropic, openai or llama")
	model      = flag.String("model", "", "Model name, empty for the backend default")
	llamaAddr  = flag.String("llama", "", "Address of running llama server, typically http://localhost:8080")
	storePath  = flag.String("store", "", "Path to the reference store")
	storeKind  = flag.String("store-kind", "", "Reference store format: json or sqlite")
	maxTurns   = flag.Int("max-turns", 0, "Maximum model calls per request")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn or error")
	logFormat  = flag.String("log-format", "", "Log format: text or json")
	verbose    = flag.Bool("v", false, "Print each model turn and tool call")

	lameduck atomic.Bool
)

// flagKeys maps command line flags onto configuration keys. Only flags that
// were given on the command line override the configuration.
var flagKeys = map[string]string{
	"provider":   "provider",
	"model":      "model",
	"llama":      "llama.server",
	"store":      "store.path",
	"store-kind": "store.kind",
	"max-turns":  "agent.max_turns",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: iris [flags] <command> [args]

Commands:
  ask [-image path] question      answer one request
  chat                            interactive session
  identify -image path            compare the people in a photo with the reference store
  people list                     list the reference store
  people add|remove|import        manage the reference store (see iris people -h)

Flags:
`)
	flag.PrintDefaults()
}

func overrides() map[string]any {
	o := map[string]any{}
	flag.Visit(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			o[key] = f.Value.(flag.Getter).Get()
		}
	})
	return o
}

func sighandler(ch chan os.Signal, cancel context.CancelFunc) {
	for {
		<-ch
		if lameduck.Load() {
			// Already in lame duck, hard stop
			fmt.Println("Exiting")
			cancel()
			return
		}
		fmt.Println("SIGINT received, stopping...")
		lameduck.Store(true)
	}
}

// printer prints the progress of a run the way a person following along
// would want to read it.
func printer(ev agent.Event) {
	switch ev.Kind {
	case agent.EventModelResponse:
		fmt.Printf("Turn %d: stop reason %s\n", ev.Turn, ev.Stop)
	case agent.EventAction:
		fmt.Printf("  Using tool: %s\n  Input: %s\n", ev.Request.Name, ev.Request.ArgumentsJSON())
	case agent.EventActionResult:
		fmt.Printf("  Result: %s\n\n", ev.Result.Output)
	case agent.EventAborted:
		fmt.Printf("Aborted: %s\n", ev.Text)
	}
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath, overrides())
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatal(err)
	}

	sigch := make(chan os.Signal, 2)
	signal.Notify(sigch, os.Interrupt)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sighandler(sigch, cancel)

	hio := iris.OptionsFromConfig(cfg)
	hio.Logger = logger
	if *verbose {
		hio.Observer = printer
	}
	ir, err := iris.Init(ctx, hio)
	if err != nil {
		log.Fatal(err)
	}
	defer ir.Close()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "ask":
		err = runAsk(ctx, ir, args)
	case "chat":
		err = runChat(ctx, ir, os.Stdin)
	case "identify":
		err = runIdentify(ctx, ir, args)
	case "people":
		err = runPeople(ctx, ir, args)
	default:
		flag.Usage()
		ir.Close()
		os.Exit(2)
	}
	if err != nil {
		ir.Close()
		log.Fatal(err)
	}
}

func runAsk(ctx context.Context, ir *iris.Iris, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	image := fs.String("image", "", "Image to include with the question")
	fs.Parse(args)

	question := strings.Join(fs.Args(), " ")
	if question == "" {
		if *image == "" {
			return fmt.Errorf("ask: no question")
		}
		question = "What's in this image?"
	}

	out := ir.Agent.Run(ctx, agent.Input{Text: question, ImagePath: *image})
	fmt.Println(out.Text)
	if out.State == agent.Aborted {
		return fmt.Errorf("aborted after %d turns: %s", out.Turns, out.Reason)
	}
	return nil
}
