package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/chriskillpack/iris"
	"github.com/chriskillpack/iris/agent"
)

// parseLine turns one line of chat input into a request. A line of the form
// "image:/path/to/photo.jpg question" attaches the image.
func parseLine(line string) (agent.Input, error) {
	rest, ok := strings.CutPrefix(line, "image:")
	if !ok {
		return agent.Input{Text: line}, nil
	}
	path, question, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if path == "" {
		return agent.Input{}, fmt.Errorf("format: image:/path/to/image.jpg Your question here")
	}
	question = strings.TrimSpace(question)
	if question == "" {
		question = "What's in this image?"
	}
	return agent.Input{Text: question, ImagePath: path}, nil
}

func runChat(ctx context.Context, ir *iris.Iris, in io.Reader) error {
	fmt.Println("Interactive mode - type 'quit' to exit")
	fmt.Println("To analyze an image, type: image:/path/to/image.jpg What do you see?")

	sc := bufio.NewScanner(in)
	for !lameduck.Load() {
		fmt.Print("\nYou: ")
		if !sc.Scan() {
			fmt.Println()
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit", "q":
			fmt.Println("Goodbye!")
			return nil
		}

		input, err := parseLine(line)
		if err != nil {
			fmt.Println(err)
			continue
		}
		fmt.Printf("\nAssistant: %s\n", ir.Agent.Answer(ctx, input))
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}
