package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jaydeelew/compareintel/pkg/client"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "Comparison server URL")
		modelsArg = flag.String("models", "", "Comma-separated model ids (required)")
		token     = flag.String("token", "", "Optional bearer token")
		timeout   = flag.Duration("timeout", 5*time.Minute, "Overall timeout")
		list      = flag.Bool("list", false, "List available models and exit")
	)
	flag.Parse()

	c := client.NewHTTPClient(*serverURL, *token)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *list {
		infos, err := c.Models(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to list models: %v\n", err)
			os.Exit(1)
		}
		for _, m := range infos {
			fmt.Printf("%-24s %s (ctx %d)\n", m.ID, m.Name, m.ContextWindow)
		}
		return
	}

	prompt := strings.Join(flag.Args(), " ")
	if prompt == "" || *modelsArg == "" {
		fmt.Fprintln(os.Stderr, "usage: compare -models model-a,model-b [flags] <prompt>")
		os.Exit(2)
	}

	events, err := c.Compare(ctx, client.CompareRequest{
		Input:  prompt,
		Models: strings.Split(*modelsArg, ","),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "comparison failed: %v\n", err)
		os.Exit(1)
	}

	current := ""
	for ev := range events {
		switch ev.Type {
		case "start":
			fmt.Printf("\n=== %s ===\n", ev.Model)
			current = ev.Model
		case "chunk":
			if ev.Model != current {
				fmt.Printf("\n--- %s ---\n", ev.Model)
				current = ev.Model
			}
			fmt.Print(ev.Content)
		case "done":
			status := "ok"
			if ev.Error != nil && *ev.Error {
				status = "error"
			}
			fmt.Printf("\n[%s: %s]\n", ev.Model, status)
		case "complete":
			m := ev.Metadata
			fmt.Printf("\n%d/%d models succeeded in %dms, %d credits used, %d remaining\n",
				m.ModelsSuccessful, m.ModelsRequested, m.ProcessingTimeMs, m.CreditsUsed, m.CreditsRemaining)
		case "error":
			fmt.Fprintf(os.Stderr, "stream error: %s\n", ev.Message)
		}
	}
}
