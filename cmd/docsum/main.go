// docsum summarizes one document from the command line: a URL, a local
// file, or text on stdin.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/dgallion1/docsum/internal/app"
	"github.com/dgallion1/docsum/internal/config"
	"github.com/dgallion1/docsum/internal/source"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		urlFlag    string
		fileFlag   string
		configPath string
		jsonOut    bool
		verbose    bool
	)

	flagSet := pflag.NewFlagSet("docsum", pflag.ContinueOnError)
	flagSet.StringVar(&urlFlag, "url", "", "fetch and summarize this URL")
	flagSet.StringVar(&fileFlag, "file", "", "summarize this file (\"-\" reads text from stdin)")
	flagSet.StringVar(&configPath, "config", "", "YAML config file (default: $DOCSUM_CONFIG)")
	flagSet.BoolVar(&jsonOut, "json", false, "print the summary as JSON")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log progress at debug level")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if (urlFlag == "") == (fileFlag == "") {
		printHelp(flagSet)
		return errors.New("exactly one of --url or --file is required")
	}

	log := newLogger(verbose)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := loadDocument(ctx, a, urlFlag, fileFlag)
	if err != nil {
		return err
	}
	log.Info("document loaded", "title", doc.Title, "bytes", len(doc.Text))

	sum, err := a.Orchestrator.Process(ctx, doc.Text)
	if err != nil {
		return err
	}
	if sum.Partial {
		fmt.Fprintf(os.Stderr, "warning: %d of %d sections failed and were left out of the summary\n",
			len(sum.Dropped), sum.Sections)
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"title":   doc.Title,
			"summary": sum,
		})
	}
	fmt.Println(sum.Text)
	return nil
}

func loadDocument(ctx context.Context, a *app.App, rawURL, file string) (source.Document, error) {
	switch {
	case rawURL != "":
		return a.Fetcher.Fetch(ctx, rawURL)
	case file == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return source.Document{}, fmt.Errorf("read stdin: %w", err)
		}
		return a.Loader.Load("stdin.txt", bytes.NewReader(data))
	default:
		f, err := os.Open(file)
		if err != nil {
			return source.Document{}, err
		}
		defer f.Close()
		return a.Loader.Load(filepath.Base(file), f)
	}
}

// newLogger writes readable text to a terminal and JSON otherwise.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `docsum summarizes a document of any length.

Usage:
  docsum --url URL [flags]
  docsum --file PATH [flags]

Flags:
%s`, flagSet.FlagUsages())
}
