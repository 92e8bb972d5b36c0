// assemble materializes the build tree for one strategy script: it resolves
// the script's include tokens against the shared source root, copies the
// matching headers and sources next to the generated protocol code and
// writes CMakeLists.txt and manifest.yaml.
//
//	assemble --scriptName MyStrat --includes processors/common/timers.h,services/orders.h
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/AlexandrePrevot/OrderParserProcessor/internal/build"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/config"
	"github.com/AlexandrePrevot/OrderParserProcessor/internal/models"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		scriptName string
		includes   []string
		output     string
		mainFile   string
		user       string
		verbose    bool
	)

	flags := pflag.NewFlagSet("assemble", pflag.ContinueOnError)
	flags.StringVar(&scriptName, "scriptName", "", "name of the script; becomes the CMake project and executable name (required)")
	flags.StringSliceVar(&includes, "includes", nil, "comma-separated include tokens, e.g. processors/common/timers.h,services/orders.h")
	flags.StringVar(&output, "output", "", "output directory (default: <output root>/<user>/<scriptName>)")
	flags.StringVar(&mainFile, "main", "", "file to install as main.cc (default: keep the existing one)")
	flags.StringVar(&user, "user", "default", "owner used to derive the default output directory")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")

	if err := flags.Parse(args); err != nil {
		return err
	}
	if scriptName == "" {
		return fmt.Errorf("--scriptName is required")
	}

	logger := zerolog.Nop()
	if verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if output == "" {
		id := models.NewScriptIdentity(user, scriptName)
		if !id.Valid() {
			return fmt.Errorf("cannot derive an output directory from user %q and script %q", user, scriptName)
		}
		output = build.ScriptDir(cfg.ResolvedOutputRoot(), id)
	}
	output, err = filepath.Abs(output)
	if err != nil {
		return err
	}

	req := build.Request{ScriptName: scriptName, Includes: trimAll(includes)}
	if mainFile != "" {
		src, err := os.ReadFile(mainFile)
		if err != nil {
			return fmt.Errorf("reading --main: %w", err)
		}
		req.MainSource = src
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	asm := build.NewAssembler(build.Config{
		SourceRoot:    cfg.ResolvedSourceRoot(),
		GeneratedRoot: cfg.ResolvedGeneratedRoot(),
		OutputDir:     output,
	}, logger)

	manifest, err := asm.Build(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("assembled %s in %s\n", manifest.Project, output)
	for _, lib := range manifest.Libraries() {
		fmt.Printf("  %-10s %-6s %d source(s)\n", lib.Name, lib.Kind, len(lib.Sources))
	}
	return nil
}

func trimAll(tokens []string) []string {
	out := tokens[:0]
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
