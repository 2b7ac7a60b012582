package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/michaelbrown/execd/internal/app"
	"github.com/michaelbrown/execd/internal/config"
	"github.com/michaelbrown/execd/internal/execution"
	"github.com/michaelbrown/execd/internal/logging"
	"github.com/michaelbrown/execd/internal/sandbox"
	"github.com/michaelbrown/execd/internal/server"
)

var (
	runFileFlags   []string
	runTimeoutFlag int
	runRequestFlag string
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a payload once and print the JSON result",
	Long: `Run a payload locally through the same pipeline the server uses and print
the /execute response body.

The payload comes from the file argument, from the request manifest, or from
stdin when neither is given. A manifest is YAML with code, files and timeoutMs.

Examples:
  execd run plot.py
  execd run analyze.py --file data/in.csv=./sample.csv --timeout 20000
  execd run --request job.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVar(&runFileFlags, "file", nil, "Workspace file as dst=src (repeatable)")
	runCmd.Flags().IntVar(&runTimeoutFlag, "timeout", 0, "Timeout in milliseconds (clamped to the configured bounds; default from config)")
	runCmd.Flags().StringVar(&runRequestFlag, "request", "", "YAML request manifest")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	var timeoutMs *int
	if cmd.Flags().Changed("timeout") {
		timeoutMs = &runTimeoutFlag
	}
	req, err := buildRequest(args, runRequestFlag, runFileFlags, timeoutMs)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := app.New(ctx, cfg, logger)
	defer a.Close()

	res := a.Service.Execute(ctx, req)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(server.NewExecuteResponse(res)); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	if res.Outcome != sandbox.OutcomeOK {
		return fmt.Errorf("execution finished with %s", res.Outcome)
	}
	return nil
}

// buildRequest assembles a request from a manifest, a payload file and
// --file/--timeout flags. Flags override manifest values.
func buildRequest(args []string, manifest string, files []string, timeoutMs *int) (execution.Request, error) {
	var req execution.Request
	if manifest != "" {
		data, err := os.ReadFile(manifest)
		if err != nil {
			return req, fmt.Errorf("reading manifest: %w", err)
		}
		if err := yaml.Unmarshal(data, &req); err != nil {
			return req, fmt.Errorf("parsing manifest %s: %w", manifest, err)
		}
	}

	switch {
	case len(args) == 1:
		code, err := os.ReadFile(args[0])
		if err != nil {
			return req, fmt.Errorf("reading payload: %w", err)
		}
		req.Code = string(code)
	case manifest == "":
		code, err := readStdin()
		if err != nil {
			return req, err
		}
		req.Code = code
	}

	for _, arg := range files {
		f, err := parseFileFlag(arg)
		if err != nil {
			return req, err
		}
		req.Files = append(req.Files, f)
	}
	if timeoutMs != nil {
		req.TimeoutMs = timeoutMs
	}
	return req, nil
}

// parseFileFlag reads a dst=src pair. Without "=", the file keeps its base
// name in the workspace.
func parseFileFlag(arg string) (sandbox.FileInput, error) {
	dst, src, ok := strings.Cut(arg, "=")
	if !ok {
		src = arg
		dst = filepath.Base(arg)
	}
	if dst == "" || src == "" {
		return sandbox.FileInput{}, fmt.Errorf("invalid --file %q, want dst=src", arg)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return sandbox.FileInput{}, fmt.Errorf("reading %s: %w", src, err)
	}
	return sandbox.FileInput{Path: filepath.ToSlash(dst), Content: string(data)}, nil
}

func readStdin() (string, error) {
	info, err := os.Stdin.Stat()
	if err == nil && info.Mode()&os.ModeCharDevice != 0 {
		return "", errors.New("no payload: pass a file or --request, or pipe code on stdin")
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(data), nil
}
