package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/michaelbrown/execd/internal/app"
	"github.com/michaelbrown/execd/internal/artifact"
	"github.com/michaelbrown/execd/internal/config"
	"github.com/michaelbrown/execd/internal/execution"
	"github.com/michaelbrown/execd/internal/logging"
	"github.com/michaelbrown/execd/internal/sandbox"
)

const maxTextLen = 4000

// maxTimeoutArg keeps float timeouts inside int range. It is far above any
// configured bound, so clamping still yields the maximum.
const maxTimeoutArg = 1e9

func main() {
	// stdout carries the MCP protocol; everything else goes to stderr.
	cfg, err := config.Load(os.Getenv("EXECD_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	a := app.New(context.Background(), cfg, logger)
	defer a.Close()

	s := server.NewMCPServer("execd-code-runner", "0.1.0")
	s.AddTool(executeCodeTool(cfg.Exec.Language), newHandler(a.Service))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
	}
}

func executeCodeTool(language string) mcp.Tool {
	return mcp.Tool{
		Name: "execute_code",
		Description: fmt.Sprintf("Execute %s code in an isolated workspace. Returns stdout, stderr, "+
			"the exit status and any PNG or JPEG images the code wrote.", strings.ToLower(language)),
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to execute",
				},
				"files": map[string]any{
					"type":        "array",
					"description": "Files to place in the workspace before running (optional)",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"path":    map[string]any{"type": "string"},
							"content": map[string]any{"type": "string"},
						},
						"required": []string{"path", "content"},
					},
				},
				"timeoutMs": map[string]any{
					"type":        "integer",
					"description": "Wall-clock limit in milliseconds (default 10000, clamped to 1000-30000)",
				},
			},
			Required: []string{"code"},
		},
	}
}

// executor is the part of execution.Service the tool uses.
type executor interface {
	Execute(ctx context.Context, req execution.Request) *execution.Result
}

func newHandler(exec executor) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := request.Params.Arguments.(map[string]any)
		if args == nil {
			return errResult("error: invalid arguments"), nil
		}

		req, err := parseArgs(args)
		if err != nil {
			return errResult("error: " + err.Error()), nil
		}

		return toolResult(exec.Execute(ctx, req)), nil
	}
}

func parseArgs(args map[string]any) (execution.Request, error) {
	code, ok := args["code"].(string)
	if !ok {
		return execution.Request{}, fmt.Errorf("'code' is required")
	}
	req := execution.Request{Code: code}

	// JSON numbers arrive as float64. Bound them before converting; the
	// service clamps the result.
	if t, ok := args["timeoutMs"].(float64); ok {
		ms := int(max(min(t, maxTimeoutArg), -maxTimeoutArg))
		req.TimeoutMs = &ms
	}

	if raw, ok := args["files"].([]any); ok {
		for i, item := range raw {
			m, _ := item.(map[string]any)
			path, _ := m["path"].(string)
			content, _ := m["content"].(string)
			if path == "" {
				return execution.Request{}, fmt.Errorf("files[%d]: 'path' is required", i)
			}
			req.Files = append(req.Files, sandbox.FileInput{Path: path, Content: content})
		}
	}
	return req, nil
}

func toolResult(res *execution.Result) *mcp.CallToolResult {
	var output strings.Builder
	if res.Stdout != "" {
		output.WriteString(res.Stdout)
	}
	if res.Stderr != "" {
		if output.Len() > 0 {
			output.WriteString("\n")
		}
		output.WriteString("STDERR:\n" + res.Stderr)
	}
	if res.Outcome != sandbox.OutcomeOK {
		output.WriteString(fmt.Sprintf("\noutcome: %s, exit code: %d", res.Outcome, res.ExitCode))
	}

	text := output.String()
	if len(text) > maxTextLen {
		text = text[:maxTextLen] + "\n... (output truncated)"
	}

	content := []mcp.Content{mcp.TextContent{Type: "text", Text: text}}
	for _, a := range res.Artifacts {
		switch a.Storage {
		case artifact.StorageBase64:
			content = append(content, mcp.ImageContent{Type: "image", Data: a.Data, MIMEType: a.MediaType})
		case artifact.StorageRemote:
			content = append(content, mcp.TextContent{Type: "text", Text: fmt.Sprintf("image %s: %s", a.Path, a.URL)})
		}
	}

	return &mcp.CallToolResult{
		Content: content,
		IsError: res.Outcome != sandbox.OutcomeOK,
	}
}

func errResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}},
		IsError: true,
	}
}
