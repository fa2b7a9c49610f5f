package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nearspeed/nearspeed/internal/config"
	"github.com/nearspeed/nearspeed/speedtest"
)

// maxToolTimeout bounds the per-direction deadline a tool caller may ask for.
const maxToolTimeout = 120

type mcpTools struct {
	cfg    *config.Config
	client *speedtest.Speedtest
}

// serveMCP exposes the pipeline stages as MCP tools over stdio. Blocks until
// stdin closes.
func serveMCP(cfg *config.Config) int {
	tools := &mcpTools{cfg: cfg, client: newClient(cfg)}
	defer tools.client.CloseIdleConnections()

	s := server.NewMCPServer("nearspeed", version, server.WithToolCapabilities(true))

	s.AddTool(mcp.NewTool("detect_location",
		mcp.WithDescription("Detect the caller's approximate country and city. Returns null location when it cannot be determined."),
	), tools.handleDetectLocation)

	s.AddTool(mcp.NewTool("select_server",
		mcp.WithDescription("Pick the nearest reachable server from the server list, preferring the same city, then country, then anywhere."),
		mcp.WithString("servers", mcp.Description("Server list JSON file (default: configured list)")),
		mcp.WithString("at", mcp.Description("Location override as \"Country,City\" or \"Country\" (default: detected)")),
	), tools.handleSelectServer)

	s.AddTool(mcp.NewTool("measure_download",
		mcp.WithDescription("Measure download bandwidth against a host. A transfer cut off at the deadline is scored on the bytes received."),
		mcp.WithString("host", mcp.Required(), mcp.Description("Server host, e.g. speed.example.com:8080")),
		mcp.WithNumber("timeout", mcp.Description("Deadline in seconds, 1-120 (default: configured timeout)")),
	), tools.handleMeasure(speedtest.Download))

	s.AddTool(mcp.NewTool("measure_upload",
		mcp.WithDescription("Measure upload bandwidth against a host by posting a generated payload."),
		mcp.WithString("host", mcp.Required(), mcp.Description("Server host, e.g. speed.example.com:8080")),
		mcp.WithNumber("timeout", mcp.Description("Deadline in seconds, 1-120 (default: configured timeout)")),
		mcp.WithNumber("size_mb", mcp.Description("Payload size in MiB (default: configured upload size)")),
	), tools.handleMeasure(speedtest.Upload))

	s.AddTool(mcp.NewTool("automated_test",
		mcp.WithDescription("Detect location, select the nearest reachable server, then measure download and upload against it."),
		mcp.WithString("servers", mcp.Description("Server list JSON file (default: configured list)")),
		mcp.WithString("at", mcp.Description("Location override as \"Country,City\" or \"Country\" (default: detected)")),
	), tools.handleAutomated)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "nearspeed mcp: error: %v\n", err)
		return exitInput
	}
	return exitOK
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("JSON encoding failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (t *mcpTools) handleDetectLocation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	loc := t.client.ResolveLocation(ctx)
	return toolJSON(map[string]any{"location": loc})
}

// inputs loads the server list and the optional location override named by req.
func (t *mcpTools) inputs(req mcp.CallToolRequest) (speedtest.Servers, *speedtest.Location, error) {
	list, err := speedtest.LoadServerList(req.GetString("servers", t.cfg.ServerList))
	if err != nil {
		return nil, nil, err
	}
	if at := req.GetString("at", ""); at != "" {
		loc, err := speedtest.ParseLocation(at)
		if err != nil {
			return nil, nil, err
		}
		return list.Servers, loc, nil
	}
	return list.Servers, nil, nil
}

func (t *mcpTools) handleSelectServer(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	servers, loc, err := t.inputs(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Server selection failed: %v", err)), nil
	}
	if loc == nil {
		loc = t.client.ResolveLocation(ctx)
	}
	sel, err := t.client.SelectBest(ctx, servers, loc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Server selection failed: %v (%d probed)", err, len(sel.Probed))), nil
	}
	return toolJSON(speedtest.NewReport(loc, sel, nil, nil))
}

func (t *mcpTools) handleMeasure(direction speedtest.Direction) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		host := req.GetString("host", "")
		if host == "" {
			return mcp.NewToolResultError("host is required"), nil
		}
		var deadline time.Duration
		if secs := req.GetInt("timeout", 0); secs > 0 {
			deadline = time.Duration(min(secs, maxToolTimeout)) * time.Second
		}

		var result *speedtest.TransferResult
		if direction == speedtest.Upload {
			size := int64(req.GetInt("size_mb", 0)) * speedtest.MiB
			if size < 0 {
				size = 0
			}
			result = t.client.MeasureUpload(ctx, host, size, deadline, nil)
		} else {
			result = t.client.MeasureDownload(ctx, host, deadline, nil)
		}
		return toolJSON(speedtest.NewTransferReport(result))
	}
}

func (t *mcpTools) handleAutomated(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	servers, loc, err := t.inputs(req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Automated test failed: %v", err)), nil
	}
	report, err := t.client.Automated(ctx, servers, loc, nil)
	if err != nil && report == nil {
		return mcp.NewToolResultError(fmt.Sprintf("Automated test failed: %v", err)), nil
	}
	return toolJSON(report)
}
