package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/memento/internal/frame"
	"github.com/vthunder/memento/internal/types"
)

func registerContextTools(s *server.MCPServer, deps *Dependencies) {
	s.AddTool(mcp.NewTool("set_context",
		mcp.WithDescription("Update the context frame for a device: location, people present, activity, mood. Only provided dimensions change. Returns the frame and a relevance snapshot for the people in context."),
		mcp.WithString("user", mcp.Description("User the context belongs to. Defaults to the configured user.")),
		mcp.WithString("device_id", mcp.Description("Device the context comes from. Omit for the user-level frame.")),
		mcp.WithString("device_type", mcp.Description("One of: mobile, desktop, web, api, mcp. Default: api")),
		mcp.WithString("location", mcp.Description("Where the user is")),
		mcp.WithString("people", mcp.Description("Comma-separated people present")),
		mcp.WithString("activity", mcp.Description("What the user is doing")),
		mcp.WithString("mood", mcp.Description("How the user is feeling")),
		mcp.WithString("calendar", mcp.Description("The current or next calendar event title")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)

		var upd frame.Update
		if v, ok := args["location"].(string); ok {
			upd.Location = &v
		}
		if v, ok := args["activity"].(string); ok {
			upd.Activity = &v
		}
		if v, ok := args["mood"].(string); ok {
			upd.Mood = &v
		}
		if v, ok := args["calendar"].(string); ok {
			upd.Calendar = &v
		}
		if v, ok := args["people"].(string); ok {
			upd.People = splitList(v)
		}
		dev := frame.Device{
			ID:   argString(args, "device_id"),
			Type: types.DeviceType(argString(args, "device_type")),
		}

		f, snap, err := deps.Svc.Frames.SetContext(ctx, argString(args, "user"), upd, dev)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"frame": f, "snapshot": snap})
	})

	s.AddTool(mcp.NewTool("whats_relevant",
		mcp.WithDescription("What matters right now: the current context (per-device or unified across devices) plus the memories relevant to it."),
		mcp.WithString("user", mcp.Description("User to look up. Defaults to the configured user.")),
		mcp.WithString("device_id", mcp.Description("Device frame to read. Required unless unified=true.")),
		mcp.WithBoolean("unified", mcp.Description("Fuse all active device frames. Default: false")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		rel, err := deps.Svc.WhatsRelevant(ctx, argString(args, "user"), argString(args, "device_id"), argBool(args, "unified", false))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(rel)
	})

	s.AddTool(mcp.NewTool("clear_context",
		mcp.WithDescription("Clear context dimensions. Omitting dimensions clears everything; omitting device_id touches only the user-level frame."),
		mcp.WithString("user", mcp.Description("User whose context to clear. Defaults to the configured user.")),
		mcp.WithString("device_id", mcp.Description("Device frame to clear")),
		mcp.WithString("dimensions", mcp.Description("Comma-separated dimensions: location, people, activity, mood, calendar")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		f, err := deps.Svc.Frames.ClearContext(ctx, argString(args, "user"), splitList(argString(args, "dimensions")), argString(args, "device_id"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(f)
	})

	s.AddTool(mcp.NewTool("list_devices",
		mcp.WithDescription("List the user's device frames with an active flag (updated within the fusion window)."),
		mcp.WithString("user", mcp.Description("User whose devices to list. Defaults to the configured user.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		devices, err := deps.Svc.Frames.ListDevices(ctx, argString(args, "user"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(devices)
	})
}
