package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/memento/internal/types"
)

func registerAnticipationTools(s *server.MCPServer, deps *Dependencies) {
	s.AddTool(mcp.NewTool("anticipate",
		mcp.WithDescription("Forecast upcoming contexts from formed patterns and optional calendar events. Returns predictions with pre-surfaced memories, or how many days of observations are still needed."),
		mcp.WithString("user", mcp.Description("User to forecast for. Defaults to the configured user.")),
		mcp.WithString("calendar", mcp.Description(`JSON array of upcoming events: [{"title","starts_at","location","attendees"}]`)),
		mcp.WithNumber("look_ahead_minutes", mcp.Description("Forecast window. Default: 60")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)

		var calendar []types.CalendarEvent
		if raw := argString(args, "calendar"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &calendar); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("bad calendar payload: %v", err)), nil
			}
		}
		lookAhead := time.Duration(argInt(args, "look_ahead_minutes", 60)) * time.Minute

		forecast, err := deps.Svc.Anticipate.Anticipate(ctx, argString(args, "user"), calendar, lookAhead)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(forecast)
	})

	s.AddTool(mcp.NewTool("day_outlook",
		mcp.WithDescription("Morning summary: greeting, outlook line, pattern insights, and up to five upcoming context switches."),
		mcp.WithString("user", mcp.Description("User to summarize for. Defaults to the configured user.")),
		mcp.WithString("date", mcp.Description("Day to summarize (YYYY-MM-DD). Default: today")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		date, err := parseTime(argString(args, "date"))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		outlook, err := deps.Svc.Anticipate.DayOutlook(ctx, argString(args, "user"), date)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(outlook)
	})

	s.AddTool(mcp.NewTool("pattern_stats",
		mcp.WithDescription("Pattern formation progress: observation counts, observed days, formed patterns, and prediction readiness."),
		mcp.WithString("user", mcp.Description("User to report on. Defaults to the configured user.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		stats, err := deps.Svc.Anticipate.PatternStats(ctx, argString(args, "user"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(stats)
	})

	s.AddTool(mcp.NewTool("memory_feedback",
		mcp.WithDescription("Tell the anticipation engine how a prediction landed: used, ignored, or dismissed. Adjusts the pattern's confidence."),
		mcp.WithString("pattern_id", mcp.Required(), mcp.Description("The pattern the prediction came from")),
		mcp.WithString("action", mcp.Required(), mcp.Description("One of: used, ignored, dismissed")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		p, err := deps.Svc.Anticipate.Feedback(ctx, argString(args, "pattern_id"), types.FeedbackAction(argString(args, "action")))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"pattern_id": p.ID, "confidence": p.Confidence, "status": p.Status})
	})
}
