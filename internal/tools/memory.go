package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/memento/internal/recall"
	"github.com/vthunder/memento/internal/service"
)

func registerMemoryTools(s *server.MCPServer, deps *Dependencies) {
	s.AddTool(mcp.NewTool("store_memory",
		mcp.WithDescription("Store one observation as a memory. Extracts people, topics, commitments, and events; scores salience; derives open loops and timeline entries."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The observation to remember")),
		mcp.WithString("user", mcp.Description("User the memory belongs to. Defaults to the configured user.")),
		mcp.WithBoolean("use_llm", mcp.Description("Allow LLM extraction when configured. Default: true")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		text := argString(args, "text")
		user := argString(args, "user")
		useLLM := argBool(args, "use_llm", true)

		frame, err := deps.Svc.Frames.ActiveFrame(ctx, userOr(deps, user))
		if err != nil {
			frame = nil
		}
		res, err := deps.Svc.Pipeline.Store(ctx, user, text, frame, useLLM)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(res)
	})

	s.AddTool(mcp.NewTool("recall",
		mcp.WithDescription("Retrieve memories matching a query, ranked by relevance and salience. An empty query returns recent important memories."),
		mcp.WithString("query", mcp.Description("What to look for")),
		mcp.WithString("user", mcp.Description("User to search. Defaults to the configured user.")),
		mcp.WithNumber("limit", mcp.Description("Maximum results. Default: 10")),
		mcp.WithString("person", mcp.Description("Only memories mentioning this person")),
		mcp.WithNumber("min_salience", mcp.Description("Minimum salience score 0-100")),
		mcp.WithString("project", mcp.Description("Only memories tagged with this project")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		opts := recall.Options{
			Limit:       argInt(args, "limit", 10),
			MinSalience: argInt(args, "min_salience", 0),
			Project:     argString(args, "project"),
		}
		if person := argString(args, "person"); person != "" {
			opts.People = []string{person}
		}

		results, err := deps.Svc.Recall.Recall(ctx, argString(args, "user"), argString(args, "query"), opts)
		if err != nil {
			return errResult(err)
		}

		type row struct {
			ID        string    `json:"id"`
			Text      string    `json:"text"`
			Salience  int       `json:"salience"`
			Relevance float64   `json:"relevance"`
			People    []string  `json:"people,omitempty"`
			CreatedAt time.Time `json:"created_at"`
		}
		rows := make([]row, 0, len(results))
		for _, r := range results {
			rows = append(rows, row{
				ID:        r.Memory.ID,
				Text:      r.Memory.Text,
				Salience:  r.Memory.Salience,
				Relevance: r.Relevance,
				People:    r.Memory.Features.People,
				CreatedAt: r.Memory.CreatedAt,
			})
		}
		return jsonResult(rows)
	})

	s.AddTool(mcp.NewTool("vote_on_memories",
		mcp.WithDescription("Adjust memory salience by vote: up adds 3, down subtracts 3, clamped to 0-100."),
		mcp.WithString("memory_ids", mcp.Required(), mcp.Description("Comma-separated memory ids")),
		mcp.WithBoolean("up", mcp.Description("Vote direction. Default: true")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		up := argBool(args, "up", true)
		var votes []recall.Vote
		for _, id := range splitList(argString(args, "memory_ids")) {
			votes = append(votes, recall.Vote{MemoryID: id, Up: up})
		}
		results, err := deps.Svc.Recall.VoteOnMemories(ctx, votes)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(results)
	})

	s.AddTool(mcp.NewTool("get_briefing",
		mcp.WithDescription("Get the briefing for one person: relationship state, open loops, upcoming events, recent memories, and suggested topics."),
		mcp.WithString("person", mcp.Required(), mcp.Description("Who to brief on")),
		mcp.WithString("user", mcp.Description("User whose records to read. Defaults to the configured user.")),
		mcp.WithBoolean("quick", mcp.Description("Trim each section to the top entries. Default: false")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		b, err := deps.Svc.Briefings.Get(ctx, argString(args, "user"), argString(args, "person"), argBool(args, "quick", false))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(b)
	})

	s.AddTool(mcp.NewTool("list_loops",
		mcp.WithDescription("List open loops (unresolved commitments), soonest deadline first."),
		mcp.WithString("user", mcp.Description("User whose loops to list. Defaults to the configured user.")),
		mcp.WithString("owner", mcp.Description("Filter by owner: self, them, or mutual")),
		mcp.WithString("person", mcp.Description("Filter by the other party")),
		mcp.WithBoolean("include_overdue", mcp.Description("Keep loops already past due in the list. Default: true")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		loops, err := deps.Svc.ListLoops(ctx, argString(args, "user"), serviceLoopOptions(args))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(loops)
	})

	s.AddTool(mcp.NewTool("close_loop",
		mcp.WithDescription("Close an open loop. Closing an already closed loop is a no-op."),
		mcp.WithString("loop_id", mcp.Required(), mcp.Description("The loop to close")),
		mcp.WithString("note", mcp.Description("Why or how it was resolved")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		loop, err := deps.Svc.CloseLoop(ctx, argString(args, "loop_id"), argString(args, "note"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"closed": true, "closed_at": loop.ClosedAt, "loop": loop})
	})
}

func userOr(deps *Dependencies, user string) string {
	if user == "" {
		return deps.Svc.Cfg.DefaultUser
	}
	return user
}

func serviceLoopOptions(args map[string]any) service.LoopOptions {
	return service.LoopOptions{
		Owner:          argString(args, "owner"),
		Person:         argString(args, "person"),
		IncludeOverdue: argBool(args, "include_overdue", true),
	}
}
