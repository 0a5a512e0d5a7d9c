package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/memento/internal/pipeline"
	"github.com/vthunder/memento/internal/types"
)

func registerForgetTools(s *server.MCPServer, deps *Dependencies) {
	s.AddTool(mcp.NewTool("forget",
		mcp.WithDescription("Forget a memory. suppress hides it but keeps loops and events; archive hides it and drops the vector; delete cascades and hard-deletes after the grace period."),
		mcp.WithString("memory_id", mcp.Required(), mcp.Description("The memory to forget")),
		mcp.WithString("mode", mcp.Required(), mcp.Description("One of: suppress, archive, delete")),
		mcp.WithString("reason", mcp.Description("Why it is being forgotten")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		res, err := deps.Svc.Pipeline.Forget(ctx, argString(args, "memory_id"), types.ForgetMode(argString(args, "mode")), argString(args, "reason"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(res)
	})

	s.AddTool(mcp.NewTool("forget_person",
		mcp.WithDescription("Forget every memory mentioning a person, optionally also closing their loops and deleting their timeline events."),
		mcp.WithString("person", mcp.Required(), mcp.Description("Who to forget")),
		mcp.WithString("user", mcp.Description("User whose records to touch. Defaults to the configured user.")),
		mcp.WithString("mode", mcp.Description("One of: suppress, archive, delete. Default: suppress")),
		mcp.WithString("reason", mcp.Description("Why they are being forgotten")),
		mcp.WithBoolean("include_loops", mcp.Description("Also close person-level loops. Default: false")),
		mcp.WithBoolean("include_events", mcp.Description("Also delete the person's timeline events. Default: false")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		mode := types.ForgetMode(argString(args, "mode"))
		if mode == "" {
			mode = types.ForgetSuppress
		}
		res, err := deps.Svc.Pipeline.ForgetPerson(ctx, argString(args, "user"), argString(args, "person"), pipeline.PersonForgetOpts{
			Mode:          mode,
			Reason:        argString(args, "reason"),
			IncludeLoops:  argBool(args, "include_loops", false),
			IncludeEvents: argBool(args, "include_events", false),
		})
		if err != nil {
			return errResult(err)
		}
		return jsonResult(res)
	})

	s.AddTool(mcp.NewTool("restore",
		mcp.WithDescription("Restore a suppressed or archived memory to active and rebuild its vector entry."),
		mcp.WithString("memory_id", mcp.Required(), mcp.Description("The memory to restore")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		m, err := deps.Svc.Pipeline.Restore(ctx, argString(args, "memory_id"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(m)
	})

	s.AddTool(mcp.NewTool("reassociate",
		mcp.WithDescription("Edit a memory's associations: add or remove people, topics, and tags, or set the project. Salience re-scores against the current context."),
		mcp.WithString("memory_id", mcp.Required(), mcp.Description("The memory to edit")),
		mcp.WithString("add_people", mcp.Description("Comma-separated people to add")),
		mcp.WithString("remove_people", mcp.Description("Comma-separated people to remove")),
		mcp.WithString("add_topics", mcp.Description("Comma-separated topics to add")),
		mcp.WithString("remove_topics", mcp.Description("Comma-separated topics to remove")),
		mcp.WithString("add_tags", mcp.Description("Comma-separated tags to add")),
		mcp.WithString("remove_tags", mcp.Description("Comma-separated tags to remove")),
		mcp.WithString("project", mcp.Description("Project tag to set. An empty string clears it; omit to leave unchanged.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		diff := pipeline.ReassociateDiff{
			AddPeople:    splitList(argString(args, "add_people")),
			RemovePeople: splitList(argString(args, "remove_people")),
			AddTopics:    splitList(argString(args, "add_topics")),
			RemoveTopics: splitList(argString(args, "remove_topics")),
			AddTags:      splitList(argString(args, "add_tags")),
			RemoveTags:   splitList(argString(args, "remove_tags")),
		}
		if v, ok := args["project"].(string); ok {
			diff.Project = &v
		}

		memoryID := argString(args, "memory_id")
		m, err := deps.Svc.Store.GetMemory(ctx, memoryID)
		if err != nil {
			return errResult(err)
		}
		frame, err := deps.Svc.Frames.ActiveFrame(ctx, m.User)
		if err != nil {
			frame = nil
		}
		updated, err := deps.Svc.Pipeline.Reassociate(ctx, memoryID, diff, frame)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(updated)
	})
}
