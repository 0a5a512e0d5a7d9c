package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/memento/internal/service"
)

func registerAdminTools(s *server.MCPServer, deps *Dependencies) {
	s.AddTool(mcp.NewTool("export_memories",
		mcp.WithDescription("Export a user's memories as a checksummed document. Vault content stays sealed."),
		mcp.WithString("user", mcp.Description("User to export. Defaults to the configured user.")),
		mcp.WithBoolean("include_forgotten", mcp.Description("Include suppressed, archived, and pending-delete memories. Default: false")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		doc, err := deps.Svc.ExportMemories(ctx, argString(args, "user"), argBool(args, "include_forgotten", false))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(doc)
	})

	s.AddTool(mcp.NewTool("import_memories",
		mcp.WithDescription("Import a previously exported document. Existing ids are skipped; the checksum is verified."),
		mcp.WithString("document", mcp.Required(), mcp.Description("The export document JSON")),
		mcp.WithBoolean("skip_rederivation", mcp.Description("Do not recreate loops and events from imported memories. Default: false")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		var doc service.ExportDocument
		if err := json.Unmarshal([]byte(argString(args, "document")), &doc); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("bad export document: %v", err)), nil
		}
		res, err := deps.Svc.ImportMemories(ctx, &doc, argBool(args, "skip_rederivation", false))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(res)
	})

	s.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Service health: collection counters, reconciler backlog, gate queues, and process stats."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := deps.Svc.GetStatus(ctx)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(st)
	})
}
