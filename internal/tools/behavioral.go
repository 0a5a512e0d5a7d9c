package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func registerBehavioralTools(s *server.MCPServer, deps *Dependencies) {
	s.AddTool(mcp.NewTool("identify_user",
		mcp.WithDescription("Identify the likely author of a message by stylometric fingerprint. Returns the prediction with per-block scores; the predicted user is empty below the confidence threshold."),
		mcp.WithString("message", mcp.Required(), mcp.Description("The message to attribute")),
		mcp.WithString("candidates", mcp.Description("Comma-separated users to consider. Default: everyone with a fingerprint.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		p, err := deps.Svc.Behavioral.IdentifyUser(ctx, argString(args, "message"), splitList(argString(args, "candidates")))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(p)
	})

	s.AddTool(mcp.NewTool("behavioral_feedback",
		mcp.WithDescription("Confirm or correct an identification. Passing the original message re-trains the right fingerprint."),
		mcp.WithString("prediction_id", mcp.Required(), mcp.Description("The prediction being judged")),
		mcp.WithBoolean("correct", mcp.Required(), mcp.Description("Whether the prediction was right")),
		mcp.WithString("actual_user", mcp.Description("The real author. Required when correct=false.")),
		mcp.WithString("message", mcp.Description("The original message, for fingerprint re-training")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		p, err := deps.Svc.Behavioral.Feedback(ctx,
			argString(args, "prediction_id"), argString(args, "message"),
			argBool(args, "correct", true), argString(args, "actual_user"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(p)
	})

	s.AddTool(mcp.NewTool("behavioral_metrics",
		mcp.WithDescription("Fingerprint readiness and identification accuracy."),
		mcp.WithString("user", mcp.Description("One user's fingerprint. Default: all fingerprints.")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		m, err := deps.Svc.Behavioral.Metrics(ctx, argString(args, "user"))
		if err != nil {
			return errResult(err)
		}
		return jsonResult(m)
	})

	s.AddTool(mcp.NewTool("train_sample",
		mcp.WithDescription("Fold a known-author message into a user's behavioral fingerprint without an identification round."),
		mcp.WithString("user", mcp.Required(), mcp.Description("The message author")),
		mcp.WithString("message", mcp.Required(), mcp.Description("The sample message")),
		mcp.WithString("at", mcp.Description("When the message was written (RFC3339). Default: now")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, _ := req.Params.Arguments.(map[string]any)
		at, err := parseTime(argString(args, "at"))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		f, err := deps.Svc.Behavioral.TrainSample(ctx, argString(args, "user"), argString(args, "message"), at)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"user": f.User, "sample_count": f.SampleCount})
	})
}
