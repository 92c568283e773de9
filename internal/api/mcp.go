package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/casematch/internal/storage"
)

// NewMCPServer creates an MCP server exposing the matching tools.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	deps.Thresholds = deps.Thresholds.withDefaults()

	s := server.NewMCPServer(
		"casematch",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("casematch: search case media for similar images, videos and faces, and review watchlist alerts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("find_similar_images",
			mcp.WithDescription("Find images whose signatures match a processed image."),
			mcp.WithString("media_id", mcp.Description("Media id of the query image"), mcp.Required()),
			mcp.WithString("match_type", mcp.Description("color, orb or combined (default combined)")),
			mcp.WithNumber("threshold", mcp.Description("Minimum score in [0, 1]")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 50)")),
		),
		mcpFindSimilarImages(deps),
	)

	s.AddTool(
		mcp.NewTool("find_similar_faces",
			mcp.WithDescription("Find stored faces within an embedding distance of a detected face."),
			mcp.WithString("face_id", mcp.Description("Id of the query face"), mcp.Required()),
			mcp.WithString("case_id", mcp.Description("Restrict the search to one case")),
			mcp.WithNumber("threshold", mcp.Description("Maximum embedding distance (default 0.6)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 50)")),
		),
		mcpFindSimilarFaces(deps),
	)

	s.AddTool(
		mcp.NewTool("compare_videos",
			mcp.WithDescription("Compare the signatures of two processed videos."),
			mcp.WithString("media_id_1", mcp.Description("First video media id"), mcp.Required()),
			mcp.WithString("media_id_2", mcp.Description("Second video media id"), mcp.Required()),
		),
		mcpCompareVideos(deps),
	)

	s.AddTool(
		mcp.NewTool("cluster_faces",
			mcp.WithDescription("Group stored faces into likely identities."),
			mcp.WithString("case_id", mcp.Description("Restrict clustering to one case")),
			mcp.WithNumber("threshold", mcp.Description("Seed distance threshold (default 0.5)")),
		),
		mcpClusterFaces(deps),
	)

	s.AddTool(
		mcp.NewTool("list_alerts",
			mcp.WithDescription("List watchlist alerts, newest first."),
			mcp.WithString("case_id", mcp.Description("Filter by case")),
			mcp.WithString("status", mcp.Description("Filter by status, e.g. new")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 100)")),
		),
		mcpListAlerts(deps),
	)

	return s
}

// optionalFloat returns a pointer to the named argument when it is present.
func optionalFloat(req mcp.CallToolRequest, name string) *float64 {
	if _, ok := req.GetArguments()[name]; !ok {
		return nil
	}
	v := req.GetFloat(name, 0)
	return &v
}

func mcpFindSimilarImages(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		mediaID, err := req.RequireString("media_id")
		if err != nil {
			return mcpError("media_id is required"), nil
		}
		resp, err := matchImages(deps, ImageMatchRequest{
			MediaID:   mediaID,
			MatchType: req.GetString("match_type", ""),
			Threshold: optionalFloat(req, "threshold"),
			Limit:     req.GetInt("limit", 0),
		})
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(resp)
	}
}

func mcpFindSimilarFaces(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		faceID, err := req.RequireString("face_id")
		if err != nil {
			return mcpError("face_id is required"), nil
		}
		resp, err := similarFaces(ctx, deps, faceID, req.GetString("case_id", ""),
			optionalFloat(req, "threshold"), req.GetInt("limit", 0))
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(resp)
	}
}

func mcpCompareVideos(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a, err := req.RequireString("media_id_1")
		if err != nil {
			return mcpError("media_id_1 is required"), nil
		}
		b, err := req.RequireString("media_id_2")
		if err != nil {
			return mcpError("media_id_2 is required"), nil
		}
		cmp, err := compareVideos(deps, VideoCompareRequest{MediaID1: a, MediaID2: b})
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(cmp)
	}
}

func mcpClusterFaces(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := clusterFaces(deps, ClusterRequest{
			CaseID:    req.GetString("case_id", ""),
			Threshold: optionalFloat(req, "threshold"),
		})
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpJSON(resp)
	}
}

func mcpListAlerts(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 100)
		if limit <= 0 || limit > maxLimit {
			limit = 100
		}
		alerts, err := listAlerts(deps, storage.AlertFilter{
			CaseID: req.GetString("case_id", ""),
			Status: req.GetString("status", ""),
			Limit:  limit,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("listing alerts failed: %v", err)), nil
		}
		return mcpJSON(alerts)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
