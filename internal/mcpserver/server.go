// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the linking tools over stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/ansuz/internal/apperr"
	"github.com/starford/ansuz/internal/linker"
	"github.com/starford/ansuz/internal/models"
)

// Server wraps the MCP server with the linking tools.
type Server struct {
	mcp *server.MCPServer
	svc *linker.Service
}

// New creates a new MCP server with all tools registered.
func New(svc *linker.Service, version string) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"ansuz",
		version,
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("plan_scan",
		mcp.WithDescription("Plan which vault documents need embeddings, keywords or "+
			"suggestions recomputed. Returns the work items and the skipped paths."),
		mcp.WithString("current_file", mcp.Description("Document to process first")),
		mcp.WithBoolean("check_suggestions", mcp.Description("Include suggestion freshness (default from config)")),
	), s.planScan)

	s.mcp.AddTool(mcp.NewTool("suggest_links",
		mcp.WithDescription("Suggest notes the given note should link to, ranked by semantic similarity "+
			"and optionally reranked by the generation model."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note (e.g. folder/note.md)")),
		mcp.WithNumber("threshold", mcp.Description("Similarity threshold in [0, 1]")),
		mcp.WithNumber("max_results", mcp.Description("Maximum number of suggestions")),
		mcp.WithBoolean("rerank", mcp.Description("Rerank with the generation model")),
	), s.suggestLinks)

	s.mcp.AddTool(mcp.NewTool("related_notes",
		mcp.WithDescription("List the notes nearest to a note by embedding similarity alone. "+
			"The note must have been scanned."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note")),
		mcp.WithNumber("top_k", mcp.Description("Maximum number of notes (default 10)")),
	), s.relatedNotes)

	s.mcp.AddTool(mcp.NewTool("rank_candidates",
		mcp.WithDescription("Merge a free-form ranking response (\"Document N: score - reason\" lines "+
			"or JSON) with a candidate list. Ranked candidates come first, by score."),
		mcp.WithArray("candidates", mcp.Required(),
			mcp.Description("Candidates as objects with path, title, similarity and context")),
		mcp.WithString("response", mcp.Required(), mcp.Description("Ranking response text")),
	), s.rankCandidates)

	s.mcp.AddTool(mcp.NewTool("suggest_insertion",
		mcp.WithDescription("Propose the phrase in a note that should become a link to title."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Title of the link target")),
	), s.suggestInsertion)

	s.mcp.AddTool(mcp.NewTool("ignore_suggestion",
		mcp.WithDescription("Dismiss a suggestion pair. The pair is ignored in both orientations."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Note the suggestion was made for")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Suggested note")),
	), s.ignoreSuggestion)

	s.mcp.AddTool(mcp.NewTool("unignore_suggestion",
		mcp.WithDescription("Restore a dismissed suggestion pair."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Note the suggestion was made for")),
		mcp.WithString("target", mcp.Required(), mcp.Description("Suggested note")),
	), s.unignoreSuggestion)

	s.mcp.AddTool(mcp.NewTool("list_ignored",
		mcp.WithDescription("List dismissed suggestion pairs, newest first."),
	), s.listIgnored)

	s.mcp.AddTool(mcp.NewTool("invalidate_note",
		mcp.WithDescription("Forget everything computed for a note so the next scan redoes it."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the note")),
	), s.invalidateNote)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return mcp.NewToolResultError("not found: " + err.Error())
	case errors.Is(err, apperr.ErrNoEmbedding):
		return mcp.NewToolResultError("the note has no embedding yet; run a scan first")
	}
	return mcp.NewToolResultError(err.Error())
}

func optionalBool(req mcp.CallToolRequest, key string) *bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return nil
	}
	return &v
}

func (s *Server) planScan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	plan, err := s.svc.Plan(ctx, linker.PlanOptions{
		CurrentFile:      req.GetString("current_file", ""),
		CheckSuggestions: optionalBool(req, "check_suggestions"),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(plan)
}

func (s *Server) suggestLinks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := linker.SuggestOptions{
		MaxResults: req.GetInt("max_results", 0),
		Rerank:     optionalBool(req, "rerank"),
	}
	if v, ok := req.GetArguments()["threshold"].(float64); ok {
		if v < 0 || v > 1 {
			return mcp.NewToolResultError("threshold must be in [0, 1]"), nil
		}
		opts.Threshold = &v
	}
	res, err := s.svc.Suggest(ctx, path, opts)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) relatedNotes(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out, err := s.svc.Related(path, req.GetInt("top_k", 10))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(out)
}

func (s *Server) rankCandidates(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	response, err := req.RequireString("response")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, ok := req.GetArguments()["candidates"]
	if !ok {
		return mcp.NewToolResultError("required argument \"candidates\" not found"), nil
	}
	// Arguments arrive as generic JSON; round-trip into the typed shape.
	data, err := json.Marshal(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var candidates []models.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("candidates: %v", err)), nil
	}
	res, err := s.svc.Rank(candidates, response)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func (s *Server) suggestInsertion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.SuggestInsertion(ctx, path, title)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(res)
}

func pair(req mcp.CallToolRequest) (string, string, error) {
	source, err := req.RequireString("source")
	if err != nil {
		return "", "", err
	}
	target, err := req.RequireString("target")
	if err != nil {
		return "", "", err
	}
	if source == target {
		return "", "", errors.New("source and target must differ")
	}
	return source, target, nil
}

func (s *Server) ignoreSuggestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, target, err := pair(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.svc.Ignore(ctx, source, target); err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("ignored: %s -> %s", source, target)), nil
}

func (s *Server) unignoreSuggestion(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	source, target, err := pair(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ok, err := s.svc.Unignore(ctx, source, target)
	if err != nil {
		return errorResult(err), nil
	}
	if !ok {
		return mcp.NewToolResultText("pair was not ignored"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("restored: %s -> %s", source, target)), nil
}

func (s *Server) listIgnored(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ignored := s.svc.ListIgnored()
	if len(ignored) == 0 {
		return mcp.NewToolResultText("no ignored suggestions"), nil
	}
	return jsonResult(ignored)
}

func (s *Server) invalidateNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	n, err := s.svc.Invalidate(ctx, path)
	if err != nil {
		return errorResult(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("invalidated %s: %d entries", path, n)), nil
}
