// Package mcpserver exposes the signed-in user's OCR history and the text
// tools of the backend to MCP clients over stdio.
package mcpserver

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mnemion/ocrdesk/internal/api"
	"github.com/mnemion/ocrdesk/internal/history"
	"github.com/mnemion/ocrdesk/internal/storage"
	"github.com/mnemion/ocrdesk/internal/upload"
)

const previewRunes = 200

// History is the cached extraction list. Implemented by history.Store.
type History interface {
	Fetch(ctx context.Context, ignoreCache bool) ([]history.Extraction, error)
	Invalidate()
}

// Backend is the subset of api.Client the tools call directly.
type Backend interface {
	upload.Extractor
	GetText(ctx context.Context, id int64) (api.Extraction, error)
	Summarize(ctx context.Context, req api.SummarizeRequest) (api.Summary, error)
	Translate(ctx context.Context, req api.TranslateRequest) (api.Translation, error)
	DetectLanguage(ctx context.Context, text string) (api.Language, error)
}

// Uploads lists recent upload outcomes. Implemented by storage.Store.
type Uploads interface {
	RecentUploads(limit int) ([]storage.UploadRecord, error)
}

// Deps holds dependencies for the MCP server.
type Deps struct {
	History  History
	Backend  Backend
	Uploads  Uploads // optional; nil hides the uploads resource
	Model    string
	Language string
	// MaxDimension bounds the longer side of uploaded images.
	MaxDimension int
	// Location renders timestamps; nil means UTC.
	Location *time.Location
}

func (d Deps) location() *time.Location { return cmp.Or(d.Location, time.UTC) }

// New creates an MCP server with every ocrdesk tool registered.
func New(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"ocrdesk",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("ocrdesk: OCR extraction history and text tools for the signed-in user."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_extractions",
			mcp.WithDescription("List the user's OCR extractions, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
			mcp.WithBoolean("bookmarked", mcp.Description("Only bookmarked extractions")),
			mcp.WithBoolean("refresh", mcp.Description("Bypass the local cache")),
		),
		listExtractions(deps),
	)

	s.AddTool(
		mcp.NewTool("get_extraction",
			mcp.WithDescription("Return the full text of one extraction."),
			mcp.WithNumber("id", mcp.Description("Extraction id"), mcp.Required()),
		),
		getExtraction(deps),
	)

	s.AddTool(
		mcp.NewTool("extract_image",
			mcp.WithDescription("Run OCR on a local JPG or PNG file and store the result in the user's history."),
			mcp.WithString("path", mcp.Description("Path to the image file"), mcp.Required()),
			mcp.WithString("model", mcp.Description("OCR model (default from configuration)")),
			mcp.WithString("language", mcp.Description("OCR language (default from configuration)")),
		),
		extractImage(deps),
	)

	s.AddTool(
		mcp.NewTool("summarize_text",
			mcp.WithDescription("Summarize text with the backend's summarizer."),
			mcp.WithString("text", mcp.Description("Text to summarize"), mcp.Required()),
			mcp.WithString("style", mcp.Description("Summary style (e.g. concise, detailed)")),
			mcp.WithNumber("max_length", mcp.Description("Upper bound on summary length")),
		),
		summarizeText(deps),
	)

	s.AddTool(
		mcp.NewTool("translate_text",
			mcp.WithDescription("Translate text into the target language."),
			mcp.WithString("text", mcp.Description("Text to translate"), mcp.Required()),
			mcp.WithString("target_lang", mcp.Description("Target language code (e.g. en, ko)"), mcp.Required()),
			mcp.WithString("source_lang", mcp.Description("Source language code; detected when empty")),
		),
		translateText(deps),
	)

	s.AddTool(
		mcp.NewTool("detect_language",
			mcp.WithDescription("Detect the language of a text."),
			mcp.WithString("text", mcp.Description("Text to inspect"), mcp.Required()),
		),
		detectLanguage(deps),
	)

	if deps.Uploads != nil {
		s.AddResource(
			mcp.NewResource(
				"ocrdesk://uploads/recent",
				"Recent Uploads",
				mcp.WithResourceDescription("Last 20 upload outcomes recorded on this machine"),
				mcp.WithMIMEType("application/json"),
			),
			recentUploads(deps),
		)
	}

	return s
}

// ServeStdio runs s on r and w until ctx is cancelled or input ends.
func ServeStdio(ctx context.Context, s *server.MCPServer, r io.Reader, w io.Writer) error {
	return server.NewStdioServer(s).Listen(ctx, r, w)
}

type extractionSummary struct {
	ID           int64  `json:"id"`
	Filename     string `json:"filename"`
	CreatedAt    string `json:"created_at,omitempty"`
	IsBookmarked bool   `json:"is_bookmarked"`
	Preview      string `json:"preview"`
}

func listExtractions(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > 200 {
			limit = 200
		}
		onlyBookmarked := req.GetBool("bookmarked", false)

		list, err := deps.History.Fetch(ctx, req.GetBool("refresh", false))
		if err != nil {
			return mcpError(fmt.Sprintf("listing extractions failed: %v", err)), nil
		}

		results := make([]extractionSummary, 0, min(limit, len(list)))
		for _, e := range list {
			if len(results) == limit {
				break
			}
			if onlyBookmarked && !e.IsBookmarked {
				continue
			}
			s := extractionSummary{
				ID:           e.ID,
				Filename:     e.Filename,
				IsBookmarked: e.IsBookmarked,
				Preview:      truncate(e.Body(), previewRunes),
			}
			if e.CreatedAt != nil {
				s.CreatedAt = e.CreatedAt.In(deps.location()).Format(time.RFC3339)
			}
			results = append(results, s)
		}
		return mcpJSON(results)
	}
}

func getExtraction(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireInt("id")
		if err != nil || id <= 0 {
			return mcpError("id must be a positive number"), nil
		}
		e, err := deps.Backend.GetText(ctx, int64(id))
		if err != nil {
			return mcpError(fmt.Sprintf("fetching extraction %d failed: %v", id, err)), nil
		}
		text := e.ExtractedText
		if text == "" {
			text = e.Text
		}
		return mcpText(text), nil
	}
}

func extractImage(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}
		file, err := upload.ReadFile(path)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		flow := upload.NewFlow(deps.Backend, upload.FlowOptions{
			Model:        req.GetString("model", deps.Model),
			Language:     req.GetString("language", deps.Language),
			MaxDimension: deps.MaxDimension,
		})
		defer flow.Close()
		if err := flow.Select(file); err != nil {
			return mcpError(err.Error()), nil
		}
		res, err := flow.Upload(ctx, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("extraction failed: %v", err)), nil
		}
		deps.History.Invalidate()

		return mcpJSON(map[string]any{
			"id":       res.ID,
			"filename": res.Filename,
			"text":     res.Text,
		})
	}
}

func summarizeText(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || text == "" {
			return mcpError("text is required"), nil
		}
		s, err := deps.Backend.Summarize(ctx, api.SummarizeRequest{
			Text:      text,
			Style:     req.GetString("style", ""),
			MaxLength: req.GetInt("max_length", 0),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("summarization failed: %v", err)), nil
		}
		return mcpText(s.Summary), nil
	}
}

func translateText(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || text == "" {
			return mcpError("text is required"), nil
		}
		target, err := req.RequireString("target_lang")
		if err != nil || target == "" {
			return mcpError("target_lang is required"), nil
		}
		t, err := deps.Backend.Translate(ctx, api.TranslateRequest{
			Text:       text,
			TargetLang: target,
			SourceLang: req.GetString("source_lang", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("translation failed: %v", err)), nil
		}
		return mcpText(t.TranslatedText), nil
	}
}

func detectLanguage(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil || text == "" {
			return mcpError("text is required"), nil
		}
		l, err := deps.Backend.DetectLanguage(ctx, text)
		if err != nil {
			return mcpError(fmt.Sprintf("language detection failed: %v", err)), nil
		}
		return mcpJSON(l)
	}
}

func recentUploads(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Uploads.RecentUploads(20)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent uploads: %w", err)
		}

		type uploadSummary struct {
			ID           string `json:"id"`
			Batch        string `json:"batch,omitempty"`
			File         string `json:"file"`
			Status       string `json:"status"`
			ExtractionID int64  `json:"extraction_id,omitempty"`
			Error        string `json:"error,omitempty"`
			UpdatedAt    string `json:"updated_at"`
		}
		out := make([]uploadSummary, len(records))
		for i, r := range records {
			out[i] = uploadSummary{
				ID:           r.ID,
				Batch:        r.BatchID,
				File:         r.OriginalName,
				Status:       r.Status,
				ExtractionID: r.ExtractionID,
				Error:        r.Error,
				UpdatedAt:    r.UpdatedAt.In(deps.location()).Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal uploads: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
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
