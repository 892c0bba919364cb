package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/tandem/internal/delta"
	"github.com/hpungsan/tandem/internal/docs"
	"github.com/hpungsan/tandem/internal/errors"
	"github.com/hpungsan/tandem/internal/history"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	svc *docs.Service
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *docs.Service) *Handlers {
	return &Handlers{svc: svc}
}

// Request types for each tool

// CreateRequest represents the arguments for doc_create.
type CreateRequest struct {
	Title      *string       `json:"title,omitempty"`
	Text       string        `json:"text,omitempty"`
	Content    *delta.Change `json:"content,omitempty"`
	InitialRev int           `json:"initial_rev,omitempty"`
}

// FetchRequest represents the arguments for doc_fetch.
type FetchRequest struct {
	ID  string `json:"id"`
	Rev *int   `json:"rev,omitempty"`
}

// AppendRequest represents the arguments for doc_append.
type AppendRequest struct {
	ID      string         `json:"id"`
	Branch  string         `json:"branch,omitempty"`
	Changes []delta.Change `json:"changes"`
}

// SyncRequest represents the arguments for doc_merge and doc_rebase.
type SyncRequest struct {
	ID      string         `json:"id"`
	BaseRev *int           `json:"base_rev"`
	Branch  string         `json:"branch"`
	Changes []delta.Change `json:"changes"`
	DryRun  bool           `json:"dry_run,omitempty"`
}

// ChangesRequest represents the arguments for doc_changes.
type ChangesRequest struct {
	ID   string `json:"id"`
	From *int   `json:"from,omitempty"`
	To   *int   `json:"to,omitempty"`
}

// ListRequest represents the arguments for doc_list.
type ListRequest struct {
	Limit          int  `json:"limit,omitempty"`
	Offset         int  `json:"offset,omitempty"`
	IncludeDeleted bool `json:"include_deleted,omitempty"`
}

// DeleteRequest represents the arguments for doc_delete.
type DeleteRequest struct {
	ID string `json:"id"`
}

// ExportRequest represents the arguments for doc_export.
type ExportRequest struct {
	Path           string `json:"path,omitempty"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
}

// ImportRequest represents the arguments for doc_import.
type ImportRequest struct {
	Path string `json:"path"`
	Mode string `json:"mode,omitempty"`
}

// Handler implementations

// HandleCreate handles the doc_create tool call.
func (h *Handlers) HandleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CreateRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.svc.Create(ctx, docs.CreateInput{
		Title:      input.Title,
		Text:       input.Text,
		Content:    input.Content,
		InitialRev: input.InitialRev,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleFetch handles the doc_fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[FetchRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.svc.Fetch(ctx, docs.FetchInput{ID: input.ID, Rev: input.Rev})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleAppend handles the doc_append tool call.
func (h *Handlers) HandleAppend(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AppendRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.svc.Append(ctx, docs.AppendInput{
		ID:      input.ID,
		Branch:  input.Branch,
		Changes: input.Changes,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleMerge handles the doc_merge tool call.
func (h *Handlers) HandleMerge(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeSync(req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.svc.Merge(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleRebase handles the doc_rebase tool call.
func (h *Handlers) HandleRebase(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decodeSync(req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.svc.Rebase(ctx, input)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

func decodeSync(req mcp.CallToolRequest) (docs.SyncInput, error) {
	input, err := decode[SyncRequest](req)
	if err != nil {
		return docs.SyncInput{}, err
	}
	if input.BaseRev == nil {
		return docs.SyncInput{}, errors.NewInvalidRequest("base_rev is required")
	}
	return docs.SyncInput{
		ID: input.ID,
		SyncRequest: history.SyncRequest{
			BaseRev: *input.BaseRev,
			Branch:  strings.TrimSpace(input.Branch),
			Changes: input.Changes,
		},
		DryRun: input.DryRun,
	}, nil
}

// HandleChanges handles the doc_changes tool call.
func (h *Handlers) HandleChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ChangesRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.svc.Changes(ctx, docs.ChangesInput{ID: input.ID, From: input.From, To: input.To})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleList handles the doc_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.svc.List(ctx, docs.ListInput{
		Limit:          input.Limit,
		Offset:         input.Offset,
		IncludeDeleted: input.IncludeDeleted,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleDelete handles the doc_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeleteRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.svc.Delete(ctx, docs.DeleteInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleExport handles the doc_export tool call.
func (h *Handlers) HandleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.svc.Export(ctx, docs.ExportInput{
		Path:           input.Path,
		IncludeDeleted: input.IncludeDeleted,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleImport handles the doc_import tool call.
func (h *Handlers) HandleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ImportRequest](req)
	if err != nil {
		return errorResult(err), nil
	}

	result, err := h.svc.Import(ctx, docs.ImportInput{
		Path: input.Path,
		Mode: docs.ImportMode(input.Mode),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are never exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if sErr, ok := errors.As(err); ok {
		// keep wrapper context such as "changes[2]: "
		message := strings.Replace(err.Error(), sErr.Error(), sErr.Message, 1)
		if sErr.Code == errors.ErrInternal {
			message = sErr.Message
		}
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": message,
			"status":  sErr.Status,
		}
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
