package mcp

import "github.com/mark3labs/mcp-go/mcp"

// changeSchema describes one change on the wire.
var changeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"ops": map[string]any{
			"type":        "array",
			"description": `Ops: {"insert": "text", "attributes": {...}}, {"retain": n, "attributes": {...}} or {"delete": n}`,
			"items":       map[string]any{"type": "object"},
		},
	},
	"required": []string{"ops"},
}

var createToolDef = mcp.NewTool("doc_create",
	mcp.WithDescription("Create a document. Returns its id and starting revision."),
	mcp.WithString("title", mcp.Description("Optional display title")),
	mcp.WithString("text", mcp.Description("Plain initial text")),
	mcp.WithObject("content", mcp.Description("Rich initial content as a change of inserts; excludes text")),
	mcp.WithNumber("initial_rev", mcp.Description("Revision number of the initial content (default 0)")),
)

var fetchToolDef = mcp.NewTool("doc_fetch",
	mcp.WithDescription("Fetch a document's content and text at a revision (default: current)."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	mcp.WithNumber("rev", mcp.Description("Revision to read")),
)

var appendToolDef = mcp.NewTool("doc_append",
	mcp.WithDescription("Append changes made on top of the current revision."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	mcp.WithString("branch", mcp.Description("Author branch (default: the document's own branch)")),
	mcp.WithArray("changes", mcp.Required(), mcp.Items(changeSchema), mcp.Description("Changes in order")),
)

var mergeToolDef = mcp.NewTool("doc_merge",
	mcp.WithDescription("Merge a peer's changes made at base_rev after the document's newer changes. "+
		"Returns the peer's changes as recorded and the changes the peer must apply to catch up."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	mcp.WithNumber("base_rev", mcp.Required(), mcp.Description("Revision the peer's changes were made on")),
	mcp.WithString("branch", mcp.Required(), mcp.Description("Peer branch name")),
	mcp.WithArray("changes", mcp.Required(), mcp.Items(changeSchema), mcp.Description("Peer changes in order")),
	mcp.WithBoolean("dry_run", mcp.Description("Compute the result without recording it")),
)

var rebaseToolDef = mcp.NewTool("doc_rebase",
	mcp.WithDescription("Rebase: record a peer's changes at base_rev and replay the document's newer changes on top. "+
		"Rewrites the log from base_rev."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	mcp.WithNumber("base_rev", mcp.Required(), mcp.Description("Revision the peer's changes were made on")),
	mcp.WithString("branch", mcp.Required(), mcp.Description("Peer branch name")),
	mcp.WithArray("changes", mcp.Required(), mcp.Items(changeSchema), mcp.Description("Peer changes in order")),
	mcp.WithBoolean("dry_run", mcp.Description("Compute the result without recording it")),
)

var changesToolDef = mcp.NewTool("doc_changes",
	mcp.WithDescription("List recorded changes in [from, to)."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
	mcp.WithNumber("from", mcp.Description("First revision (default: initial)")),
	mcp.WithNumber("to", mcp.Description("End revision, exclusive (default: current)")),
)

var listToolDef = mcp.NewTool("doc_list",
	mcp.WithDescription("List documents, most recently updated first."),
	mcp.WithReadOnlyHintAnnotation(true),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Page offset")),
	mcp.WithBoolean("include_deleted", mcp.Description("Include soft-deleted documents")),
)

var deleteToolDef = mcp.NewTool("doc_delete",
	mcp.WithDescription("Soft-delete a document."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("id", mcp.Required(), mcp.Description("Document id")),
)

var exportToolDef = mcp.NewTool("doc_export",
	mcp.WithDescription("Export documents with their full change logs to a JSONL file. "+
		"Files must sit directly in ~/.tandem/exports or a configured allowed path."),
	mcp.WithString("path", mcp.Description("Output .jsonl file (default: ~/.tandem/exports/docs-<time>.jsonl)")),
	mcp.WithBoolean("include_deleted", mcp.Description("Include soft-deleted documents")),
)

var importToolDef = mcp.NewTool("doc_import",
	mcp.WithDescription("Import documents from a JSONL export. Every record is replayed before anything is stored."),
	mcp.WithDestructiveHintAnnotation(true),
	mcp.WithString("path", mcp.Required(), mcp.Description("Export file to read")),
	mcp.WithString("mode", mcp.Enum("error", "skip", "replace"), mcp.Description("On existing ids: error (default), skip or replace")),
)
