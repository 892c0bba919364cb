package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/tandem/internal/config"
	"github.com/hpungsan/tandem/internal/db"
	"github.com/hpungsan/tandem/internal/docs"
	"github.com/hpungsan/tandem/internal/errors"
)

// setupTestService creates a service over a temporary database.
func setupTestService(t *testing.T) *docs.Service {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return docs.New(database, config.DefaultConfig(), nil)
}

// run executes the CLI with stdin and returns what it printed.
func run(t *testing.T, svc *docs.Service, stdin string, args ...string) (string, error) {
	t.Helper()
	app := newCLIApp(svc)
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	app.Reader = strings.NewReader(stdin)
	err := app.Run(append([]string{"tandem"}, args...))
	return out.String(), err
}

func createDoc(t *testing.T, svc *docs.Service, text string) string {
	t.Helper()
	out, err := run(t, svc, text, "create", "--title=notes")
	require.NoError(t, err)
	var created docs.CreateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.NotEmpty(t, created.ID)
	return created.ID
}

func TestCLICreateAndShow(t *testing.T) {
	svc := setupTestService(t)
	id := createDoc(t, svc, "hello\n")

	out, err := run(t, svc, "", "show", id)
	require.NoError(t, err)
	var doc docs.FetchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "hello", doc.Text)
	require.NotNil(t, doc.Title)
	assert.Equal(t, "notes", *doc.Title)
	assert.Equal(t, "server", doc.Branch)

	out, err = run(t, svc, "", "show", "--text", id)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
}

func TestCLICreateRichContent(t *testing.T) {
	svc := setupTestService(t)

	out, err := run(t, svc, `{"ops":[{"insert":"Title","attributes":{"header":1}},{"insert":"\n"}]}`,
		"create", "--content", "--initial-rev=4")
	require.NoError(t, err)
	var created docs.CreateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.Equal(t, 4, created.Rev)

	_, err = run(t, svc, `{"ops":[{"retain":3}]}`, "create", "--content")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_CONTENT")

	_, err = run(t, svc, `{"ops":`, "create", "--content")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_REQUEST")
}

func TestCLIAppendAndLog(t *testing.T) {
	svc := setupTestService(t)
	id := createDoc(t, svc, "hello")

	out, err := run(t, svc, `[{"ops":[{"retain":5},{"insert":" world"}]},{"ops":[{"delete":1},{"insert":"H"}]}]`, "append", id)
	require.NoError(t, err)
	var appended docs.AppendOutput
	require.NoError(t, json.Unmarshal([]byte(out), &appended))
	assert.Equal(t, 2, appended.Rev)

	out, err = run(t, svc, "", "show", "--text", "--rev=1", id)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)

	out, err = run(t, svc, "", "log", "--from=1", id)
	require.NoError(t, err)
	var changes docs.ChangesOutput
	require.NoError(t, json.Unmarshal([]byte(out), &changes))
	assert.Equal(t, 1, changes.From)
	assert.Equal(t, 2, changes.To)
	assert.Len(t, changes.Changes, 1)
}

func TestCLIMergeAndRebase(t *testing.T) {
	svc := setupTestService(t)
	id := createDoc(t, svc, "hello")

	_, err := run(t, svc, `{"ops":[{"retain":5},{"insert":" world"}]}`, "append", id)
	require.NoError(t, err)

	out, err := run(t, svc, `{"ops":[{"insert":"> "}]}`, "merge", "--base-rev=0", "--branch=alice", "--dry-run", id)
	require.NoError(t, err)
	var dry docs.SyncOutput
	require.NoError(t, json.Unmarshal([]byte(out), &dry))
	assert.True(t, dry.DryRun)
	assert.Equal(t, "> hello world", dry.Content.Text())

	out, err = run(t, svc, "", "show", "--text", id)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out)

	_, err = run(t, svc, `{"ops":[{"insert":"> "}]}`, "merge", "--base-rev=0", "--branch=alice", id)
	require.NoError(t, err)

	out, err = run(t, svc, `{"ops":[{"retain":13},{"insert":"!"}]}`, "rebase", "--base-rev=2", "--branch=bob", id)
	require.NoError(t, err)
	var rebased docs.SyncOutput
	require.NoError(t, json.Unmarshal([]byte(out), &rebased))
	assert.Equal(t, 3, rebased.Rev)
	assert.Equal(t, "> hello world!", rebased.Content.Text())

	_, err = run(t, svc, "[]", "merge", "--base-rev=0", "--branch=server", id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFLICT")
}

func TestCLIListAndDelete(t *testing.T) {
	svc := setupTestService(t)
	keep := createDoc(t, svc, "a")
	drop := createDoc(t, svc, "b")

	_, err := run(t, svc, "", "delete", drop)
	require.NoError(t, err)

	out, err := run(t, svc, "", "list")
	require.NoError(t, err)
	var list docs.ListOutput
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list.Items, 1)
	assert.Equal(t, keep, list.Items[0].ID)

	out, err = run(t, svc, "", "list", "--include-deleted", "--limit=1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list.Items, 1)
	assert.Equal(t, 2, list.Pagination.Total)
	assert.True(t, list.Pagination.HasMore)
}

func TestCLIExportImport(t *testing.T) {
	dir := t.TempDir()
	newService := func() *docs.Service {
		database, err := db.Init(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { database.Close() })
		cfg := config.DefaultConfig()
		cfg.AllowedPaths = []string{dir}
		return docs.New(database, cfg, nil)
	}

	src := newService()
	id := createDoc(t, src, "abc")
	_, err := run(t, src, `{"ops":[{"retain":3},{"insert":"!"}]}`, "append", id)
	require.NoError(t, err)

	path := filepath.Join(dir, "backup.jsonl")
	out, err := run(t, src, "", "export", "--path", path)
	require.NoError(t, err)
	var exported docs.ExportOutput
	require.NoError(t, json.Unmarshal([]byte(out), &exported))
	assert.Equal(t, 1, exported.Count)
	assert.Equal(t, path, exported.Path)

	dst := newService()
	out, err = run(t, dst, "", "import", "--path", path)
	require.NoError(t, err)
	var imported docs.ImportOutput
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Equal(t, 1, imported.Imported)
	assert.Empty(t, imported.Errors)

	out, err = run(t, dst, "", "show", "--text", id)
	require.NoError(t, err)
	assert.Equal(t, "abc!\n", out)

	out, err = run(t, dst, "", "import", "--path", path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Equal(t, 0, imported.Imported)
	require.Len(t, imported.Errors, 1)
	assert.Equal(t, string(errors.ErrConflict), imported.Errors[0].Code)

	out, err = run(t, dst, "", "import", "--path", path, "--mode", "skip")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Equal(t, 1, imported.Skipped)

	_, err = run(t, dst, "", "export", "--path", filepath.Join(t.TempDir(), "x.jsonl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[INVALID_REQUEST]")

	_, err = run(t, dst, "", "import")
	require.Error(t, err)
}

func TestCLIErrorHandling(t *testing.T) {
	svc := setupTestService(t)
	id := createDoc(t, svc, "abc")

	tests := []struct {
		name  string
		stdin string
		args  []string
		want  string
	}{
		{"show not found", "", []string{"show", "NOPE"}, "NOT_FOUND"},
		{"show missing id", "", []string{"show"}, "INVALID_REQUEST"},
		{"show bad revision", "", []string{"show", "--rev=9", id}, "INVALID_RANGE"},
		{"append without changes", "", []string{"append", id}, "INVALID_REQUEST"},
		{"append empty array", "[]", []string{"append", id}, "INVALID_REQUEST"},
		{"append malformed op", `{"ops":[{"bogus":1}]}`, []string{"append", id}, "INVALID_CONTENT"},
		{"append too long", `{"ops":[{"retain":10},{"insert":"x"}]}`, []string{"append", id}, "INVALID_CHANGE"},
		{"delete not found", "", []string{"delete", "NOPE"}, "NOT_FOUND"},
		{"serve bad port", "", []string{"serve", "--port=0"}, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, svc, tt.stdin, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := run(t, svc, "[]", "merge", "--branch=alice", id)
	assert.Error(t, err, "base-rev is required")
}

func TestParseChanges(t *testing.T) {
	changes, err := parseChanges(`{"ops":[{"insert":"a"}]}`)
	require.NoError(t, err)
	assert.Len(t, changes, 1)

	changes, err = parseChanges(` [{"ops":[{"insert":"a"}]},{"ops":[{"delete":1}]}] `)
	require.NoError(t, err)
	assert.Len(t, changes, 2)

	_, err = parseChanges("  ")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	_, err = parseChanges(`{"ops":[{"insert":1}]}`)
	assert.True(t, errors.Is(err, errors.ErrInvalidContent))
}

func TestReadStdinWithLimit(t *testing.T) {
	got, err := readStdin(strings.NewReader("  small content\n"), 1000)
	require.NoError(t, err)
	assert.Equal(t, "small content", got)

	_, err = readStdin(strings.NewReader(strings.Repeat("x", 100)), 50)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))

	got, err = readStdin(strings.NewReader(strings.Repeat("x", 50)), 50)
	require.NoError(t, err)
	assert.Len(t, got, 50)
}

func TestIsCLIMode(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"tandem"}, false},
		{"create command", []string{"tandem", "create"}, true},
		{"merge command", []string{"tandem", "merge"}, true},
		{"serve command", []string{"tandem", "serve"}, true},
		{"export command", []string{"tandem", "export"}, true},
		{"help flag", []string{"tandem", "--help"}, true},
		{"version flag", []string{"tandem", "--version"}, true},
		{"short help flag", []string{"tandem", "-h"}, true},
		{"short version flag", []string{"tandem", "-v"}, true},
		{"unknown arg defaults to MCP", []string{"tandem", "--unknown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			assert.Equal(t, tt.expected, isCLIMode())
		})
	}
}

func TestIsHelpOrVersion(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected bool
	}{
		{"no args", []string{"tandem"}, false},
		{"help flag", []string{"tandem", "--help"}, true},
		{"short help flag", []string{"tandem", "-h"}, true},
		{"version flag", []string{"tandem", "--version"}, true},
		{"short version flag", []string{"tandem", "-v"}, true},
		{"help subcommand", []string{"tandem", "help"}, true},
		{"create command is not help", []string{"tandem", "create"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldArgs := os.Args
			defer func() { os.Args = oldArgs }()

			os.Args = tt.args
			assert.Equal(t, tt.expected, isHelpOrVersion())
		})
	}
}
