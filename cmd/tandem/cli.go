package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/tandem/internal/delta"
	"github.com/hpungsan/tandem/internal/docs"
	"github.com/hpungsan/tandem/internal/errors"
	"github.com/hpungsan/tandem/internal/history"
	"github.com/hpungsan/tandem/internal/web"
)

// maxStdinBytes limits piped input.
const maxStdinBytes = 4 << 20

// newCLIApp creates the CLI application with all commands.
func newCLIApp(svc *docs.Service) *cli.App {
	app := &cli.App{
		Name:    "tandem",
		Usage:   "Collaborative text sync engine",
		Version: Version,
		Commands: []*cli.Command{
			createCmd(svc),
			showCmd(svc),
			appendCmd(svc),
			syncCmd(svc, "merge", "Merge changes made on a branch after the document's unseen changes"),
			syncCmd(svc, "rebase", "Put changes made on a branch before the document's unseen changes"),
			logCmd(svc),
			listCmd(svc),
			deleteCmd(svc),
			exportCmd(svc),
			importCmd(svc),
			serveCmd(svc),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// createCmd creates the create command.
func createCmd(svc *docs.Service) *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a document (reads initial text from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Document title"},
			&cli.IntFlag{Name: "initial-rev", Usage: "Revision number of the initial content"},
			&cli.BoolFlag{Name: "content", Usage: "Stdin is rich content as delta JSON instead of plain text"},
		},
		Action: func(c *cli.Context) error {
			input := docs.CreateInput{InitialRev: c.Int("initial-rev")}
			if title := c.String("title"); title != "" {
				input.Title = &title
			}

			if stdinHasData(c.App.Reader) {
				data, err := readStdin(c.App.Reader, maxStdinBytes)
				if err != nil {
					return outputError(err)
				}
				if c.Bool("content") {
					var content delta.Change
					if err := json.Unmarshal([]byte(data), &content); err != nil {
						return outputError(decodeError(err))
					}
					input.Content = &content
				} else {
					input.Text = data
				}
			}

			output, err := svc.Create(c.Context, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// showCmd creates the show command.
func showCmd(svc *docs.Service) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show a document, optionally at an earlier revision",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "rev", Aliases: []string{"r"}, Usage: "Revision to show (default: current)"},
			&cli.BoolFlag{Name: "text", Usage: "Print only the plain text"},
		},
		Action: func(c *cli.Context) error {
			input := docs.FetchInput{ID: c.Args().First()}
			if c.IsSet("rev") {
				rev := c.Int("rev")
				input.Rev = &rev
			}

			output, err := svc.Fetch(c.Context, input)
			if err != nil {
				return outputError(err)
			}
			if c.Bool("text") {
				_, err := fmt.Fprintln(c.App.Writer, output.Text)
				return err
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// appendCmd creates the append command.
func appendCmd(svc *docs.Service) *cli.Command {
	return &cli.Command{
		Name:      "append",
		Usage:     "Append changes to a document (reads a change or an array of changes from stdin)",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "branch", Aliases: []string{"b"}, Usage: "Branch the changes were made on (default: the document's own)"},
		},
		Action: func(c *cli.Context) error {
			changes, err := changesFromStdin(c.App.Reader)
			if err != nil {
				return outputError(err)
			}

			output, err := svc.Append(c.Context, docs.AppendInput{
				ID:      c.Args().First(),
				Branch:  c.String("branch"),
				Changes: changes,
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// syncCmd creates the merge and rebase commands.
func syncCmd(svc *docs.Service, name, usage string) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage + " (reads changes from stdin)",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "base-rev", Required: true, Usage: "Revision the changes were made against"},
			&cli.StringFlag{Name: "branch", Aliases: []string{"b"}, Required: true, Usage: "Branch the changes were made on"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Compute the result without recording it"},
		},
		Action: func(c *cli.Context) error {
			changes, err := changesFromStdin(c.App.Reader)
			if err != nil {
				return outputError(err)
			}

			input := docs.SyncInput{
				ID: c.Args().First(),
				SyncRequest: history.SyncRequest{
					BaseRev: c.Int("base-rev"),
					Branch:  c.String("branch"),
					Changes: changes,
				},
				DryRun: c.Bool("dry-run"),
			}

			run := svc.Merge
			if name == "rebase" {
				run = svc.Rebase
			}
			output, err := run(c.Context, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// logCmd creates the log command.
func logCmd(svc *docs.Service) *cli.Command {
	return &cli.Command{
		Name:      "log",
		Usage:     "Print the recorded changes of a document",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "from", Usage: "First revision (default: initial)"},
			&cli.IntFlag{Name: "to", Usage: "End revision, exclusive (default: current)"},
		},
		Action: func(c *cli.Context) error {
			input := docs.ChangesInput{ID: c.Args().First()}
			if c.IsSet("from") {
				from := c.Int("from")
				input.From = &from
			}
			if c.IsSet("to") {
				to := c.Int("to")
				input.To = &to
			}

			output, err := svc.Changes(c.Context, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// listCmd creates the list command.
func listCmd(svc *docs.Service) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List documents, most recently updated first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: docs.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
			&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted documents"},
		},
		Action: func(c *cli.Context) error {
			output, err := svc.List(c.Context, docs.ListInput{
				Limit:          c.Int("limit"),
				Offset:         c.Int("offset"),
				IncludeDeleted: c.Bool("include-deleted"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(svc *docs.Service) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Soft-delete a document",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			output, err := svc.Delete(c.Context, docs.DeleteInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(svc *docs.Service) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export documents with their change logs to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "Output file (default: ~/.tandem/exports/docs-<time>.jsonl)"},
			&cli.BoolFlag{Name: "include-deleted", Usage: "Include soft-deleted documents"},
		},
		Action: func(c *cli.Context) error {
			output, err := svc.Export(c.Context, docs.ExportInput{
				Path:           c.String("path"),
				IncludeDeleted: c.Bool("include-deleted"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// importCmd creates the import command.
func importCmd(svc *docs.Service) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Import documents from a JSONL export",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Required: true, Usage: "Export file to read"},
			&cli.StringFlag{Name: "mode", Value: string(docs.ImportModeError), Usage: "On existing ids: error, skip or replace"},
		},
		Action: func(c *cli.Context) error {
			output, err := svc.Import(c.Context, docs.ImportInput{
				Path: c.String("path"),
				Mode: docs.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(svc *docs.Service) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the document browser, JSON API and websocket sync",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8787, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			port := c.Int("port")
			if port < 1 || port > 65535 {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("port must be in 1-65535, got %d", port)))
			}
			return web.Run(web.NewServer(svc, Version, c.String("bind"), port))
		},
	}
}

// Helper functions

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if sErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// decodeError keeps errors raised by the change decoder and reports
// anything else as malformed input.
func decodeError(err error) error {
	if sErr, ok := errors.As(err); ok {
		return sErr
	}
	return errors.NewInvalidRequest("invalid JSON input: " + err.Error())
}

// stdinHasData returns true if r has piped data (not a terminal).
func stdinHasData(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return r != nil
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all of r, failing if it holds more than limit bytes.
func readStdin(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", errors.NewInternal(err)
	}
	if int64(len(data)) > limit {
		return "", errors.NewInvalidRequest(fmt.Sprintf("input exceeds %d bytes", limit))
	}
	return strings.TrimSpace(string(data)), nil
}

// changesFromStdin reads a change, or an array of changes, from r.
func changesFromStdin(r io.Reader) ([]delta.Change, error) {
	if !stdinHasData(r) {
		return nil, errors.NewInvalidRequest("changes must be piped via stdin")
	}
	data, err := readStdin(r, maxStdinBytes)
	if err != nil {
		return nil, err
	}
	return parseChanges(data)
}

// parseChanges decodes a JSON change or array of changes.
func parseChanges(data string) ([]delta.Change, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, errors.NewInvalidRequest("changes are required")
	}

	if strings.HasPrefix(data, "[") {
		var changes []delta.Change
		if err := json.Unmarshal([]byte(data), &changes); err != nil {
			return nil, decodeError(err)
		}
		return changes, nil
	}

	var change delta.Change
	if err := json.Unmarshal([]byte(data), &change); err != nil {
		return nil, decodeError(err)
	}
	return []delta.Change{change}, nil
}
