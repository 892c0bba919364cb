package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/hpungsan/tandem/internal/docs"
	"github.com/hpungsan/tandem/internal/errors"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "docs" or "deleted"
}

// ListPageData is the template data for the document list page.
type ListPageData struct {
	PageData
	Items      []docs.Summary
	Pagination docs.Pagination
	Deleted    bool
}

// DetailPageData is the template data for the document page.
type DetailPageData struct {
	PageData
	Doc          *docs.FetchOutput
	RenderedHTML template.HTML
	DisplayTitle string
	Chars        int
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
}

// NewRenderer creates a Renderer by parsing templates from the given FS.
func NewRenderer(templateFS fs.FS, version string) *Renderer {
	funcMap := template.FuncMap{
		"add":          func(a, b int) int { return a + b },
		"sub":          func(a, b int) int { return a - b },
		"formatTime":   formatTime,
		"formatChars":  formatChars,
		"displayTitle": displayTitle,
		"deref":        deref,
		"hasValue":     hasValue,
	}

	layoutTmpl := template.Must(template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html"))

	pages := map[string]string{
		"list":   "list.html",
		"detail": "detail.html",
		"error":  "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t := template.Must(layoutTmpl.Clone())
		template.Must(t.ParseFS(templateFS, file))
		templates[name] = t
	}

	return &Renderer{
		templates: templates,
		version:   version,
	}
}

// renderPage renders a named page template with the given data and HTTP 200 status.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page template with the given status.
// For HTMX requests, only the "content" block is rendered.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	t, ok := r.templates[name]
	if !ok {
		log.Printf("template %q not found", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	block := "layout"
	if req != nil && req.Header.Get("HX-Request") == "true" {
		block = "content"
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, block, data); err != nil {
		log.Printf("template execution error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	sErr := asSyncError(err)

	if req.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(sErr.Status)
		fmt.Fprintf(w, `<div class="error-message">%s</div>`, template.HTMLEscapeString(sErr.Message))
		return
	}

	if strings.Contains(req.Header.Get("Accept"), "application/json") {
		renderAPIError(w, sErr)
		return
	}

	r.renderPageStatus(w, req, sErr.Status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", sErr.Status),
			Version: r.version,
		},
		StatusCode: sErr.Status,
		Message:    sErr.Message,
	})
}

// asSyncError unwraps err to a SyncError, logging and wrapping anything
// unexpected as INTERNAL.
func asSyncError(err error) *errors.SyncError {
	sErr, ok := errors.As(err)
	if !ok {
		sErr = errors.NewInternal(err)
	}
	if sErr.Code == errors.ErrInternal {
		log.Printf("internal error: %v (%v)", err, sErr.Details["internal_error"])
	}
	return sErr
}

// renderAPIError writes the JSON error envelope. Details of internal errors
// are never sent.
func renderAPIError(w http.ResponseWriter, err error) {
	sErr := asSyncError(err)
	errObj := map[string]any{
		"code":    string(sErr.Code),
		"message": sErr.Message,
		"status":  sErr.Status,
	}
	if sErr.Code != errors.ErrInternal && sErr.Details != nil {
		errObj["details"] = sErr.Details
	}
	renderJSON(w, sErr.Status, map[string]any{"error": errObj})
}

// renderJSON writes a JSON response.
func renderJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// renderMarkdown converts markdown text to HTML using goldmark.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats a Unix timestamp as "2006-01-02 15:04" UTC.
func formatTime(unix int64) string {
	return time.Unix(unix, 0).UTC().Format("2006-01-02 15:04")
}

// formatChars formats an integer with comma thousands separators.
func formatChars(n int) string {
	if n < 0 {
		return "-" + formatChars(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}

	var result strings.Builder
	remainder := len(s) % 3
	if remainder > 0 {
		result.WriteString(s[:remainder])
	}
	for i := remainder; i < len(s); i += 3 {
		if result.Len() > 0 {
			result.WriteByte(',')
		}
		result.WriteString(s[i : i+3])
	}
	return result.String()
}

// displayTitle returns the title if present, or a truncated ID.
func displayTitle(title *string, id string) string {
	if title != nil && *title != "" {
		return *title
	}
	if len(id) > 10 {
		return id[:10] + "..."
	}
	return id
}

// deref dereferences a pointer, returning the zero value if nil.
func deref(v any) any {
	if v == nil {
		return ""
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Zero(rv.Type().Elem()).Interface()
		}
		return rv.Elem().Interface()
	}
	return v
}

// hasValue checks if a pointer value is non-nil.
func hasValue(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		return !rv.IsNil()
	}
	return true
}
