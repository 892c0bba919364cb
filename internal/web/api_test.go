package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h *Handlers) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHandler(h.svc, "test"))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func errCode(t *testing.T, body map[string]any) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "expected error object, got %v", body)
	return errObj["code"].(string)
}

func TestAPI_CreateFetchAppend(t *testing.T) {
	srv := serve(t, setupTest(t))

	status, created := do(t, "POST", srv.URL+"/api/docs", `{"title":"notes","text":"hello"}`)
	require.Equal(t, http.StatusCreated, status)
	id := created["id"].(string)
	assert.Equal(t, "server", created["branch"])
	assert.Equal(t, float64(0), created["rev"])

	status, appended := do(t, "POST", srv.URL+"/api/docs/"+id+"/append",
		`{"changes":[{"ops":[{"retain":5},{"insert":" world","attributes":{"bold":true}}]}]}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), appended["rev"])

	status, doc := do(t, "GET", srv.URL+"/api/docs/"+id, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello world", doc["text"])
	assert.Equal(t, "notes", doc["title"])
	assert.Equal(t, float64(1), doc["current_rev"])

	status, old := do(t, "GET", srv.URL+"/api/docs/"+id+"?rev=0", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "hello", old["text"])

	status, changes := do(t, "GET", srv.URL+"/api/docs/"+id+"/changes", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, changes["changes"], 1)
	assert.Equal(t, float64(0), changes["from"])
	assert.Equal(t, float64(1), changes["to"])
}

func TestAPI_CreateValidation(t *testing.T) {
	srv := serve(t, setupTest(t))

	status, body := do(t, "POST", srv.URL+"/api/docs", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_REQUEST", errCode(t, body))

	status, body = do(t, "POST", srv.URL+"/api/docs", `{"content":{"ops":[{"retain":1,"delete":1}]}}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INVALID_CONTENT", errCode(t, body))

	status, body = do(t, "POST", srv.URL+"/api/docs", `{"initial_rev":-2}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_REQUEST", errCode(t, body))
}

func TestAPI_AppendErrors(t *testing.T) {
	h := setupTest(t)
	id := seedDoc(t, h, "doc", "abc")
	srv := serve(t, h)

	status, body := do(t, "POST", srv.URL+"/api/docs/"+id+"/append", `{"changes":[]}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_REQUEST", errCode(t, body))

	status, body = do(t, "POST", srv.URL+"/api/docs/"+id+"/append", `{"changes":[{"ops":[{"retain":10},{"delete":1}]}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INVALID_CHANGE", errCode(t, body))

	status, body = do(t, "POST", srv.URL+"/api/docs/NOPE/append", `{"changes":[{"ops":[{"insert":"x"}]}]}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errCode(t, body))
}

func TestAPI_MergeAndRebase(t *testing.T) {
	h := setupTest(t)
	id := seedDoc(t, h, "doc", "hello")
	srv := serve(t, h)

	_, _ = do(t, "POST", srv.URL+"/api/docs/"+id+"/append", `{"changes":[{"ops":[{"retain":5},{"insert":" world"}]}]}`)

	req := `{"baseRev":0,"branch":"alice","changes":[{"ops":[{"insert":"> "}]}]}`

	status, dry := do(t, "POST", srv.URL+"/api/docs/"+id+"/merge?dry_run=true", req)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, dry["dry_run"])
	assert.Equal(t, float64(2), dry["rev"])

	_, doc := do(t, "GET", srv.URL+"/api/docs/"+id, "")
	assert.Equal(t, "hello world", doc["text"], "dry run must not change the document")

	status, merged := do(t, "POST", srv.URL+"/api/docs/"+id+"/merge", req)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(2), merged["rev"])
	assert.Nil(t, merged["dry_run"])
	assert.Len(t, merged["reqDeltas"], 1)
	assert.Len(t, merged["resDeltas"], 1)

	status, body := do(t, "POST", srv.URL+"/api/docs/"+id+"/rebase", `{"baseRev":0,"branch":"server","changes":[]}`)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "CONFLICT", errCode(t, body))

	status, rebased := do(t, "POST", srv.URL+"/api/docs/"+id+"/rebase", `{"baseRev":2,"branch":"bob","changes":[{"ops":[{"retain":13},{"insert":"!"}]}]}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), rebased["rev"])

	_, doc = do(t, "GET", srv.URL+"/api/docs/"+id, "")
	assert.Equal(t, "> hello world!", doc["text"])
}

func TestAPI_ListAndDelete(t *testing.T) {
	h := setupTest(t)
	keep := seedDoc(t, h, "keep", "a")
	drop := seedDoc(t, h, "drop", "b")
	srv := serve(t, h)

	status, body := do(t, "DELETE", srv.URL+"/api/docs/"+drop, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["deleted"])

	status, body = do(t, "DELETE", srv.URL+"/api/docs/"+drop, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", errCode(t, body))

	_, list := do(t, "GET", srv.URL+"/api/docs", "")
	items := list["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, keep, items[0].(map[string]any)["id"])
	assert.Equal(t, "updated_at_desc", list["sort"])

	_, list = do(t, "GET", srv.URL+"/api/docs?include_deleted=true&limit=1", "")
	assert.Len(t, list["items"], 1)
	pagination := list["pagination"].(map[string]any)
	assert.Equal(t, float64(2), pagination["total"])
	assert.Equal(t, true, pagination["has_more"])
}

func TestAPI_ChangesRange(t *testing.T) {
	h := setupTest(t)
	id := seedDoc(t, h, "doc", "")
	srv := serve(t, h)

	for _, s := range []string{"a", "b", "c"} {
		status, _ := do(t, "POST", srv.URL+"/api/docs/"+id+"/append", `{"changes":[{"ops":[{"insert":"`+s+`"}]}]}`)
		require.Equal(t, http.StatusOK, status)
	}

	status, out := do(t, "GET", srv.URL+"/api/docs/"+id+"/changes?from=1&to=3", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["changes"], 2)

	status, out = do(t, "GET", srv.URL+"/api/docs/"+id+"/changes?from=x", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_REQUEST", errCode(t, out))

	status, out = do(t, "GET", srv.URL+"/api/docs/"+id+"/changes?from=2&to=9", "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_RANGE", errCode(t, out))
}

func TestServer_RootRedirectAndHeaders(t *testing.T) {
	srv := serve(t, setupTest(t))

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/docs", resp.Header.Get("Location"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	resp, err = http.Get(srv.URL + "/static/style.css")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
