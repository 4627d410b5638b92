package web

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/hpungsan/promptmeta/internal/config"
	"github.com/hpungsan/promptmeta/internal/db"
	"github.com/hpungsan/promptmeta/internal/ops"
)

func setupTest(t *testing.T) *Handlers {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}
	logger := zaptest.NewLogger(t)

	return &Handlers{
		db:       database,
		cfg:      config.DefaultConfig(),
		logger:   logger,
		renderer: NewRenderer(templateSub, "test", logger),
	}
}

func block(payload string) string {
	return "\n###PS1JSON###\n" + payload + "\n###PS1END###\n"
}

func exitBlock(code int) string {
	return block(`{"pid": "12", "exit_code": "` + strconv.Itoa(code) + `", "username": "dev", "hostname": "box", "working_dir": "/repo", "py_interpreter_path": ""}`)
}

// seedObservation records a command run and returns its ID.
func seedObservation(t *testing.T, h *Handlers, session, command string, exitCode int) string {
	t.Helper()
	out, err := ops.Record(context.Background(), h.db, h.cfg, h.logger, ops.RecordInput{
		Session: session,
		ObserveInput: ops.ObserveInput{
			Command: command,
			Output:  "ran " + command + exitBlock(exitCode),
		},
	})
	if err != nil {
		t.Fatalf("seed observation %q: %v", command, err)
	}
	return out.ID
}

// --- HandleList ---

func TestHandleList_Default(t *testing.T) {
	h := setupTest(t)
	seedObservation(t, h, "default", "go-build", 0)

	req := httptest.NewRequest("GET", "/observations", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "go-build") {
		t.Error("expected command in response")
	}
	if !strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("expected full layout")
	}
}

func TestHandleList_Filters(t *testing.T) {
	h := setupTest(t)
	seedObservation(t, h, "ci", "make-lint", 0)
	seedObservation(t, h, "ci", "make-test", 2)
	seedObservation(t, h, "dev", "ls-la", 0)

	tests := []struct {
		query   string
		want    []string
		notWant []string
	}{
		{"session=CI", []string{"make-lint", "make-test"}, []string{"ls-la"}},
		{"failed_only=true", []string{"make-test"}, []string{"make-lint", "ls-la"}},
		{"exit_code=0", []string{"make-lint", "ls-la"}, []string{"make-test"}},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/observations?"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.HandleList(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			body := rec.Body.String()
			for _, s := range tt.want {
				if !strings.Contains(body, s) {
					t.Errorf("expected %q in response", s)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(body, s) {
					t.Errorf("did not expect %q in response", s)
				}
			}
		})
	}
}

func TestHandleList_InvalidExitCode(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/observations?exit_code=abc", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleList_InvalidKind(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/observations?kind=zsh", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleList_Empty(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/observations", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	if !strings.Contains(rec.Body.String(), "No observations recorded") {
		t.Error("expected empty state message")
	}
}

func TestHandleList_HtmxReturnsContentOnly(t *testing.T) {
	h := setupTest(t)
	seedObservation(t, h, "default", "htmx-cmd", 0)

	req := httptest.NewRequest("GET", "/observations", nil)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, "<!DOCTYPE html>") {
		t.Error("htmx response should not contain full layout")
	}
	if !strings.Contains(body, "htmx-cmd") {
		t.Error("htmx response should contain observation data")
	}
}

func TestHandleList_JSON(t *testing.T) {
	h := setupTest(t)
	seedObservation(t, h, "default", "one", 0)
	seedObservation(t, h, "default", "two", 0)

	req := httptest.NewRequest("GET", "/observations?limit=1", nil)
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	var resp ops.ListOutput
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if len(resp.Items) != 1 || !resp.Pagination.HasMore || resp.Pagination.Total != 2 {
		t.Errorf("list = %+v", resp)
	}
}

func TestHandleList_DeletedLinks(t *testing.T) {
	h := setupTest(t)
	id := seedObservation(t, h, "default", "gone", 0)
	if _, err := ops.Delete(context.Background(), h.db, ops.DeleteInput{ID: id}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	req := httptest.NewRequest("GET", "/observations?include_deleted=true", nil)
	rec := httptest.NewRecorder()
	h.HandleList(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "/observations/"+id+"?include_deleted=true") {
		t.Error("deleted observation should link with include_deleted=true")
	}
	if !strings.Contains(body, "/observations/purge") {
		t.Error("expected purge form when showing deleted observations")
	}
}

// --- HandleDetail ---

func TestHandleDetail_Found(t *testing.T) {
	h := setupTest(t)
	id := seedObservation(t, h, "default", "pytest", 1)

	req := httptest.NewRequest("GET", "/observations/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "executed with exit code 1") {
		t.Error("expected observation message")
	}
	if !strings.Contains(body, "<strong>CommandOutput") {
		t.Error("expected markdown-rendered agent view")
	}
	if !strings.Contains(body, "/repo") {
		t.Error("expected working directory")
	}
	if strings.Contains(body, "###PS1JSON###") {
		t.Error("stored output should not contain prompt blocks")
	}
}

func TestHandleDetail_EscapesOutput(t *testing.T) {
	h := setupTest(t)
	out, err := ops.Record(context.Background(), h.db, h.cfg, h.logger, ops.RecordInput{
		ObserveInput: ops.ObserveInput{
			Command: "cat page.html",
			Output:  "<script>alert(1)</script>" + exitBlock(0),
		},
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	req := httptest.NewRequest("GET", "/observations/"+out.ID, nil)
	req.SetPathValue("id", out.ID)
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("command output must be escaped")
	}
}

func TestHandleDetail_NotFound(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/observations/NONEXISTENT", nil)
	req.SetPathValue("id", "NONEXISTENT")
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleDetail_EmptyID(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/observations/", nil)
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// --- HandleLatest ---

func TestHandleLatest_Redirects(t *testing.T) {
	h := setupTest(t)
	seedObservation(t, h, "s", "first", 0)
	id := seedObservation(t, h, "s", "second", 0)

	req := httptest.NewRequest("GET", "/observations/latest?session=s", nil)
	rec := httptest.NewRecorder()
	h.HandleLatest(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/observations/"+id {
		t.Errorf("Location = %q, want /observations/%s", loc, id)
	}
}

func TestHandleLatest_Empty(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/observations/latest", nil)
	rec := httptest.NewRecorder()
	h.HandleLatest(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}

	req = httptest.NewRequest("GET", "/observations/latest", nil)
	req.Header.Set("Accept", "application/json")
	rec = httptest.NewRecorder()
	h.HandleLatest(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"item":null`) {
		t.Errorf("JSON latest = %d %s", rec.Code, rec.Body.String())
	}
}

// --- HandleDelete ---

func TestHandleDelete_HtmxRequest(t *testing.T) {
	h := setupTest(t)
	id := seedObservation(t, h, "default", "rm", 0)

	req := httptest.NewRequest("DELETE", "/observations/"+id, nil)
	req.SetPathValue("id", id)
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("HX-Redirect"); got != "/observations" {
		t.Errorf("HX-Redirect = %q, want /observations", got)
	}
}

func TestHandleDelete_JSONRequest(t *testing.T) {
	h := setupTest(t)
	id := seedObservation(t, h, "default", "rm", 0)

	req := httptest.NewRequest("DELETE", "/observations/"+id, nil)
	req.SetPathValue("id", id)
	req.Header.Set("Accept", "text/html, application/json")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if resp["deleted"] != true || resp["id"] != id {
		t.Errorf("resp = %v", resp)
	}
}

func TestHandleDelete_DefaultRedirect(t *testing.T) {
	h := setupTest(t)
	id := seedObservation(t, h, "default", "rm", 0)

	req := httptest.NewRequest("DELETE", "/observations/"+id, nil)
	req.SetPathValue("id", id)
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302", rec.Code)
	}
}

func TestHandleDelete_NotFound(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("DELETE", "/observations/NOPE", nil)
	req.SetPathValue("id", "NOPE")
	rec := httptest.NewRecorder()
	h.HandleDelete(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// --- HandlePurge ---

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestHandlePurge_MissingConfirm(t *testing.T) {
	h := setupTest(t)

	rec := httptest.NewRecorder()
	h.HandlePurge(rec, postForm("/observations/purge", url.Values{}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePurge_InvalidOlderThanDays(t *testing.T) {
	h := setupTest(t)

	rec := httptest.NewRecorder()
	h.HandlePurge(rec, postForm("/observations/purge", url.Values{"confirm": {"true"}, "older_than_days": {"soon"}}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandlePurge_JSONResponse(t *testing.T) {
	h := setupTest(t)
	id := seedObservation(t, h, "default", "tmp", 0)
	if _, err := ops.Delete(context.Background(), h.db, ops.DeleteInput{ID: id}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	req := postForm("/observations/purge", url.Values{"confirm": {"true"}})
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandlePurge(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if resp["purged"] != float64(1) {
		t.Errorf("purged = %v, want 1", resp["purged"])
	}
}

func TestHandlePurge_HtmxResponse(t *testing.T) {
	h := setupTest(t)

	req := postForm("/observations/purge", url.Values{"confirm": {"true"}})
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.HandlePurge(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "purge-result") || !strings.Contains(body, "No deleted observations to purge") {
		t.Errorf("unexpected htmx purge body: %s", body)
	}
}

// --- HandleInspect ---

func TestHandleInspectForm(t *testing.T) {
	h := setupTest(t)

	rec := httptest.NewRecorder()
	h.HandleInspectForm(rec, httptest.NewRequest("GET", "/inspect", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "<textarea") {
		t.Errorf("inspect form = %d", rec.Code)
	}
}

func TestHandleInspect(t *testing.T) {
	h := setupTest(t)
	text := "building" + exitBlock(0) + block(`{"exit_code": "$?", "username": "\u"}`)

	rec := httptest.NewRecorder()
	h.HandleInspect(rec, postForm("/inspect", url.Values{"text": {text}}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "1 accepted, 1 skipped") {
		t.Error("expected candidate counts")
	}
	if !strings.Contains(body, "skipped-template") {
		t.Error("expected template class for unexpanded prompt")
	}
}

func TestHandleInspect_ResultsFragment(t *testing.T) {
	h := setupTest(t)

	req := postForm("/inspect", url.Values{"text": {"plain"}})
	req.Header.Set("HX-Request", "true")
	req.Header.Set("HX-Target", "results")
	rec := httptest.NewRecorder()
	h.HandleInspect(rec, req)

	body := rec.Body.String()
	if strings.Contains(body, "<textarea") {
		t.Error("results fragment should not contain the form")
	}
	if !strings.Contains(body, "0 accepted, 0 skipped") {
		t.Errorf("unexpected fragment: %s", body)
	}
}

func TestHandleInspect_JSON(t *testing.T) {
	h := setupTest(t)

	req := postForm("/inspect", url.Values{"text": {"x" + exitBlock(5)}})
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleInspect(rec, req)

	var resp struct {
		Parse ops.ParseOutput `json:"parse"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	if !resp.Parse.Found || resp.Parse.Metadata.ExitCode != 5 {
		t.Errorf("parse = %+v", resp.Parse)
	}
}

// --- Error rendering ---

func TestErrorRendering_HtmxFragment(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/observations/NONEXISTENT", nil)
	req.SetPathValue("id", "NONEXISTENT")
	req.Header.Set("HX-Request", "true")
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "error-message") || strings.Contains(body, "<!DOCTYPE html>") {
		t.Errorf("unexpected htmx error body: %s", body)
	}
}

func TestErrorRendering_JSONError(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/observations/NONEXISTENT", nil)
	req.SetPathValue("id", "NONEXISTENT")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	errObj, ok := resp["error"].(map[string]any)
	if !ok {
		t.Fatal("expected error object in JSON response")
	}
	if errObj["status"] != float64(404) || errObj["code"] != "NOT_FOUND" {
		t.Errorf("error = %v", errObj)
	}
}

func TestErrorRendering_FullErrorPage(t *testing.T) {
	h := setupTest(t)

	req := httptest.NewRequest("GET", "/observations/NONEXISTENT", nil)
	req.SetPathValue("id", "NONEXISTENT")
	rec := httptest.NewRecorder()
	h.HandleDetail(rec, req)

	body := rec.Body.String()
	if !strings.Contains(body, "<!DOCTYPE html>") || !strings.Contains(body, "Error 404") {
		t.Error("full error page should contain layout and status")
	}
}

// --- Server ---

func TestNewServer_Routes(t *testing.T) {
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	srv, err := NewServer(database, config.DefaultConfig(), zap.NewNop(), "test", "127.0.0.1", 0)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	tests := []struct {
		method, path string
		wantStatus   int
	}{
		{"GET", "/", http.StatusFound},
		{"GET", "/observations", http.StatusOK},
		{"GET", "/inspect", http.StatusOK},
		{"GET", "/static/style.css", http.StatusOK},
		{"GET", "/observations/UNKNOWN", http.StatusNotFound},
		{"PUT", "/observations", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Header().Get("X-Frame-Options") != "DENY" {
				t.Error("missing security headers")
			}
		})
	}
}

// --- Helpers ---

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=abc", 20},
		{"limit=-3", -3},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/?"+tt.query, nil)
		if got := parseIntParam(req, "limit", 20); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestParseBoolParam(t *testing.T) {
	for query, want := range map[string]bool{"": false, "x=true": true, "x=1": true, "x=yes": false} {
		req := httptest.NewRequest("GET", "/?"+query, nil)
		if got := parseBoolParam(req, "x"); got != want {
			t.Errorf("parseBoolParam(%q) = %v, want %v", query, got, want)
		}
	}
}

func TestFormatChars(t *testing.T) {
	for n, want := range map[int]string{0: "0", 999: "999", 1000: "1,000", 30000: "30,000", -1234567: "-1,234,567"} {
		if got := formatChars(n); got != want {
			t.Errorf("formatChars(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestExitLabel(t *testing.T) {
	for code, want := range map[int]string{
		-1:  "unknown",
		0:   "0",
		1:   "1",
		127: "127 (not found)",
		130: "130 (SIGINT)",
		137: "137 (SIGKILL)",
		200: "200",
	} {
		if got := exitLabel(code); got != want {
			t.Errorf("exitLabel(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("01HZXY0123456789ABCDEFGHJK"); got != "01HZXY0123..." {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}
