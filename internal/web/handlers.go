package web

import (
	"database/sql"
	"html/template"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/hpungsan/promptmeta/internal/config"
	"github.com/hpungsan/promptmeta/internal/errors"
	"github.com/hpungsan/promptmeta/internal/ops"
)

// maxInspectBytes bounds the pasted text accepted by the inspect form.
const maxInspectBytes = 4 << 20

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	db       *sql.DB
	cfg      *config.Config
	logger   *zap.Logger
	renderer *Renderer
}

// HandleList handles GET /observations.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	input := ops.ListInput{
		Session:        ptrString(q.Get("session")),
		Kind:           q.Get("kind"),
		FailedOnly:     parseBoolParam(r, "failed_only"),
		Limit:          parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset:         parseIntParam(r, "offset", 0),
		IncludeDeleted: parseBoolParam(r, "include_deleted"),
	}
	if s := q.Get("exit_code"); s != "" {
		code, err := strconv.Atoi(s)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("exit_code must be an integer"))
			return
		}
		input.ExitCode = &code
	}

	result, err := ops.List(h.db, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, r, "list", ListPageData{
		PageData:   h.renderer.page("Observations", "observations"),
		Items:      result.Items,
		Pagination: result.Pagination,
		Session:    q.Get("session"),
		Kind:       input.Kind,
		FailedOnly: input.FailedOnly,
		Deleted:    input.IncludeDeleted,
	})
}

// HandleLatest handles GET /observations/latest and redirects to the newest
// observation, optionally within ?session=.
func (h *Handlers) HandleLatest(w http.ResponseWriter, r *http.Request) {
	includeContent := wantsJSON(r)
	result, err := ops.Latest(h.db, ops.LatestInput{
		Session:        ptrString(r.URL.Query().Get("session")),
		IncludeContent: &includeContent,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}
	if result.Item == nil {
		h.renderer.renderError(w, r, errors.NewNotFound("latest"))
		return
	}
	http.Redirect(w, r, "/observations/"+result.Item.ID, http.StatusFound)
}

// HandleDetail handles GET /observations/{id}.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("observation ID is required"))
		return
	}

	includeContent := true
	obs, err := ops.Fetch(h.db, ops.FetchInput{
		ID:             id,
		IncludeDeleted: parseBoolParam(r, "include_deleted"),
		IncludeContent: &includeContent,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, obs)
		return
	}

	title := obs.Command
	if title == "" {
		title = shortID(obs.ID)
	}
	h.renderer.renderPage(w, r, "detail", DetailPageData{
		PageData:     h.renderer.page(title, "observations"),
		Observation:  obs,
		RenderedHTML: renderMarkdown(obs.AgentObservation),
	})
}

// HandleDelete handles DELETE /observations/{id} (soft delete).
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("observation ID is required"))
		return
	}

	result, err := ops.Delete(r.Context(), h.db, ops.DeleteInput{ID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.logger.Info("Observation deleted", zap.String("id", result.ID))

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/observations")
		w.WriteHeader(http.StatusOK)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	http.Redirect(w, r, "/observations", http.StatusFound)
}

// HandlePurge handles POST /observations/purge.
func (h *Handlers) HandlePurge(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}

	if r.FormValue("confirm") != "true" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("confirm parameter must be \"true\""))
		return
	}

	input := ops.PurgeInput{
		Session: ptrString(r.FormValue("session")),
	}
	if days := r.FormValue("older_than_days"); days != "" {
		d, err := strconv.Atoi(days)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("older_than_days must be an integer"))
			return
		}
		input.OlderThanDays = &d
	}

	result, err := ops.Purge(r.Context(), h.db, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	h.logger.Info("Observations purged", zap.Int("purged", result.Purged))

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<div class="purge-result">` + template.HTMLEscapeString(result.Message) + `</div>`))
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	http.Redirect(w, r, "/observations?include_deleted=true", http.StatusFound)
}

// HandleInspectForm handles GET /inspect.
func (h *Handlers) HandleInspectForm(w http.ResponseWriter, r *http.Request) {
	h.renderer.renderPage(w, r, "inspect", InspectPageData{
		PageData: h.renderer.page("Inspect", "inspect"),
	})
}

// HandleInspect handles POST /inspect: classify every prompt block in the
// pasted text and show what Parse would keep.
func (h *Handlers) HandleInspect(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxInspectBytes)
	if err := r.ParseForm(); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid form data"))
		return
	}
	text := r.FormValue("text")

	inspected, err := ops.Inspect(h.cfg, h.logger, ops.InspectInput{Text: text})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	parsed, err := ops.Parse(h.cfg, h.logger, ops.ParseInput{Text: text})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{
			"inspect": inspected,
			"parse":   parsed,
		})
		return
	}

	data := InspectPageData{
		PageData:   h.renderer.page("Inspect", "inspect"),
		Text:       text,
		Submitted:  true,
		Candidates: inspected.Candidates,
		Accepted:   inspected.Accepted,
		Skipped:    inspected.Skipped,
		Metadata:   parsed.Metadata,
		Found:      parsed.Found,
		Stripped:   parsed.Output,
	}

	if r.Header.Get("HX-Target") == "results" {
		h.renderer.renderBlock(w, http.StatusOK, "inspect", "inspect-results", data)
		return
	}
	h.renderer.renderPage(w, r, "inspect", data)
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// parseBoolParam parses a boolean query parameter.
func parseBoolParam(r *http.Request, name string) bool {
	s := r.URL.Query().Get(name)
	return s == "true" || s == "1"
}

// ptrString returns a pointer to s if non-empty, nil otherwise.
func ptrString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
