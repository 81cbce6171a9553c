package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ansuz/internal/linker"
	"github.com/starford/ansuz/internal/planner"
)

// Handler holds API route handlers.
type Handler struct {
	svc *linker.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *linker.Service) *Handler {
	return &Handler{svc: svc}
}

// notePath extracts the note path from the wildcard segment.
// Supports encoded slashes from OpenAPI clients (e.g. topics%2Fnote.md).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func queryBool(q url.Values, key string) (*bool, error) {
	v := q.Get(key)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Plan handles GET /api/plan.
//
//	@Summary		Plan a scan of the vault
//	@Tags			scan
//	@Produce		json
//	@Param			current				query		string	false	"Document to process first"
//	@Param			check_suggestions	query		bool	false	"Include suggestion freshness"
//	@Success		200					{object}	models.ScanPlan
//	@Security		BearerAuth
//	@Router			/plan [get]
func (h *Handler) Plan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	check, err := queryBool(q, "check_suggestions")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("check_suggestions must be a boolean"))
		return
	}
	plan, err := h.svc.Plan(r.Context(), linker.PlanOptions{CurrentFile: q.Get("current"), CheckSuggestions: check})
	if err != nil {
		writeError(w, "plan", err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// PlanFiles handles POST /api/plan.
//
//	@Summary		Plan caller-supplied descriptors against the ledger
//	@Tags			scan
//	@Accept			json
//	@Produce		json
//	@Param			body	body		PlanRequest	true	"Descriptors"
//	@Success		200		{object}	models.ScanPlan
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/plan [post]
func (h *Handler) PlanFiles(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if !readJSON(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, h.svc.PlanFiles(planner.Request{
		Files:            req.Files,
		CurrentFile:      req.CurrentFile,
		CheckSuggestions: req.CheckSuggestions,
	}))
}

// Scan handles POST /api/scan. The body is optional.
//
//	@Summary		Run one scan pass
//	@Tags			scan
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ScanRequest	false	"Scan options"
//	@Success		200		{object}	linker.ScanReport
//	@Security		BearerAuth
//	@Router			/scan [post]
func (h *Handler) Scan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if r.ContentLength != 0 && !readJSON(w, r, &req) {
		return
	}
	report, err := h.svc.Scan(r.Context(), linker.ScanOptions{
		PlanOptions: linker.PlanOptions{CurrentFile: req.CurrentFile, CheckSuggestions: req.CheckSuggestions},
		Limit:       req.Limit,
	})
	if err != nil {
		writeError(w, "scan", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Suggestions handles GET /api/suggestions/*.
//
//	@Summary		Suggest link targets for a document
//	@Tags			suggestions
//	@Produce		json
//	@Param			path		path		string	true	"Note path"
//	@Param			threshold	query		number	false	"Similarity threshold"
//	@Param			max			query		int		false	"Maximum results"
//	@Param			rerank		query		bool	false	"Rerank with the generator"
//	@Success		200			{object}	linker.Suggestions
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/suggestions/{path} [get]
func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	q := r.URL.Query()
	var opts linker.SuggestOptions
	if v := q.Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 || t > 1 {
			writeJSON(w, http.StatusBadRequest, errorBody("threshold must be a number in [0, 1]"))
			return
		}
		opts.Threshold = &t
	}
	if v := q.Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody("max must be a positive integer"))
			return
		}
		opts.MaxResults = n
	}
	rerank, err := queryBool(q, "rerank")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("rerank must be a boolean"))
		return
	}
	opts.Rerank = rerank

	res, err := h.svc.Suggest(r.Context(), path, opts)
	if err != nil {
		writeError(w, "suggest", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Related handles GET /api/related/*.
//
//	@Summary		Nearest documents by vector similarity
//	@Tags			suggestions
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Param			k		query		int		false	"Number of results (default 10)"
//	@Success		200		{array}		models.Candidate
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/related/{path} [get]
func (h *Handler) Related(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	k := 10
	if v := r.URL.Query().Get("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody("k must be a positive integer"))
			return
		}
		k = n
	}
	out, err := h.svc.Related(path, k)
	if err != nil {
		writeError(w, "related", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Rank handles POST /api/rank.
//
//	@Summary		Merge an external ranking response with candidates
//	@Tags			suggestions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		RankRequest	true	"Candidates and response"
//	@Success		200		{object}	fusion.Result
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/rank [post]
func (h *Handler) Rank(w http.ResponseWriter, r *http.Request) {
	var req RankRequest
	if !readJSON(w, r, &req) {
		return
	}
	res, err := h.svc.Rank(req.Candidates, req.Response)
	if err != nil {
		writeError(w, "rank", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListIgnored handles GET /api/ignored.
//
//	@Summary		List dismissed suggestion pairs
//	@Tags			ignored
//	@Produce		json
//	@Success		200	{object}	IgnoredResponse
//	@Security		BearerAuth
//	@Router			/ignored [get]
func (h *Handler) ListIgnored(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, IgnoredResponse{Ignored: h.svc.ListIgnored()})
}

// Ignore handles POST /api/ignored.
//
//	@Summary		Dismiss a suggestion pair
//	@Tags			ignored
//	@Accept			json
//	@Param			body	body	IgnoreRequest	true	"Pair"
//	@Success		204		"Pair ignored"
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ignored [post]
func (h *Handler) Ignore(w http.ResponseWriter, r *http.Request) {
	var req IgnoreRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.svc.Ignore(r.Context(), req.Source, req.Target); err != nil {
		writeError(w, "ignore", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Unignore handles DELETE /api/ignored. Without a body every pair is
// restored.
//
//	@Summary		Restore one or all dismissed pairs
//	@Tags			ignored
//	@Accept			json
//	@Produce		json
//	@Param			body	body		IgnoreRequest	false	"Pair"
//	@Success		200		{object}	CountResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ignored [delete]
func (h *Handler) Unignore(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength == 0 {
		n, err := h.svc.ClearIgnored(r.Context())
		if err != nil {
			writeError(w, "clear ignored", err)
			return
		}
		writeJSON(w, http.StatusOK, CountResponse{Removed: n})
		return
	}
	var req IgnoreRequest
	if !readJSON(w, r, &req) {
		return
	}
	ok, err := h.svc.Unignore(r.Context(), req.Source, req.Target)
	if err != nil {
		writeError(w, "unignore", err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("pair is not ignored"))
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Removed: 1})
}

// Invalidate handles POST /api/invalidate/*.
//
//	@Summary		Forget everything computed for a document
//	@Tags			cache
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Success		200		{object}	InvalidateResponse
//	@Security		BearerAuth
//	@Router			/invalidate/{path} [post]
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	n, err := h.svc.Invalidate(r.Context(), path)
	if err != nil {
		writeError(w, "invalidate", err)
		return
	}
	writeJSON(w, http.StatusOK, InvalidateResponse{Path: path, Removed: n})
}

// ClearCache handles DELETE /api/cache.
//
//	@Summary		Drop the ledger and all artifacts, keeping ignored pairs
//	@Tags			cache
//	@Success		204	"Cache cleared"
//	@Security		BearerAuth
//	@Router			/cache [delete]
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearCache(r.Context()); err != nil {
		writeError(w, "clear cache", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

// Insertion handles GET /api/insertions/*?title=.
//
//	@Summary		Propose where to link a title from a document
//	@Tags			links
//	@Produce		json
//	@Param			path	path		string	true	"Note path"
//	@Param			title	query		string	true	"Link target title"
//	@Success		200		{object}	linker.InsertionResult
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/insertions/{path} [get]
func (h *Handler) Insertion(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	title := r.URL.Query().Get("title")
	if path == "" || title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path and title are required"))
		return
	}
	res, err := h.svc.SuggestInsertion(r.Context(), path, title)
	if err != nil {
		writeError(w, "insertion", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ApplyLink handles POST /api/links.
//
//	@Summary		Rewrite a phrase into a wikilink
//	@Tags			links
//	@Accept			json
//	@Param			body	body	LinkRequest	true	"Link to apply"
//	@Success		204		"Link written"
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/links [post]
func (h *Handler) ApplyLink(w http.ResponseWriter, r *http.Request) {
	var req LinkRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := h.svc.ApplyLink(r.Context(), linker.LinkEdit{
		Path:   req.Path,
		Title:  req.Title,
		Phrase: req.Phrase,
		MTime:  req.MTime,
	}); err != nil {
		writeError(w, "apply link", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
