package tableshandler

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"evalportal/internal/domain/audit"
	"evalportal/internal/domain/guard"
	"evalportal/internal/domain/session"
	"evalportal/internal/domain/table"
	"evalportal/internal/transport/http/api"
	"evalportal/internal/transport/http/middleware"
	"evalportal/internal/transport/http/shared"
)

// ExportRecorder counts generated files by format.
type ExportRecorder interface {
	RecordExport(format string, err error)
}

type Handler struct {
	Registry *table.Registry
	Audit    *audit.Logger
	Metrics  ExportRecorder
	now      func() time.Time
}

func NewHandler(registry *table.Registry, auditLog *audit.Logger, metrics ExportRecorder) *Handler {
	return &Handler{Registry: registry, Audit: auditLog, Metrics: metrics, now: time.Now}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tables", func(r chi.Router) {
		r.Use(middleware.RequireProfiles(guard.TierGeneral, ""))
		r.Get("/", h.handleList)
		r.Get("/{dataset}", h.handleView)
		r.Get("/{dataset}/export", h.handleExport)
	})
}

type datasetInfo struct {
	Name    string         `json:"name"`
	Title   string         `json:"title"`
	Columns []table.Column `json:"columns"`
}

func allowed(d table.Dataset, profile session.Profile) bool {
	for _, p := range d.Profiles {
		if session.Profile(p) == profile {
			return true
		}
	}
	return false
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return
	}
	out := []datasetInfo{}
	for _, name := range h.Registry.Names() {
		d, err := h.Registry.Get(name)
		if err != nil || !allowed(d, user.Profile()) {
			continue
		}
		out = append(out, datasetInfo{Name: d.Name, Title: d.Title, Columns: d.Columns})
	}
	api.Success(w, out, middleware.GetRequestID(r.Context()))
}

// build loads the dataset and applies search, paging and selection from the
// query string. It writes the failure response itself.
func (h *Handler) build(w http.ResponseWriter, r *http.Request) (session.Identity, table.Dataset, *table.Table, bool) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", middleware.GetRequestID(r.Context()))
		return session.Identity{}, table.Dataset{}, nil, false
	}
	d, err := h.Registry.Get(chi.URLParam(r, "dataset"))
	if err != nil {
		api.Fail(w, http.StatusNotFound, "dataset_not_found", err.Error(), middleware.GetRequestID(r.Context()))
		return session.Identity{}, table.Dataset{}, nil, false
	}
	if !allowed(d, user.Profile()) {
		api.FailWithRedirect(w, http.StatusForbidden, "forbidden", "insufficient permissions", guard.DefaultPage, middleware.GetRequestID(r.Context()))
		return session.Identity{}, table.Dataset{}, nil, false
	}

	query := shared.ParseTableQuery(r)
	params := loaderParams(r.URL.Query())
	selectAll := params.Get("selectAll") == "true"
	selected := params.Get("selected")
	params.Del("selectAll")
	params.Del("selected")

	var opts []table.Option
	if selectAll || selected != "" {
		opts = append(opts, table.Selectable())
	}
	t, err := d.Build(r.Context(), user.Credential, params, opts...)
	if err != nil {
		if errors.Is(err, table.ErrMissingParam) {
			v := shared.NewValidator()
			v.Add(strings.TrimPrefix(err.Error(), table.ErrMissingParam.Error()+": "), "is required")
			v.Reject(w, middleware.GetRequestID(r.Context()))
			return session.Identity{}, table.Dataset{}, nil, false
		}
		shared.FailUpstream(w, err, "dataset_failed", "failed to load "+d.Name, middleware.GetRequestID(r.Context()))
		return session.Identity{}, table.Dataset{}, nil, false
	}

	t.SetSearch(query.Search)
	if query.PageSize > 0 {
		if err := t.SetPageSize(query.PageSize); err != nil {
			v := shared.NewValidator()
			v.Add("pageSize", "must be one of the dataset page sizes")
			v.Reject(w, middleware.GetRequestID(r.Context()))
			return session.Identity{}, table.Dataset{}, nil, false
		}
	}
	if query.Page > 0 {
		t.SetPage(query.Page)
	}
	if selectAll {
		_ = t.SelectAll()
	} else if selected != "" {
		seen := map[int]bool{}
		for _, raw := range strings.Split(selected, ",") {
			pos, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil || seen[pos] {
				continue
			}
			seen[pos] = true
			if err := t.Toggle(pos); err != nil {
				slog.Debug("table selection skipped", "pos", pos, "err", err)
			}
		}
	}
	return user, d, t, true
}

func loaderParams(values url.Values) url.Values {
	out := url.Values{}
	for k, v := range values {
		out[k] = append([]string(nil), v...)
	}
	for _, k := range shared.TableParams {
		out.Del(k)
	}
	return out
}

type tableView struct {
	table.View
	Dataset       string      `json:"dataset"`
	Title         string      `json:"title"`
	SelectedRows  []table.Row `json:"selectedRows,omitempty"`
	SelectedCount int         `json:"selectedCount"`
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	_, d, t, ok := h.build(w, r)
	if !ok {
		return
	}
	selected := t.Selected()
	api.Success(w, tableView{
		View:          t.View(),
		Dataset:       d.Name,
		Title:         d.Title,
		SelectedRows:  selected,
		SelectedCount: len(selected),
	}, middleware.GetRequestID(r.Context()))
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = table.FormatXLSX
	}
	v := shared.NewValidator()
	v.Enum("format", format, []string{table.FormatXLSX, table.FormatPDF}, "must be xlsx or pdf")
	if v.Reject(w, middleware.GetRequestID(r.Context())) {
		return
	}

	user, d, t, ok := h.build(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	var err error
	contentType := "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	if format == table.FormatPDF {
		contentType = "application/pdf"
		err = t.ExportPDF(&buf, d.Title)
	} else {
		err = t.ExportXLSX(&buf)
	}
	if h.Metrics != nil {
		h.Metrics.RecordExport(format, err)
	}
	if errors.Is(err, table.ErrNothingToExport) {
		api.Fail(w, http.StatusBadRequest, "nothing_to_export", "no hay datos para exportar", middleware.GetRequestID(r.Context()))
		return
	}
	if err != nil {
		slog.Warn("table export failed", "dataset", d.Name, "format", format, "err", err)
		api.Fail(w, http.StatusInternalServerError, "export_failed", "failed to generate file", middleware.GetRequestID(r.Context()))
		return
	}

	h.Audit.Log(r.Context(), audit.Event{
		ActorID:      user.ID(),
		ActorProfile: int(user.Profile()),
		Action:       audit.ActionTableExport,
		EntityType:   "table",
		EntityID:     d.Name,
	}, map[string]any{"format": format, "rows": t.Count(), "search": t.Search()})

	filename := table.ExportFilename(d.Title, format, h.now())
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	if _, err := buf.WriteTo(w); err != nil {
		slog.Warn("table export write failed", "err", err)
	}
}
