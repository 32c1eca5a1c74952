package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/catalog"
	"github.com/sakganji/datasetd/pkg/commitgraph"
	"github.com/sakganji/datasetd/pkg/config"
	"github.com/sakganji/datasetd/pkg/derive"
	"github.com/sakganji/datasetd/pkg/importer"
	"github.com/sakganji/datasetd/pkg/jobs"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/permission"
	"github.com/sakganji/datasetd/pkg/query"
	"github.com/sakganji/datasetd/pkg/refregistry"
)

// Handler holds the service-layer dependencies every route needs. Each
// method is a thin adapter: decode request, call the domain service,
// encode response. No domain logic lives here (§6 "shape, not transport").
type Handler struct {
	catalog  *catalog.Catalog
	refs     *refregistry.Registry
	perm     *permission.Checker
	graph    *commitgraph.Graph
	jobs     *jobs.Registry
	query    *query.Service
	importer *importer.Service
	derive   *derive.Service
	cfg      *config.QueryConfig
}

// NewHandler assembles a Handler from the composition root's services.
func NewHandler(c *catalog.Catalog, refs *refregistry.Registry, perm *permission.Checker, graph *commitgraph.Graph, jobReg *jobs.Registry, q *query.Service, imp *importer.Service, der *derive.Service, cfg *config.QueryConfig) *Handler {
	return &Handler{catalog: c, refs: refs, perm: perm, graph: graph, jobs: jobReg, query: q, importer: imp, derive: der, cfg: cfg}
}

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := UserIDFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Kind: string(apperr.KindForbidden), Message: "not found"})
		return "", false
	}
	return userID, true
}

func (h *Handler) requirePermission(w http.ResponseWriter, r *http.Request, datasetID string, required model.PermissionKind) (string, bool) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return "", false
	}
	if err := h.perm.Check(r.Context(), datasetID, userID, required); err != nil {
		writeError(w, err)
		return "", false
	}
	return userID, true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return nil
}

func pagination(r *http.Request, cfg *config.QueryConfig) (offset, limit int) {
	offset, limit = 0, cfg.DefaultLimit
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > cfg.MaxLimit {
		limit = cfg.MaxLimit
	}
	return offset, limit
}

// CreateDataset handles POST /datasets.
func (h *Handler) CreateDataset(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	var req CreateDatasetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, apperr.Validation("name is required"))
		return
	}
	ds, err := h.catalog.Create(r.Context(), req.Name, req.Description, userID, req.Tags)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ds)
}

// CreateRef handles POST /datasets/{id}/refs.
func (h *Handler) CreateRef(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	if _, ok := h.requirePermission(w, r, datasetID, model.PermissionWrite); !ok {
		return
	}
	var req CreateRefRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" || req.FromRef == "" {
		writeError(w, apperr.Validation("name and from_ref are required"))
		return
	}
	from, err := h.refs.Resolve(r.Context(), datasetID, req.FromRef)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.refs.CreateRef(r.Context(), datasetID, req.Name, from.CommitID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, model.Ref{DatasetID: datasetID, Name: req.Name, CommitID: from.CommitID})
}

// DeleteRef handles DELETE /datasets/{id}/refs/{name}.
func (h *Handler) DeleteRef(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	if _, ok := h.requirePermission(w, r, datasetID, model.PermissionWrite); !ok {
		return
	}
	if err := h.refs.DeleteRef(r.Context(), datasetID, r.PathValue("name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRefs handles GET /datasets/{id}/refs.
func (h *Handler) ListRefs(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	if _, ok := h.requirePermission(w, r, datasetID, model.PermissionRead); !ok {
		return
	}
	refs, err := h.refs.ListRefs(r.Context(), datasetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

// Import handles POST /datasets/{id}/refs/{ref}/import (multipart upload).
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	userID, ok := h.requirePermission(w, r, datasetID, model.PermissionWrite)
	if !ok {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.Validation("file is required: %v", err))
		return
	}
	defer file.Close()

	stagedPath, size, err := h.importer.Accept(file)
	if err != nil {
		writeError(w, err)
		return
	}

	message := r.FormValue("message")
	job, err := h.importer.Enqueue(r.Context(), datasetID, r.PathValue("ref"), userID, message, header.Filename, stagedPath, size)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, JobResponse{JobID: job.ID})
}

// Overview handles GET /datasets/{id}/overview.
func (h *Handler) Overview(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	if _, ok := h.requirePermission(w, r, datasetID, model.PermissionRead); !ok {
		return
	}
	overview, err := h.query.GetOverview(r.Context(), datasetID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

// DataAtRef handles GET /datasets/{id}/refs/{ref}/data.
func (h *Handler) DataAtRef(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	if _, ok := h.requirePermission(w, r, datasetID, model.PermissionRead); !ok {
		return
	}
	offset, limit := pagination(r, h.cfg)
	rows, err := h.query.GetDataAtRef(r.Context(), datasetID, r.PathValue("ref"), r.URL.Query().Get("table_key"), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataPageResponse{Rows: rows, Offset: offset, Limit: limit})
}

// DataAtCommit handles GET /datasets/{id}/commits/{commit_id}/data.
func (h *Handler) DataAtCommit(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	if _, ok := h.requirePermission(w, r, datasetID, model.PermissionRead); !ok {
		return
	}
	offset, limit := pagination(r, h.cfg)
	rows, err := h.query.GetDataAtCommit(r.Context(), datasetID, r.PathValue("commit_id"), r.URL.Query().Get("table_key"), offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, DataPageResponse{Rows: rows, Offset: offset, Limit: limit})
}

// History handles GET /datasets/{id}/history.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	if _, ok := h.requirePermission(w, r, datasetID, model.PermissionRead); !ok {
		return
	}
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		ref = model.MainRef
	}
	head, err := h.refs.Resolve(r.Context(), datasetID, ref)
	if err != nil {
		writeError(w, err)
		return
	}
	offset, limit := pagination(r, h.cfg)
	commits, err := h.graph.ListAncestors(r.Context(), datasetID, head.CommitID, offset, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Commits: commits, Offset: offset, Limit: limit})
}

// Schema handles GET /datasets/{id}/commits/{commit_id}/schema.
func (h *Handler) Schema(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	if _, ok := h.requirePermission(w, r, datasetID, model.PermissionRead); !ok {
		return
	}
	if _, err := h.graph.GetCommit(r.Context(), datasetID, r.PathValue("commit_id")); err != nil {
		writeError(w, err)
		return
	}
	schema, err := h.query.GetSchema(r.Context(), r.PathValue("commit_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// Sample handles POST /datasets/{id}/refs/{ref}/sample.
func (h *Handler) Sample(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	userID, ok := h.requirePermission(w, r, datasetID, model.PermissionWrite)
	if !ok {
		return
	}
	var req SamplingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	head, err := h.refs.Resolve(r.Context(), datasetID, r.PathValue("ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := h.derive.EnqueueSampling(r.Context(), datasetID, head.CommitID, userID, map[string]any{
		"table_key":      req.TableKey,
		"method":         req.Method,
		"sample_size":    req.SampleSize,
		"seed":           req.Seed,
		"strata_column":  req.StrataColumn,
		"cluster_column": req.ClusterColumn,
		"dest_ref":       req.DestRef,
		"message":        req.Message,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, JobResponse{JobID: job.ID})
}

// Profile handles POST /datasets/{id}/refs/{ref}/profile.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	userID, ok := h.requirePermission(w, r, datasetID, model.PermissionRead)
	if !ok {
		return
	}
	var req ProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	head, err := h.refs.Resolve(r.Context(), datasetID, r.PathValue("ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := h.derive.EnqueueProfiling(r.Context(), datasetID, head.CommitID, userID, map[string]any{
		"table_key": req.TableKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, JobResponse{JobID: job.ID})
}

// Preview handles POST /datasets/{id}/refs/{ref}/preview.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	datasetID := r.PathValue("id")
	userID, ok := h.requirePermission(w, r, datasetID, model.PermissionRead)
	if !ok {
		return
	}
	var req PreviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.SQL == "" {
		writeError(w, apperr.Validation("sql is required"))
		return
	}
	head, err := h.refs.Resolve(r.Context(), datasetID, r.PathValue("ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := h.derive.EnqueuePreview(r.Context(), datasetID, head.CommitID, userID, map[string]any{
		"sql": req.SQL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, JobResponse{JobID: job.ID})
}

// JobStatus handles GET /jobs/{job_id}.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Get(r.Context(), r.PathValue("job_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.perm.Check(r.Context(), job.DatasetID, userID, model.PermissionRead); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// JobCancel handles POST /jobs/{job_id}/cancel.
func (h *Handler) JobCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.Get(r.Context(), r.PathValue("job_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.perm.Check(r.Context(), job.DatasetID, userID, model.PermissionWrite); err != nil {
		writeError(w, err)
		return
	}
	if err := h.jobs.Cancel(r.Context(), job.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
