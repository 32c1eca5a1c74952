package httpapi

import (
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/query"
)

// CreateDatasetRequest is the body of POST /datasets.
type CreateDatasetRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// CreateRefRequest is the body of POST /datasets/{id}/refs.
type CreateRefRequest struct {
	Name   string `json:"name"`
	FromRef string `json:"from_ref"`
}

// ImportRequest carries the non-file fields of a multipart import upload.
type ImportRequest struct {
	Message string `json:"message"`
}

// SamplingRequest is the body of POST /datasets/{id}/refs/{ref}/sample.
type SamplingRequest struct {
	TableKey      string `json:"table_key"`
	Method        string `json:"method"`
	SampleSize    int64  `json:"sample_size"`
	Seed          int64  `json:"seed"`
	StrataColumn  string `json:"strata_column"`
	ClusterColumn string `json:"cluster_column"`
	DestRef       string `json:"dest_ref"`
	Message       string `json:"message"`
}

// ProfileRequest is the body of POST /datasets/{id}/refs/{ref}/profile.
type ProfileRequest struct {
	TableKey string `json:"table_key"`
}

// PreviewRequest is the body of POST /datasets/{id}/refs/{ref}/preview.
type PreviewRequest struct {
	SQL string `json:"sql"`
}

// JobResponse is returned by every endpoint that enqueues an asynchronous
// run: import, sampling, profiling, preview.
type JobResponse struct {
	JobID string `json:"job_id"`
}

// DatasetResponse mirrors model.Dataset for the wire.
type DatasetResponse = model.Dataset

// RefResponse mirrors model.Ref for the wire.
type RefResponse = model.Ref

// DataPageResponse is the paginated-rows envelope for both
// GET .../refs/{ref}/data and GET .../commits/{commit}/data.
type DataPageResponse struct {
	Rows   []query.Row `json:"rows"`
	Offset int         `json:"offset"`
	Limit  int         `json:"limit"`
}

// OverviewResponse mirrors query.Overview for the wire.
type OverviewResponse = query.Overview

// HistoryResponse is the commit-ancestry page of GET .../history.
type HistoryResponse struct {
	Commits []model.Commit `json:"commits"`
	Offset  int            `json:"offset"`
	Limit   int            `json:"limit"`
}

// SchemaResponse mirrors model.CommitSchema for the wire.
type SchemaResponse = model.CommitSchema

// JobStatusResponse mirrors model.Job for the wire.
type JobStatusResponse = model.Job

// ErrorResponse is the body of every non-2xx response (§7 "Error responses
// carry {kind, message, details?}").
type ErrorResponse struct {
	Kind    string         `json:"kind"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}
