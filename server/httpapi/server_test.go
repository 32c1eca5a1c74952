package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

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
	"github.com/sakganji/datasetd/pkg/rowstore"
	. "github.com/sakganji/datasetd/server/httpapi"
	"github.com/sakganji/datasetd/pkg/storetest"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-signing-secret"

type datasetReader struct{ c *catalog.Catalog }

func (d datasetReader) Get(ctx context.Context, datasetID string) (*model.Dataset, error) {
	return d.c.Get(ctx, datasetID)
}

func newTestServer(t *testing.T) (http.Handler, string) {
	t.Helper()
	db, _ := storetest.New(t)
	refs := refregistry.New(db)
	cat := catalog.New(db)
	perm := permission.New(db)
	graph := commitgraph.New(db)
	jobReg := jobs.New(db)
	rows := rowstore.New(db)
	q := query.New(db, graph, refs, rows)

	importCfg := config.ImportConfig{
		MaxUploadBytes:     1 << 20,
		ChunkBytes:         4096,
		BatchSize:          100,
		CheckpointInterval: 1,
		StageDir:           t.TempDir(),
	}
	imp := importer.New(db, jobReg, graph, refs, rows, datasetReader{c: cat}, nil, importCfg)
	der := derive.New(db, jobReg, graph, refs, rows, q)

	cfg := config.DefaultConfig()
	cfg.Auth.TokenSigningSecret = testSecret
	queryCfg := cfg.Query

	handler := NewHandler(cat, refs, perm, graph, jobReg, q, imp, der, &queryCfg)
	srv := NewServer(handler, cfg)

	return srv.Routes(), IssueToken(testSecret, "user1")
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint_NoAuth(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateDataset_RequiresAuth(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodPost, "/datasets", "", CreateDatasetRequest{Name: "d1"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDatasetLifecycle(t *testing.T) {
	h, token := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/datasets", token, CreateDatasetRequest{Name: "sales", Description: "desc", Tags: []string{"x"}})
	require.Equal(t, http.StatusCreated, rec.Code)
	var ds model.Dataset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ds))
	require.NotEmpty(t, ds.ID)

	rec = doJSON(t, h, http.MethodGet, "/datasets/"+ds.ID+"/refs", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var refsList []model.Ref
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refsList))
	require.Len(t, refsList, 1)
	require.Equal(t, model.MainRef, refsList[0].Name)

	rec = doJSON(t, h, http.MethodGet, "/datasets/"+ds.ID+"/overview", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/datasets/"+ds.ID+"/refs", token, CreateRefRequest{Name: "dev", FromRef: model.MainRef})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/datasets/"+ds.ID+"/refs/main", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportUpload_EndToEnd(t *testing.T) {
	h, token := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/datasets", token, CreateDatasetRequest{Name: "imports"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var ds model.Dataset
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ds))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "data.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("name,age\nalice,30\nbob,25\n"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("message", "initial load"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/datasets/"+ds.ID+"/refs/main/import", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	recUpload := httptest.NewRecorder()
	h.ServeHTTP(recUpload, req)
	require.Equal(t, http.StatusAccepted, recUpload.Code)

	var jobResp JobResponse
	require.NoError(t, json.Unmarshal(recUpload.Body.Bytes(), &jobResp))
	require.NotEmpty(t, jobResp.JobID)

	rec = doJSON(t, h, http.MethodGet, "/jobs/"+jobResp.JobID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestForeignDataset_LooksNotFound(t *testing.T) {
	h, _ := newTestServer(t)
	other := IssueToken(testSecret, "stranger")

	rec := doJSON(t, h, http.MethodGet, "/datasets/does-not-exist/overview", other, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
