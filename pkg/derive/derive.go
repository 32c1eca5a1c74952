// Package derive implements the derived-op adapters of §4.9: sampling,
// SQL preview, and table profiling over a commit's manifest joined to
// rows. They share one contract with the core: read a commit's row set,
// and if they persist anything at all, persist it as a brand-new commit
// parented on the one they read. None of them ever mutates an existing
// commit, manifest, row, or ref.
package derive

import (
	"context"
	"sort"
	"strings"

	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/commitgraph"
	"github.com/sakganji/datasetd/pkg/jobs"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/query"
	"github.com/sakganji/datasetd/pkg/refregistry"
	"github.com/sakganji/datasetd/pkg/rowstore"
	"github.com/sakganji/datasetd/pkg/store"
)

type Service struct {
	db    *store.Store
	jobs  *jobs.Registry
	graph *commitgraph.Graph
	refs  *refregistry.Registry
	rows  *rowstore.Store
	q     *query.Service
}

func New(db *store.Store, jobReg *jobs.Registry, graph *commitgraph.Graph, refs *refregistry.Registry, rows *rowstore.Store, q *query.Service) *Service {
	return &Service{db: db, jobs: jobReg, graph: graph, refs: refs, rows: rows, q: q}
}

// runTypes is the poll order ProcessNext tries on each call.
var runTypes = []model.RunType{model.RunSampling, model.RunProfiling, model.RunExploration}

// ProcessNext claims and drives at most one pending derived-op job,
// trying each run type in turn. It returns false only when none of the
// three queues has pending work, mirroring importer.Service.ProcessNext.
func (s *Service) ProcessNext(ctx context.Context) (bool, error) {
	for _, rt := range runTypes {
		job, err := s.jobs.ClaimNext(ctx, rt)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				continue
			}
			return false, err
		}
		s.run(ctx, job)
		return true, nil
	}
	return false, nil
}

func (s *Service) run(ctx context.Context, job *model.Job) {
	var err error
	switch job.RunType {
	case model.RunSampling:
		err = s.runSampling(ctx, job)
	case model.RunProfiling:
		err = s.runProfiling(ctx, job)
	case model.RunExploration:
		err = s.runPreview(ctx, job)
	default:
		err = apperr.Internal("derive service cannot handle run type %q", job.RunType)
	}
	if err != nil {
		_ = s.jobs.Fail(ctx, job.ID, err.Error())
	}
}

// EnqueueSampling queues a sampling run over sourceCommitID (§4.9).
// params: table_key, method (random|systematic|stratified|cluster),
// sample_size, seed, strata_column, cluster_column, dest_ref, message.
func (s *Service) EnqueueSampling(ctx context.Context, datasetID, sourceCommitID, userID string, params map[string]any) (*model.Job, error) {
	return s.jobs.Enqueue(ctx, model.RunSampling, datasetID, sourceCommitID, userID, params)
}

// EnqueueProfiling queues a table-profiling run over sourceCommitID.
// params: table_key.
func (s *Service) EnqueueProfiling(ctx context.Context, datasetID, sourceCommitID, userID string, params map[string]any) (*model.Job, error) {
	return s.jobs.Enqueue(ctx, model.RunProfiling, datasetID, sourceCommitID, userID, params)
}

// EnqueuePreview queues a read-only SQL preview run over sourceCommitID.
// params: sql.
func (s *Service) EnqueuePreview(ctx context.Context, datasetID, sourceCommitID, userID string, params map[string]any) (*model.Job, error) {
	return s.jobs.Enqueue(ctx, model.RunExploration, datasetID, sourceCommitID, userID, params)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func hashesOf(entries []model.ManifestEntry) []string {
	hashes := make([]string, len(entries))
	for i, e := range entries {
		hashes[i] = e.RowHash
	}
	return hashes
}

func sortByLogicalRowID(entries []model.ManifestEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].LogicalRowID < entries[j].LogicalRowID })
}

// tablesIn returns the distinct table_key prefixes present among entries,
// in first-seen order, the same namespacing convention query.ListTables
// derives its table listing from.
func tablesIn(entries []model.ManifestEntry) []string {
	seen := map[string]bool{}
	var order []string
	for _, e := range entries {
		table, _, ok := strings.Cut(e.LogicalRowID, ":")
		if !ok {
			table = e.LogicalRowID
		}
		if !seen[table] {
			seen[table] = true
			order = append(order, table)
		}
	}
	return order
}
