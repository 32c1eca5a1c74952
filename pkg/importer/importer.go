// Package importer implements the Import Pipeline of §4.7: the hardest
// subcomponent of the service. It streams a staged upload through a
// format-appropriate row reader, batches and dedups rows into the row
// store, checkpoints progress, and finally creates a commit and advances
// a ref under compare-and-set, reparenting once if the ref moved under it.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/commitgraph"
	"github.com/sakganji/datasetd/pkg/config"
	"github.com/sakganji/datasetd/pkg/jobs"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/refregistry"
	"github.com/sakganji/datasetd/pkg/rowstore"
	"github.com/sakganji/datasetd/pkg/store"
	"github.com/sakganji/datasetd/pkg/workerpool"
)

// SearchRefresher is the narrow slice of searchindex.Index the import
// pipeline needs, so tests can substitute a stub.
type SearchRefresher interface {
	Refresh(datasetID string, ds model.Dataset) error
}

// DatasetReader resolves a dataset record to pass to a post-commit search
// refresh; the catalog would otherwise be a circular import.
type DatasetReader interface {
	Get(ctx context.Context, datasetID string) (*model.Dataset, error)
}

type Service struct {
	db       *store.Store
	jobs     *jobs.Registry
	graph    *commitgraph.Graph
	refs     *refregistry.Registry
	rows     *rowstore.Store
	datasets DatasetReader
	search   SearchRefresher
	cfg      config.ImportConfig
	rowPool  *workerpool.RowPool
}

func New(db *store.Store, jobReg *jobs.Registry, graph *commitgraph.Graph, refs *refregistry.Registry, rows *rowstore.Store, datasets DatasetReader, search SearchRefresher, cfg config.ImportConfig) *Service {
	return &Service{db: db, jobs: jobReg, graph: graph, refs: refs, rows: rows, datasets: datasets, search: search, cfg: cfg, rowPool: workerpool.NewRowPool()}
}

// Accept stages an upload within the configured size cap (§4.7 stage 1).
func (s *Service) Accept(r io.Reader) (path string, size int64, err error) {
	return Stage(r, s.cfg.MaxUploadBytes, s.cfg.StageDir)
}

// Enqueue creates a pending import job against a staged file (§4.7 stage
// 2). originalFilename drives format detection; it is never itself read.
func (s *Service) Enqueue(ctx context.Context, datasetID, refName, userID, message, originalFilename, stagedPath string, size int64) (*model.Job, error) {
	format, err := detectFormat(originalFilename)
	if err != nil {
		os.Remove(stagedPath)
		return nil, err
	}
	params := map[string]any{
		"ref_name":    refName,
		"message":     message,
		"staged_path": stagedPath,
		"format":      format,
		"size_bytes":  size,
	}
	return s.jobs.Enqueue(ctx, model.RunImport, datasetID, "", userID, params)
}

// ProcessNext claims and fully drives one pending import job to
// completion or failure. It returns false when there is no pending import
// job to claim.
func (s *Service) ProcessNext(ctx context.Context) (bool, error) {
	job, err := s.jobs.ClaimNext(ctx, model.RunImport)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return false, nil
		}
		return false, err
	}
	s.run(ctx, job)
	return true, nil
}

func (s *Service) run(ctx context.Context, job *model.Job) {
	stagedPath, _ := job.Params["staged_path"].(string)
	defer os.Remove(stagedPath)

	if err := s.doRun(ctx, job); err != nil {
		if failErr := s.jobs.Fail(ctx, job.ID, err.Error()); failErr != nil {
			// Best-effort: the job stays stuck running until the next
			// RecoverAbandoned sweep notices its stale heartbeat.
			return
		}
	}
}

func (s *Service) doRun(ctx context.Context, job *model.Job) error {
	datasetID := job.DatasetID
	refName, _ := job.Params["ref_name"].(string)
	message, _ := job.Params["message"].(string)
	stagedPath, _ := job.Params["staged_path"].(string)
	format, _ := job.Params["format"].(string)
	sizeBytes := int64OrZero(job.Params["size_bytes"])

	// §4.7 stage 4: resolve parent.
	parentAtStart := ""
	if ref, err := s.refs.Resolve(ctx, datasetID, refName); err == nil {
		parentAtStart = ref.CommitID
	} else if apperr.KindOf(err) != apperr.KindNotFound {
		return err
	}

	// §4.7 stage 7: resume from a checkpoint left by a crashed attempt at
	// this same job, but only if the ref's parent has not moved since. If
	// it has, another import landed on this ref while this one was stuck,
	// and the accumulated manifest's row ordering assumptions no longer
	// hold, so it is safer to reprocess the file from scratch.
	var resumeFrom *model.Checkpoint
	if raw, ok := job.Params["checkpoint"]; ok {
		if ckpt, err := decodeCheckpoint(raw); err == nil && ckpt.ParentAtStart == parentAtStart {
			resumeFrom = ckpt
		}
	}

	manifest, schema, rowCount, err := s.ingest(ctx, job, stagedPath, format, sizeBytes, parentAtStart, resumeFrom)
	if err != nil {
		return err
	}

	// §4.7 stage 8: commit, then CAS the ref forward.
	commitID, err := s.graph.CreateCommit(ctx, datasetID, parentAtStart, message, job.UserID, manifest, schema)
	if err != nil {
		return err
	}
	if err := s.refs.UpdateRefCAS(ctx, datasetID, refName, parentAtStart, commitID); err != nil {
		if apperr.KindOf(err) != apperr.KindConflict {
			return err
		}
		// §4.7 stage 9: reparent and retry exactly once.
		commitID, err = s.reparentAndRetry(ctx, job, datasetID, refName, message, manifest, schema)
		if err != nil {
			return err
		}
	}

	sheets := make([]string, 0, len(schema))
	for table := range schema {
		sheets = append(sheets, table)
	}
	summary := map[string]any{
		"commit_id": commitID,
		"row_count": rowCount,
		"sheets":    sheets,
	}
	if err := s.jobs.Complete(ctx, job.ID, summary); err != nil {
		return err
	}

	now := time.Now().UTC()
	events := []model.Event{
		{ID: commitID + ":committed", Type: "DatasetCommitted", AggregateID: datasetID, AggregateType: "dataset", UserID: job.UserID, Payload: summary, OccurredAt: now, CorrelationID: job.ID},
		{ID: commitID + ":updated", Type: "DatasetUpdated", AggregateID: datasetID, AggregateType: "dataset", UserID: job.UserID, Payload: map[string]any{"ref": refName, "commit_id": commitID}, OccurredAt: now, CorrelationID: job.ID},
	}
	if err := s.db.PublishEvents(events...); err != nil {
		return err
	}

	if s.search != nil && s.datasets != nil {
		if ds, err := s.datasets.Get(ctx, datasetID); err == nil {
			_ = s.search.Refresh(datasetID, *ds)
		}
	}
	return nil
}

// reparentAndRetry implements §4.7 stage 9: reread the tip, write a new
// commit carrying the same manifest and schema but parented on the new
// tip, and retry the CAS exactly once. A second CAS failure is a
// well-known, re-queueable error kind.
func (s *Service) reparentAndRetry(ctx context.Context, job *model.Job, datasetID, refName, message string, manifest []model.ManifestEntry, schema model.TableSchemas) (string, error) {
	ref, err := s.refs.Resolve(ctx, datasetID, refName)
	if err != nil {
		return "", err
	}
	newParent := ref.CommitID

	commitID, err := s.graph.CreateCommit(ctx, datasetID, newParent, message, job.UserID, manifest, schema)
	if err != nil {
		return "", err
	}
	if err := s.refs.UpdateRefCAS(ctx, datasetID, refName, newParent, commitID); err != nil {
		if apperr.KindOf(err) == apperr.KindConflict {
			return "", apperr.Conflict("ref %q moved again during import retry", refName).
				WithDetail("reason", apperr.ReasonRefMovedUnderImport)
		}
		return "", err
	}
	return commitID, nil
}

// decodeCheckpoint recovers a model.Checkpoint from job.Params, whose
// values round-trip through JSON in the store and come back as
// map[string]any rather than the original struct.
func decodeCheckpoint(v any) (*model.Checkpoint, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var ckpt model.Checkpoint
	if err := json.Unmarshal(data, &ckpt); err != nil {
		return nil, err
	}
	return &ckpt, nil
}

// ingest drives stages 5-7: parse, batch, dedup, checkpoint. When
// resumeFrom is non-nil it seeds the manifest from the checkpoint's
// accumulated entries and skips re-processing the rows already counted
// in RowsEmittedPerSheet, so a reclaimed worker does not re-hash or
// re-write rows it already committed to the row store. The file is
// still re-opened from the start and re-parsed up to that point, since
// csv, xlsx and parquet do not share a common notion of "seek to row
// N", but re-parsing bytes is cheap next to re-hashing and re-writing
// rows.
func (s *Service) ingest(ctx context.Context, job *model.Job, stagedPath, format string, totalBytes int64, parentAtStart string, resumeFrom *model.Checkpoint) ([]model.ManifestEntry, model.TableSchemas, int, error) {
	reader, err := openReader(format, stagedPath, totalBytes, s.rowPool)
	if err != nil {
		return nil, nil, 0, err
	}
	defer reader.Close()

	manifest := make([]model.ManifestEntry, 0, s.cfg.BatchSize)
	columnTypes := make(map[string]map[string]string) // table -> column -> type
	columnOrder := make(map[string][]string)

	batch := make([]map[string]any, 0, s.cfg.BatchSize)
	batchKeys := make([]string, 0, s.cfg.BatchSize)
	rowsProcessed := 0
	batchesSinceCheckpoint := 0

	skipRemaining := map[string]int64{}
	tableProgress := map[string]int64{}
	if resumeFrom != nil {
		manifest = append(manifest, resumeFrom.Manifest...)
		rowsProcessed = len(resumeFrom.Manifest)
		for table, n := range resumeFrom.RowsEmittedPerSheet {
			skipRemaining[table] = n
			tableProgress[table] = n
		}
	}

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if cur, err := s.jobs.Get(ctx, job.ID); err == nil && cur.Status == model.JobCancelled {
			return apperr.BusinessRule("import job %s was cancelled", job.ID)
		}
		hashes, err := s.rows.PutRows(ctx, batch)
		if err != nil {
			return err
		}
		for i, h := range hashes {
			manifest = append(manifest, model.ManifestEntry{LogicalRowID: batchKeys[i], RowHash: h})
		}
		for _, row := range batch {
			s.rowPool.Put(row)
		}
		batch = batch[:0]
		batchKeys = batchKeys[:0]

		if err := s.jobs.SetProgress(ctx, job.ID, model.Progress{
			BytesProcessed: reader.BytesRead(),
			TotalBytes:     totalBytes,
			RowsProcessed:  int64(rowsProcessed),
		}); err != nil {
			return err
		}

		batchesSinceCheckpoint++
		if s.cfg.CheckpointInterval > 0 && batchesSinceCheckpoint >= s.cfg.CheckpointInterval {
			batchesSinceCheckpoint = 0
			if err := s.jobs.SetCheckpoint(ctx, job.ID, model.Checkpoint{
				ManifestLength:      len(manifest),
				ParentAtStart:       parentAtStart,
				Manifest:            append([]model.ManifestEntry(nil), manifest...),
				RowsEmittedPerSheet: copyTableProgress(tableProgress),
			}); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		row, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, nil, 0, err
		}

		// Schema inference runs over every row, skipped or not, since a
		// resumed checkpoint carries no schema of its own and a table
		// fully skipped past on resume must still end up with a schema.
		if _, ok := columnTypes[row.table]; !ok {
			columnTypes[row.table] = make(map[string]string)
		}
		for col, val := range row.data {
			if _, seen := columnTypes[row.table][col]; !seen {
				columnOrder[row.table] = append(columnOrder[row.table], col)
			}
			columnTypes[row.table][col] = inferColumnType(val)
		}

		tableProgress[row.table] = int64(row.index)
		if skipRemaining[row.table] > 0 {
			skipRemaining[row.table]--
			s.rowPool.Put(row.data)
			continue
		}

		logicalRowID := logicalRowIDFor(row.table, row.index)
		batch = append(batch, row.data)
		batchKeys = append(batchKeys, logicalRowID)
		rowsProcessed++

		if len(batch) >= s.cfg.BatchSize {
			if err := flush(); err != nil {
				return nil, nil, 0, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, nil, 0, err
	}

	// A table with a header but zero data rows (header-only CSV, an empty
	// sheet) still gets a schema captured from its header (§4.7 edge
	// case): columnOrder only reflects tables that emitted at least one
	// row, so fill in anything Headers() saw that columnOrder didn't.
	for table, cols := range reader.Headers() {
		if _, ok := columnOrder[table]; !ok {
			columnOrder[table] = cols
			columnTypes[table] = make(map[string]string, len(cols))
			for _, col := range cols {
				columnTypes[table][col] = "string"
			}
		}
	}

	schema := make(model.TableSchemas, len(columnOrder))
	for table, cols := range columnOrder {
		columns := make([]model.ColumnSchema, 0, len(cols))
		for _, col := range cols {
			columns = append(columns, model.ColumnSchema{Name: col, Type: columnTypes[table][col], Nullable: true})
		}
		schema[table] = model.TableSchema{Columns: columns}
	}

	return manifest, schema, rowsProcessed, nil
}

// copyTableProgress snapshots a running per-table row count so each
// checkpoint captures its own immutable copy rather than aliasing the
// map ingest keeps mutating.
func copyTableProgress(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// int64OrZero tolerates both the in-process int64 a freshly enqueued job
// carries and the float64 a claimed job's Params decode to after their
// round trip through JSON in the store.
func int64OrZero(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// logicalRowIDFor builds a logical_row_id that sorts lexicographically in
// the same order the rows were emitted, namespaced by table/sheet so a
// multi-sheet workbook's tables never interleave (§4.7 edge case). The
// zero-padded width caps a single table at 10^12 rows before ordering
// would need to widen; ample for the service's intended scale.
func logicalRowIDFor(table string, index int) string {
	return fmt.Sprintf("%s:%012d", table, index)
}
