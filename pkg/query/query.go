// Package query implements the read paths over a dataset's commit graph
// (§4.8): data at a ref or pinned commit, table listing, schema lookup,
// and a dataset overview. Every paginated read joins the manifest
// (iterated in logical_row_id lexicographic order) against the row
// store; ordering is stable across calls because it falls directly out
// of badger's byte-ordered key iteration rather than any in-memory sort.
package query

import (
	"context"
	"math"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/commitgraph"
	"github.com/sakganji/datasetd/pkg/model"
	"github.com/sakganji/datasetd/pkg/refregistry"
	"github.com/sakganji/datasetd/pkg/rowstore"
	"github.com/sakganji/datasetd/pkg/store"
)

// DefaultMaxLimit is the upper bound the service clamps the pagination
// limit to when a caller omits or exceeds it (§4.8, §5). The HTTP layer
// first clamps to the configured query.max_limit; a configured value
// above DefaultMaxLimit does not raise this ceiling.
const DefaultMaxLimit = 1000

type Service struct {
	db      *store.Store
	graph   *commitgraph.Graph
	refs    *refregistry.Registry
	rows    *rowstore.Store
	maxLimit int
}

func New(db *store.Store, graph *commitgraph.Graph, refs *refregistry.Registry, rows *rowstore.Store) *Service {
	return &Service{db: db, graph: graph, refs: refs, rows: rows, maxLimit: DefaultMaxLimit}
}

// Row is one manifest entry resolved against the row store, in manifest
// order.
type Row struct {
	LogicalRowID string         `json:"logical_row_id"`
	Data         map[string]any `json:"data"`
}

// GetDataAtRef resolves ref_name to its current commit and reads a page
// of table_key's rows from it.
func (s *Service) GetDataAtRef(ctx context.Context, datasetID, refName, tableKey string, offset, limit int) ([]Row, error) {
	ref, err := s.refs.Resolve(ctx, datasetID, refName)
	if err != nil {
		return nil, err
	}
	if ref.CommitID == "" {
		return []Row{}, nil
	}
	return s.GetDataAtCommit(ctx, datasetID, ref.CommitID, tableKey, offset, limit)
}

// GetDataAtCommit reads a page of table_key's rows pinned at commitID.
func (s *Service) GetDataAtCommit(ctx context.Context, datasetID, commitID, tableKey string, offset, limit int) ([]Row, error) {
	if offset < 0 {
		return nil, apperr.Validation("offset must be non-negative")
	}
	if limit < 0 {
		return nil, apperr.Validation("limit must be non-negative")
	}
	if limit == 0 || limit > s.maxLimit {
		limit = s.maxLimit
	}
	if _, err := s.graph.GetCommit(ctx, datasetID, commitID); err != nil {
		return nil, err
	}

	entries, err := s.scanManifest(commitID, tableKey, offset, limit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []Row{}, nil
	}

	hashes := make([]string, len(entries))
	for i, e := range entries {
		hashes[i] = e.RowHash
	}
	data, err := s.rows.GetRows(ctx, hashes)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(entries))
	for i, e := range entries {
		out[i] = Row{LogicalRowID: e.LogicalRowID, Data: data[e.RowHash]}
	}
	return out, nil
}

// AllManifestEntries returns every manifest entry for table_key at
// commitID (the whole table if tableKey is empty), unclamped by the
// configured pagination limit. Derived-op adapters (§4.9) operate over a
// full table, not one page of it.
func (s *Service) AllManifestEntries(ctx context.Context, datasetID, commitID, tableKey string) ([]model.ManifestEntry, error) {
	if _, err := s.graph.GetCommit(ctx, datasetID, commitID); err != nil {
		return nil, err
	}
	return s.scanManifest(commitID, tableKey, 0, math.MaxInt32)
}

// AllDataAtCommit reads every row of table_key at commitID, joined
// against the row store, unclamped by the configured pagination limit.
func (s *Service) AllDataAtCommit(ctx context.Context, datasetID, commitID, tableKey string) ([]Row, error) {
	entries, err := s.AllManifestEntries(ctx, datasetID, commitID, tableKey)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return []Row{}, nil
	}
	hashes := make([]string, len(entries))
	for i, e := range entries {
		hashes[i] = e.RowHash
	}
	data, err := s.rows.GetRows(ctx, hashes)
	if err != nil {
		return nil, err
	}
	out := make([]Row, len(entries))
	for i, e := range entries {
		out[i] = Row{LogicalRowID: e.LogicalRowID, Data: data[e.RowHash]}
	}
	return out, nil
}

func (s *Service) scanManifest(commitID, tableKey string, offset, limit int) ([]model.ManifestEntry, error) {
	var entries []model.ManifestEntry
	err := s.db.View(func(txn *badger.Txn) error {
		var prefix []byte
		if tableKey == "" {
			prefix = store.ManifestPrefix(commitID)
		} else {
			prefix = store.ManifestTablePrefix(commitID, tableKey)
		}
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		skipped := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if len(entries) >= limit {
				break
			}
			item := it.Item()
			logicalRowID := store.LogicalRowIDFromManifestKey(item.KeyCopy(nil), commitID)
			var rowHash string
			if err := item.Value(func(val []byte) error {
				rowHash = string(val)
				return nil
			}); err != nil {
				return apperr.Wrap(err, "read manifest entry")
			}
			entries = append(entries, model.ManifestEntry{LogicalRowID: logicalRowID, RowHash: rowHash})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// TableSummary is one row of list_tables' output.
type TableSummary struct {
	Key          string `json:"key"`
	RowCount     int    `json:"row_count"`
	ColumnCount  int    `json:"column_count"`
}

// ListTables derives the distinct table_key prefixes present in a
// commit's manifest and their row cardinality, joined against the
// commit's stored schema for column counts.
func (s *Service) ListTables(ctx context.Context, commitID string) ([]TableSummary, error) {
	counts := map[string]int{}
	var order []string
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := store.ManifestPrefix(commitID)
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			logicalRowID := store.LogicalRowIDFromManifestKey(it.Item().KeyCopy(nil), commitID)
			table, _, ok := strings.Cut(logicalRowID, ":")
			if !ok {
				table = logicalRowID
			}
			if _, seen := counts[table]; !seen {
				order = append(order, table)
			}
			counts[table]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	schema, err := s.graph.GetSchema(ctx, commitID)
	if err != nil && apperr.KindOf(err) != apperr.KindNotFound {
		return nil, err
	}

	summaries := make([]TableSummary, 0, len(order))
	for _, table := range order {
		colCount := 0
		if schema != nil {
			if ts, ok := schema.Tables[table]; ok {
				colCount = len(ts.Columns)
			}
		}
		summaries = append(summaries, TableSummary{Key: table, RowCount: counts[table], ColumnCount: colCount})
	}
	return summaries, nil
}

func (s *Service) GetSchema(ctx context.Context, commitID string) (*model.CommitSchema, error) {
	return s.graph.GetSchema(ctx, commitID)
}

// RefOverview is one entry of GetOverview's refs list.
type RefOverview struct {
	Name     string         `json:"name"`
	CommitID string         `json:"commit_id,omitempty"`
	Tables   []TableSummary `json:"tables"`
}

// Overview is get_overview's full response shape.
type Overview struct {
	Refs       []RefOverview `json:"refs"`
	DefaultRef string        `json:"default_ref"`
}

func (s *Service) GetOverview(ctx context.Context, datasetID string) (*Overview, error) {
	refs, err := s.refs.ListRefs(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	out := Overview{DefaultRef: model.MainRef}
	for _, ref := range refs {
		ro := RefOverview{Name: ref.Name, CommitID: ref.CommitID, Tables: []TableSummary{}}
		if ref.CommitID != "" {
			tables, err := s.ListTables(ctx, ref.CommitID)
			if err != nil {
				return nil, err
			}
			ro.Tables = tables
		}
		out.Refs = append(out.Refs, ro)
	}
	return &out, nil
}
