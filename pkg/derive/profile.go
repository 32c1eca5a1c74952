package derive

import (
	"context"
	"fmt"
	"sort"

	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/model"
)

// ColumnProfile summarizes one column across a table: how many rows left
// it null, how many distinct values it took on, and (for numeric
// columns) its range and mean (§4.9 "table analysis / profiling").
type ColumnProfile struct {
	Column           string   `json:"column"`
	NullCount        int      `json:"null_count"`
	DistinctEstimate int      `json:"distinct_estimate"`
	Min              *float64 `json:"min,omitempty"`
	Max              *float64 `json:"max,omitempty"`
	Mean             *float64 `json:"mean,omitempty"`
}

// ProfileResult is one table's full profile, the shape a profiling job's
// output_summary carries.
type ProfileResult struct {
	TableKey string          `json:"table_key"`
	RowCount int             `json:"row_count"`
	Columns  []ColumnProfile `json:"columns"`
}

// Profile computes ProfileResult for table_key at commitID. It is
// read-only: unlike sampling, profiling never writes a commit (§4.9).
func (s *Service) Profile(ctx context.Context, datasetID, commitID, tableKey string) (*ProfileResult, error) {
	rows, err := s.q.AllDataAtCommit(ctx, datasetID, commitID, tableKey)
	if err != nil {
		return nil, err
	}

	accumulators := map[string]*columnAccumulator{}
	var order []string
	for _, row := range rows {
		for col, val := range row.Data {
			acc, ok := accumulators[col]
			if !ok {
				acc = &columnAccumulator{distinct: map[string]struct{}{}}
				accumulators[col] = acc
				order = append(order, col)
			}
			acc.observe(val)
		}
	}
	sort.Strings(order)

	columns := make([]ColumnProfile, 0, len(order))
	for _, col := range order {
		columns = append(columns, accumulators[col].result(col))
	}
	return &ProfileResult{TableKey: tableKey, RowCount: len(rows), Columns: columns}, nil
}

// runProfiling drives one profiling job to completion, recording its
// ProfileResult directly as the job's output_summary.
func (s *Service) runProfiling(ctx context.Context, job *model.Job) error {
	tableKey, _ := job.Params["table_key"].(string)
	if job.SourceCommitID == "" {
		return apperr.Validation("profiling requires a source commit")
	}
	result, err := s.Profile(ctx, job.DatasetID, job.SourceCommitID, tableKey)
	if err != nil {
		return err
	}
	return s.jobs.Complete(ctx, job.ID, map[string]any{
		"table_key": result.TableKey,
		"row_count": result.RowCount,
		"columns":   result.Columns,
	})
}

// columnAccumulator folds one column's values into null/distinct/numeric
// statistics in a single pass, the generalization of the teacher's
// pkg/monitor counters from query metrics to column metrics.
type columnAccumulator struct {
	nullCount int
	distinct  map[string]struct{}
	numCount  int
	sum       float64
	min       float64
	max       float64
	hasNum    bool
}

func (a *columnAccumulator) observe(v any) {
	if v == nil {
		a.nullCount++
		return
	}
	a.distinct[fmt.Sprint(v)] = struct{}{}
	if f, ok := toFloat(v); ok {
		if !a.hasNum || f < a.min {
			a.min = f
		}
		if !a.hasNum || f > a.max {
			a.max = f
		}
		a.sum += f
		a.numCount++
		a.hasNum = true
	}
}

func (a *columnAccumulator) result(col string) ColumnProfile {
	cp := ColumnProfile{Column: col, NullCount: a.nullCount, DistinctEstimate: len(a.distinct)}
	if a.hasNum {
		min, max, mean := a.min, a.max, a.sum/float64(a.numCount)
		cp.Min, cp.Max, cp.Mean = &min, &max, &mean
	}
	return cp
}
