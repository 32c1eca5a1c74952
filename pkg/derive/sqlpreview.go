package derive

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"

	tidbparser "github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/model"
)

// PreviewRequest describes a read-only SQL preview against one commit
// (§4.9 SQL preview/transform). Joins are out of scope per §1; this is a
// single-table filter/project/limit, not a relational engine.
type PreviewRequest struct {
	DatasetID string
	CommitID  string
	SQL       string
}

// PreviewResult is the projected, filtered, limited row set a preview
// produces. It is never persisted.
type PreviewResult struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// Preview parses req.SQL with the teacher's own SQL grammar
// (github.com/pingcap/tidb/pkg/parser) and evaluates it against a
// commit's materialized rows with a small in-process filter/project/
// limit evaluator — no optimizer, no executor, no writes (§4.9).
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	stmt, err := parseSelect(req.SQL)
	if err != nil {
		return nil, err
	}
	tableKey, err := selectTable(stmt)
	if err != nil {
		return nil, err
	}
	rows, err := s.q.AllDataAtCommit(ctx, req.DatasetID, req.CommitID, tableKey)
	if err != nil {
		return nil, err
	}

	limit := -1
	if stmt.Limit != nil && stmt.Limit.Count != nil {
		if v, ok := stmt.Limit.Count.(ast.ValueExpr); ok {
			if n, ok := toInt64(v.GetValue()); ok {
				limit = int(n)
			}
		}
	}
	columns := selectColumns(stmt)

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		if stmt.Where != nil {
			match, err := evalCondition(stmt.Where, row.Data)
			if err != nil {
				return nil, err
			}
			if !match {
				continue
			}
		}
		out = append(out, projectColumns(row.Data, columns))
		if limit >= 0 && len(out) >= limit {
			break
		}
	}

	cols := columns
	if len(cols) == 0 {
		cols = columnUnion(out)
	}
	return &PreviewResult{Columns: cols, Rows: out}, nil
}

// previewRowLimit caps how many rows a persisted preview job
// output_summary carries; the synchronous Preview call itself is
// unbounded beyond the SQL's own LIMIT.
const previewRowLimit = 500

// runPreview drives one SQL-preview job to completion.
func (s *Service) runPreview(ctx context.Context, job *model.Job) error {
	sql, _ := job.Params["sql"].(string)
	if job.SourceCommitID == "" {
		return apperr.Validation("preview requires a source commit")
	}
	result, err := s.Preview(ctx, PreviewRequest{DatasetID: job.DatasetID, CommitID: job.SourceCommitID, SQL: sql})
	if err != nil {
		return err
	}
	rows := result.Rows
	truncated := false
	if len(rows) > previewRowLimit {
		rows = rows[:previewRowLimit]
		truncated = true
	}
	return s.jobs.Complete(ctx, job.ID, map[string]any{
		"columns":   result.Columns,
		"rows":      rows,
		"row_count": len(result.Rows),
		"truncated": truncated,
	})
}

func parseSelect(sql string) (*ast.SelectStmt, error) {
	p := tidbparser.New()
	stmtNodes, _, err := p.Parse(sql, "", "")
	if err != nil {
		return nil, apperr.Validation("invalid SQL: %v", err)
	}
	if len(stmtNodes) != 1 {
		return nil, apperr.Validation("preview accepts exactly one SQL statement")
	}
	sel, ok := stmtNodes[0].(*ast.SelectStmt)
	if !ok {
		return nil, apperr.Validation("only read-only SELECT statements are supported for preview")
	}
	return sel, nil
}

func selectTable(stmt *ast.SelectStmt) (string, error) {
	if stmt.From == nil || stmt.From.TableRefs == nil {
		return "", apperr.Validation("SELECT must name a FROM table")
	}
	if stmt.From.TableRefs.Right != nil {
		return "", apperr.Validation("joins are not supported in preview")
	}
	tableSource, ok := stmt.From.TableRefs.Left.(*ast.TableSource)
	if !ok {
		return "", apperr.Validation("unsupported FROM clause")
	}
	tableName, ok := tableSource.Source.(*ast.TableName)
	if !ok {
		return "", apperr.Validation("unsupported FROM clause")
	}
	return tableName.Name.String(), nil
}

// selectColumns returns the explicitly named projection columns, or nil
// for SELECT * (no projection: pass rows through unchanged).
func selectColumns(stmt *ast.SelectStmt) []string {
	if stmt.Fields == nil {
		return nil
	}
	var cols []string
	for _, f := range stmt.Fields.Fields {
		if f.WildCard != nil {
			return nil
		}
		if col, ok := f.Expr.(*ast.ColumnNameExpr); ok {
			cols = append(cols, col.Name.Name.String())
		}
	}
	return cols
}

func projectColumns(data map[string]any, columns []string) map[string]any {
	if len(columns) == 0 {
		return data
	}
	out := make(map[string]any, len(columns))
	for _, c := range columns {
		out[c] = data[c]
	}
	return out
}

func columnUnion(rows []map[string]any) []string {
	seen := map[string]bool{}
	var cols []string
	for _, r := range rows {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// evalCondition walks a WHERE expression tree, following the same
// node-type switch the teacher's convertExpression uses to recognize
// ast nodes (mysql/parser/adapter.go), generalized here to evaluate a
// boolean result against one row instead of producing an Expression AST.
func evalCondition(node ast.ExprNode, data map[string]any) (bool, error) {
	switch n := node.(type) {
	case *ast.BinaryOperationExpr:
		switch n.Op {
		case opcode.LogicAnd:
			left, err := evalCondition(n.L, data)
			if err != nil || !left {
				return false, err
			}
			return evalCondition(n.R, data)
		case opcode.LogicOr:
			left, err := evalCondition(n.L, data)
			if err != nil {
				return false, err
			}
			if left {
				return true, nil
			}
			return evalCondition(n.R, data)
		default:
			return evalComparison(n.Op, n.L, n.R, data)
		}
	case *ast.PatternLikeOrIlikeExpr:
		left, err := resolveValue(n.Expr, data)
		if err != nil {
			return false, err
		}
		right, err := resolveValue(n.Pattern, data)
		if err != nil {
			return false, err
		}
		matched := likeMatch(toString(left), toString(right))
		if n.Not {
			return !matched, nil
		}
		return matched, nil
	case *ast.ParenthesesExpr:
		return evalCondition(n.Expr, data)
	default:
		return false, apperr.Validation("unsupported WHERE expression")
	}
}

func evalComparison(op opcode.Op, lNode, rNode ast.ExprNode, data map[string]any) (bool, error) {
	l, err := resolveValue(lNode, data)
	if err != nil {
		return false, err
	}
	r, err := resolveValue(rNode, data)
	if err != nil {
		return false, err
	}
	cmp, comparable := compareValues(l, r)
	if !comparable {
		eq := toString(l) == toString(r)
		switch op {
		case opcode.EQ:
			return eq, nil
		case opcode.NE:
			return !eq, nil
		default:
			return false, apperr.Validation("cannot compare %v and %v", l, r)
		}
	}
	switch op {
	case opcode.EQ:
		return cmp == 0, nil
	case opcode.NE:
		return cmp != 0, nil
	case opcode.LT:
		return cmp < 0, nil
	case opcode.LE:
		return cmp <= 0, nil
	case opcode.GT:
		return cmp > 0, nil
	case opcode.GE:
		return cmp >= 0, nil
	default:
		return false, apperr.Validation("unsupported comparison operator")
	}
}

func resolveValue(node ast.ExprNode, data map[string]any) (any, error) {
	switch n := node.(type) {
	case *ast.ColumnNameExpr:
		return data[n.Name.Name.String()], nil
	case ast.ValueExpr:
		return n.GetValue(), nil
	default:
		return nil, apperr.Validation("unsupported value expression in WHERE")
	}
}

func compareValues(l, r any) (int, bool) {
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if lok && rok {
		switch {
		case lf < rf:
			return -1, true
		case lf > rf:
			return 1, true
		default:
			return 0, true
		}
	}
	ls, lok2 := l.(string)
	rs, rok2 := r.(string)
	if lok2 && rok2 {
		return strings.Compare(ls, rs), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case uint64:
		return int64(t), true
	case float64:
		return int64(t), true
	default:
		return 0, false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return strconv.FormatFloat(mustFloat(v), 'f', -1, 64)
}

func mustFloat(v any) float64 {
	f, _ := toFloat(v)
	return f
}

// likeMatch implements SQL LIKE semantics (% = any run, _ = one char)
// over a case-insensitive regexp built from the pattern.
func likeMatch(value, pattern string) bool {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, "%", ".*")
	quoted = strings.ReplaceAll(quoted, "_", ".")
	re, err := regexp.Compile("(?is)^" + quoted + "$")
	if err != nil {
		return false
	}
	return re.MatchString(value)
}
