package derive

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/model"
)

// runSampling drives one sampling job to completion (§4.9): select a
// subset of an existing commit's manifest entries and write it as a new
// commit parented on the source, reusing the original row hashes
// verbatim (the rows are already content-addressed and immutable, so a
// sample never needs to rewrite or re-hash anything it selects).
func (s *Service) runSampling(ctx context.Context, job *model.Job) error {
	datasetID := job.DatasetID
	sourceCommitID := job.SourceCommitID
	if sourceCommitID == "" {
		return apperr.Validation("sampling requires a source commit")
	}
	tableKey, _ := job.Params["table_key"].(string)
	method, _ := job.Params["method"].(string)
	sampleSize := int(asInt64(job.Params["sample_size"]))
	seed := asInt64(job.Params["seed"])
	strataColumn, _ := job.Params["strata_column"].(string)
	clusterColumn, _ := job.Params["cluster_column"].(string)
	destRef, _ := job.Params["dest_ref"].(string)
	message, _ := job.Params["message"].(string)

	entries, err := s.q.AllManifestEntries(ctx, datasetID, sourceCommitID, tableKey)
	if err != nil {
		return err
	}

	var sampled []model.ManifestEntry
	switch method {
	case "", "random":
		sampled = sampleRandom(entries, sampleSize, seed)
	case "systematic":
		sampled = sampleSystematic(entries, sampleSize)
	case "stratified":
		sampled, err = s.sampleStratified(ctx, entries, sampleSize, strataColumn)
	case "cluster":
		sampled, err = s.sampleCluster(ctx, entries, sampleSize, clusterColumn)
	default:
		return apperr.Validation("unsupported sampling method %q", method)
	}
	if err != nil {
		return err
	}

	commitSchema, err := s.graph.GetSchema(ctx, sourceCommitID)
	if err != nil {
		return err
	}
	tables := make(model.TableSchemas, len(commitSchema.Tables))
	for _, t := range tablesIn(sampled) {
		if ts, ok := commitSchema.Tables[t]; ok {
			tables[t] = ts
		}
	}

	if message == "" {
		message = fmt.Sprintf("%s sample of %d row(s)", orDefault(method, "random"), len(sampled))
	}
	commitID, err := s.graph.CreateCommit(ctx, datasetID, sourceCommitID, message, job.UserID, sampled, tables)
	if err != nil {
		return err
	}

	if destRef != "" {
		if err := s.refs.CreateRef(ctx, datasetID, destRef, commitID); err != nil {
			return err
		}
	}

	return s.jobs.Complete(ctx, job.ID, map[string]any{
		"commit_id": commitID,
		"row_count": len(sampled),
		"method":    orDefault(method, "random"),
	})
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func newRand(seed int64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

// sampleRandom picks sampleSize entries uniformly without replacement,
// preserving the manifest's logical_row_id ordering invariant (§5) in the
// result by selecting indices and keeping them in ascending order rather
// than in the order they were drawn.
func sampleRandom(entries []model.ManifestEntry, sampleSize int, seed int64) []model.ManifestEntry {
	if sampleSize <= 0 || sampleSize >= len(entries) {
		return append([]model.ManifestEntry(nil), entries...)
	}
	r := newRand(seed)
	idx := r.Perm(len(entries))[:sampleSize]
	sort.Ints(idx)
	out := make([]model.ManifestEntry, sampleSize)
	for i, j := range idx {
		out[i] = entries[j]
	}
	return out
}

// sampleSystematic picks every kth entry, k = len(entries)/sampleSize,
// a deterministic alternative to random sampling.
func sampleSystematic(entries []model.ManifestEntry, sampleSize int) []model.ManifestEntry {
	if sampleSize <= 0 || sampleSize >= len(entries) {
		return append([]model.ManifestEntry(nil), entries...)
	}
	return pickEvenlySpaced(entries, sampleSize)
}

// pickEvenlySpaced takes exactly n entries at even intervals, unlike
// sampleSystematic it has no "0 or too big means take everything"
// fallback: n <= 0 yields nothing, which is what per-stratum/per-cluster
// proportional allocation needs when a group's share rounds to zero.
func pickEvenlySpaced(entries []model.ManifestEntry, n int) []model.ManifestEntry {
	if n <= 0 {
		return nil
	}
	total := len(entries)
	if n >= total {
		return append([]model.ManifestEntry(nil), entries...)
	}
	step := float64(total) / float64(n)
	out := make([]model.ManifestEntry, 0, n)
	for i := 0; i < n; i++ {
		idx := int(float64(i) * step)
		if idx >= total {
			idx = total - 1
		}
		out = append(out, entries[idx])
	}
	return out
}

// sampleStratified groups entries by strataColumn's value and allocates
// sampleSize proportionally across strata, so the sample's distribution
// of that column mirrors the source.
func (s *Service) sampleStratified(ctx context.Context, entries []model.ManifestEntry, sampleSize int, strataColumn string) ([]model.ManifestEntry, error) {
	if strataColumn == "" {
		return nil, apperr.Validation("stratified sampling requires a strata_column")
	}
	if sampleSize <= 0 || sampleSize >= len(entries) {
		return append([]model.ManifestEntry(nil), entries...), nil
	}
	rows, err := s.rows.GetRows(ctx, hashesOf(entries))
	if err != nil {
		return nil, err
	}

	strata := map[string][]model.ManifestEntry{}
	var order []string
	for _, e := range entries {
		key := fmt.Sprint(rows[e.RowHash][strataColumn])
		if _, ok := strata[key]; !ok {
			order = append(order, key)
		}
		strata[key] = append(strata[key], e)
	}

	var out []model.ManifestEntry
	remaining := sampleSize
	for i, key := range order {
		stratum := strata[key]
		var take int
		if i == len(order)-1 {
			take = remaining
		} else {
			take = int(float64(len(stratum)) / float64(len(entries)) * float64(sampleSize))
		}
		if take > len(stratum) {
			take = len(stratum)
		}
		if take > remaining {
			take = remaining
		}
		out = append(out, pickEvenlySpaced(stratum, take)...)
		remaining -= take
	}
	sortByLogicalRowID(out)
	return out, nil
}

// sampleCluster groups entries by clusterColumn's value and selects whole
// clusters at random until the target sample size is reached or
// exceeded, the defining trait of cluster sampling (whole groups are
// included or excluded together, never split).
func (s *Service) sampleCluster(ctx context.Context, entries []model.ManifestEntry, sampleSize int, clusterColumn string) ([]model.ManifestEntry, error) {
	if clusterColumn == "" {
		return nil, apperr.Validation("cluster sampling requires a cluster_column")
	}
	rows, err := s.rows.GetRows(ctx, hashesOf(entries))
	if err != nil {
		return nil, err
	}

	clusters := map[string][]model.ManifestEntry{}
	var order []string
	for _, e := range entries {
		key := fmt.Sprint(rows[e.RowHash][clusterColumn])
		if _, ok := clusters[key]; !ok {
			order = append(order, key)
		}
		clusters[key] = append(clusters[key], e)
	}
	if sampleSize <= 0 || sampleSize >= len(entries) {
		return append([]model.ManifestEntry(nil), entries...), nil
	}

	r := newRand(0)
	perm := r.Perm(len(order))
	var out []model.ManifestEntry
	for _, idx := range perm {
		if len(out) >= sampleSize {
			break
		}
		out = append(out, clusters[order[idx]]...)
	}
	sortByLogicalRowID(out)
	return out, nil
}
