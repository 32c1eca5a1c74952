package workerpool

import (
	"sync"
	"sync/atomic"
)

// Row is one parsed import record before it is canonicalized and
// hashed; column names are taken verbatim from the source file (§6
// "Persisted layout").
type Row = map[string]any

// RowPool is a sync.Pool for reusing Row objects across streaming import
// batches (§4.7 stage 5), avoiding one map allocation per row on
// multi-million-row files.
type RowPool struct {
	pool      sync.Pool
	allocCnt  int64
	reuseCnt  int64
	returnCnt int64
}

// NewRowPool creates a new row pool
func NewRowPool() *RowPool {
	return &RowPool{
		pool: sync.Pool{
			New: func() interface{} {
				return make(Row)
			},
		},
	}
}

// Get retrieves a row from the pool, creating a new one if necessary
func (rp *RowPool) Get() Row {
	v := rp.pool.Get()
	if v == nil {
		atomic.AddInt64(&rp.allocCnt, 1)
		return make(Row)
	}
	atomic.AddInt64(&rp.reuseCnt, 1)
	row := v.(Row)
	// Clear the map for reuse
	for k := range row {
		delete(row, k)
	}
	return row
}

// Put returns a row to the pool for reuse
func (rp *RowPool) Put(row Row) {
	if row == nil {
		return
	}
	// Clear the row data to prevent memory leaks
	for k := range row {
		delete(row, k)
	}
	atomic.AddInt64(&rp.returnCnt, 1)
	rp.pool.Put(row)
}

// Stats returns pool statistics
func (rp *RowPool) Stats() RowPoolStats {
	allocs := atomic.LoadInt64(&rp.allocCnt)
	reuses := atomic.LoadInt64(&rp.reuseCnt)
	returns := atomic.LoadInt64(&rp.returnCnt)
	total := allocs + reuses
	var reuseRate float64
	if total > 0 {
		reuseRate = float64(reuses) / float64(total) * 100
	}
	return RowPoolStats{
		Allocations: allocs,
		Reuses:      reuses,
		Returns:     returns,
		ReuseRate:   reuseRate,
	}
}

// RowPoolStats holds row pool statistics
type RowPoolStats struct {
	Allocations int64
	Reuses      int64
	Returns     int64
	ReuseRate   float64
}
