package importer

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	pq "github.com/parquet-go/parquet-go"
	"github.com/sakganji/datasetd/pkg/apperr"
	"github.com/sakganji/datasetd/pkg/workerpool"
	"github.com/xuri/excelize/v2"
)

// parsedRow is one row emitted by a streaming file reader, tagged with the
// sheet/table it belongs to and its 1-based position within it (§4.7
// stage 5).
type parsedRow struct {
	table string
	index int
	data  map[string]any
}

// fileReader iterates a staged upload one row at a time without ever
// holding the whole file in memory. Next returns io.EOF once exhausted.
// Headers reports the column names discovered per table/sheet even when a
// table turned out to have zero data rows (§4.7 edge case: header-only
// CSV still captures a schema).
type fileReader interface {
	Next() (parsedRow, error)
	Headers() map[string][]string
	BytesRead() int64
	Close() error
}

// detectFormat maps a staged file's extension to the parser that reads it
// (§4.7 stage 5: "streaming parser appropriate to the detected format").
func detectFormat(originalName string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(originalName)); ext {
	case ".csv":
		return "csv", nil
	case ".xlsx":
		return "xlsx", nil
	case ".parquet":
		return "parquet", nil
	default:
		return "", apperr.InvalidFileFormat("unsupported file extension %q", ext)
	}
}

func openReader(format, path string, totalBytes int64, rowPool *workerpool.RowPool) (fileReader, error) {
	switch format {
	case "csv":
		return newCSVReader(path, rowPool)
	case "xlsx":
		return newXLSXReader(path, totalBytes, rowPool)
	case "parquet":
		return newParquetReader(path, rowPool)
	default:
		return nil, apperr.InvalidFileFormat("unsupported file format %q", format)
	}
}

// --- CSV ---------------------------------------------------------------

const csvTableKey = "primary"

type csvReader struct {
	f       *os.File
	r       *csv.Reader
	header  []string
	rowNum  int
	started bool
	rowPool *workerpool.RowPool
}

func newCSVReader(path string, rowPool *workerpool.RowPool) (*csvReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(err, "open staged csv file")
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	return &csvReader{f: f, r: r, rowPool: rowPool}, nil
}

func (c *csvReader) Next() (parsedRow, error) {
	if !c.started {
		c.started = true
		header, err := c.r.Read()
		if err == io.EOF {
			return parsedRow{}, io.EOF
		}
		if err != nil {
			return parsedRow{}, apperr.InvalidFileFormat("read csv header: %v", err)
		}
		c.header = append([]string(nil), header...)
	}

	record, err := c.r.Read()
	if err == io.EOF {
		return parsedRow{}, io.EOF
	}
	if err != nil {
		return parsedRow{}, apperr.InvalidFileFormat("malformed row at csv line %d: %v", c.rowNum+2, err)
	}
	c.rowNum++

	data := c.rowPool.Get()
	for i, col := range c.header {
		if i < len(record) {
			data[col] = record[i]
		} else {
			data[col] = nil
		}
	}
	return parsedRow{table: csvTableKey, index: c.rowNum, data: data}, nil
}

func (c *csvReader) Headers() map[string][]string {
	if c.header == nil {
		return map[string][]string{}
	}
	return map[string][]string{csvTableKey: c.header}
}

// BytesRead reports the underlying file's current OS read offset, which
// runs ahead of the row csv.Reader last handed back by whatever csv's
// internal bufio.Reader has already pulled off disk. Close enough for
// progress reporting, exact for EOF.
func (c *csvReader) BytesRead() int64 {
	pos, err := c.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return pos
}

func (c *csvReader) Close() error { return c.f.Close() }

// --- XLSX ----------------------------------------------------------------

// xlsxReader streams sheet by sheet using excelize's row iterator rather
// than File.GetRows, which loads a whole sheet into memory at once.
type xlsxReader struct {
	f          *excelize.File
	sheets     []string
	sheetIdx   int
	cur        *excelize.Rows
	header     []string
	headers    map[string][]string
	rowNum     map[string]int
	curTable   string
	totalBytes int64
	rowPool    *workerpool.RowPool
}

func newXLSXReader(path string, totalBytes int64, rowPool *workerpool.RowPool) (*xlsxReader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, apperr.InvalidFileFormat("open xlsx file: %v", err)
	}
	sheets := f.GetSheetList()
	return &xlsxReader{f: f, sheets: sheets, sheetIdx: -1, rowNum: make(map[string]int), headers: make(map[string][]string), totalBytes: totalBytes, rowPool: rowPool}, nil
}

func (x *xlsxReader) Next() (parsedRow, error) {
	for {
		if x.cur == nil {
			x.sheetIdx++
			if x.sheetIdx >= len(x.sheets) {
				return parsedRow{}, io.EOF
			}
			x.curTable = x.sheets[x.sheetIdx]
			rows, err := x.f.Rows(x.curTable)
			if err != nil {
				return parsedRow{}, apperr.InvalidFileFormat("open sheet %q: %v", x.curTable, err)
			}
			x.cur = rows
			x.header = nil
		}

		if !x.cur.Next() {
			if err := x.cur.Close(); err != nil {
				return parsedRow{}, apperr.InvalidFileFormat("read sheet %q: %v", x.curTable, err)
			}
			x.cur = nil
			continue
		}
		cols, err := x.cur.Columns()
		if err != nil {
			return parsedRow{}, apperr.InvalidFileFormat("read row in sheet %q: %v", x.curTable, err)
		}
		if x.header == nil {
			x.header = append([]string(nil), cols...)
			x.headers[x.curTable] = x.header
			continue
		}
		x.rowNum[x.curTable]++
		data := x.rowPool.Get()
		for i, col := range x.header {
			if i < len(cols) {
				data[col] = cols[i]
			} else {
				data[col] = nil
			}
		}
		return parsedRow{table: x.curTable, index: x.rowNum[x.curTable], data: data}, nil
	}
}

func (x *xlsxReader) Headers() map[string][]string { return x.headers }

// BytesRead estimates progress as completed-sheets / total-sheets of the
// staged file's size. excelize does not expose the xlsx zip member's
// read offset, so unlike the csv and parquet readers this is a coarse
// per-sheet estimate rather than an exact byte count, and assumes
// roughly uniform sheet sizes.
func (x *xlsxReader) BytesRead() int64 {
	if len(x.sheets) == 0 {
		return x.totalBytes
	}
	done := x.sheetIdx
	if done < 0 {
		done = 0
	}
	if done >= len(x.sheets) {
		return x.totalBytes
	}
	return int64(done) * x.totalBytes / int64(len(x.sheets))
}

func (x *xlsxReader) Close() error { return x.f.Close() }

// --- Parquet ---------------------------------------------------------------

const parquetTableKey = "primary"

// parquetReader streams row group by row group via pq.Reader.ReadRows,
// grounded on the teacher's readParquetFile (pkg/resource/parquet/io.go),
// generalized to stream rather than accumulate every row in a slice.
type parquetReader struct {
	f       *os.File
	reader  *pq.Reader
	fields  []pq.Field
	buf     []pq.Row
	bufLen  int
	bufPos  int
	rowNum  int
	done    bool
	rowPool *workerpool.RowPool
}

func newParquetReader(path string, rowPool *workerpool.RowPool) (*parquetReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(err, "open staged parquet file")
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperr.Wrap(err, "stat staged parquet file")
	}
	pf, err := pq.OpenFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, apperr.InvalidFileFormat("open parquet file: %v", err)
	}
	reader := pq.NewReader(f)
	return &parquetReader{
		f:       f,
		reader:  reader,
		fields:  pf.Schema().Fields(),
		buf:     make([]pq.Row, 128),
		rowPool: rowPool,
	}, nil
}

func (p *parquetReader) Next() (parsedRow, error) {
	for p.bufPos >= p.bufLen {
		if p.done {
			return parsedRow{}, io.EOF
		}
		n, err := p.reader.ReadRows(p.buf)
		p.bufLen, p.bufPos = n, 0
		if err != nil {
			if err == io.EOF {
				p.done = true
			} else {
				return parsedRow{}, apperr.InvalidFileFormat("read parquet row group: %v", err)
			}
		}
		if n == 0 && p.done {
			return parsedRow{}, io.EOF
		}
	}

	row := p.buf[p.bufPos]
	p.bufPos++
	p.rowNum++

	data := p.rowPool.Get()
	for i, field := range p.fields {
		if i < len(row) {
			data[field.Name()] = parquetValueToGo(row[i])
		}
	}
	return parsedRow{table: parquetTableKey, index: p.rowNum, data: data}, nil
}

func (p *parquetReader) Headers() map[string][]string {
	cols := make([]string, len(p.fields))
	for i, f := range p.fields {
		cols[i] = f.Name()
	}
	return map[string][]string{parquetTableKey: cols}
}

// BytesRead reports the underlying file's current OS read offset.
func (p *parquetReader) BytesRead() int64 {
	pos, err := p.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0
	}
	return pos
}

func (p *parquetReader) Close() error { return p.f.Close() }

func parquetValueToGo(v pq.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case pq.Boolean:
		return v.Boolean()
	case pq.Int32:
		return int64(v.Int32())
	case pq.Int64:
		return v.Int64()
	case pq.Float:
		return float64(v.Float())
	case pq.Double:
		return v.Double()
	case pq.ByteArray, pq.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

// inferColumnType does simple type sniffing of a row value for schema
// capture (§4.7 stage 8 "capture the commit schema").
func inferColumnType(v any) string {
	switch t := v.(type) {
	case nil:
		return "string"
	case bool:
		return "bool"
	case int64, int, int32:
		return "int64"
	case float64, float32:
		return "float64"
	case string:
		if _, err := strconv.ParseInt(t, 10, 64); err == nil && t != "" {
			return "int64"
		}
		if _, err := strconv.ParseFloat(t, 64); err == nil && t != "" {
			return "float64"
		}
		return "string"
	default:
		return "string"
	}
}
