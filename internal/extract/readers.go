/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package extract

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/altairalabs/costflow/internal/source"
)

// decodeParquet reads all rows from a parquet file into raw records. When a
// date filter is set, row groups whose column statistics fall entirely
// outside the window are skipped without being read.
func decodeParquet(data []byte, filter source.DateFilter) ([]RawRecord, error) {
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening parquet file: %w", err)
	}

	columns := f.Schema().Columns()
	names := make([]string, len(columns))
	filterCol := -1
	for i, path := range columns {
		names[i] = strings.Join(path, ".")
		if filter.Column != "" && (names[i] == filter.Column || path[len(path)-1] == filter.Column) {
			filterCol = i
		}
	}

	var records []RawRecord
	for _, rg := range f.RowGroups() {
		if filterCol >= 0 && !rowGroupOverlaps(rg, filterCol, filter) {
			continue
		}

		rows := rg.Rows()
		buf := make([]parquet.Row, 256)
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				rec := make(RawRecord, len(names))
				for _, v := range row {
					if v.IsNull() {
						continue
					}
					rec[names[v.Column()]] = parquetValue(v)
				}
				if passesDateFilter(rec, filter) {
					records = append(records, rec)
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("reading parquet rows: %w", err)
			}
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("closing parquet row reader: %w", err)
		}
	}
	return records, nil
}

// rowGroupOverlaps checks the filter column's page statistics against the
// window. Missing or unparseable statistics keep the group readable.
func rowGroupOverlaps(rg parquet.RowGroup, col int, filter source.DateFilter) bool {
	chunk := rg.ColumnChunks()[col]
	idx, err := chunk.ColumnIndex()
	if err != nil || idx == nil {
		return true
	}
	for i := 0; i < idx.NumPages(); i++ {
		minT, okMin := coerceTime(parquetValue(idx.MinValue(i)))
		maxT, okMax := coerceTime(parquetValue(idx.MaxValue(i)))
		if !okMin || !okMax {
			return true
		}
		// Page overlaps [Start, End) unless entirely before or after.
		if !filter.Start.IsZero() && maxT.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && !minT.Before(filter.End) {
			continue
		}
		return true
	}
	return false
}

// parquetValue converts a parquet cell to its Go representation.
func parquetValue(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

// decodeCSV reads a header-first CSV file into raw records of string cells.
func decodeCSV(data []byte, comp source.Compression, filter source.DateFilter) ([]RawRecord, error) {
	r, err := decompress(data, comp)
	if err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading CSV header: %w", err)
	}

	var records []RawRecord
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading CSV row: %w", err)
		}
		rec := make(RawRecord, len(header))
		for i, col := range header {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		if passesDateFilter(rec, filter) {
			records = append(records, rec)
		}
	}
	return records, nil
}

// decodeJSONL reads newline-delimited JSON objects into raw records.
func decodeJSONL(data []byte, comp source.Compression, filter source.DateFilter) ([]RawRecord, error) {
	r, err := decompress(data, comp)
	if err != nil {
		return nil, err
	}

	var records []RawRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec RawRecord
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if passesDateFilter(rec, filter) {
			records = append(records, rec)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning JSONL: %w", err)
	}
	return records, nil
}

// decompress wraps data in the reader for its codec. Parquet carries its own
// compression, so only csv/jsonl call this.
func decompress(data []byte, comp source.Compression) (io.Reader, error) {
	switch comp {
	case source.CompressionGzip:
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		return gz, nil
	case source.CompressionNone, source.CompressionSnappy, "":
		// Snappy only applies inside parquet files.
		return bytes.NewReader(data), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", comp)
	}
}
