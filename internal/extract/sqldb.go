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
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/altairalabs/costflow/internal/source"
)

// identRe limits {{table}} substitution to plain (optionally qualified)
// identifiers, keeping the template from smuggling arbitrary SQL.
var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$.]*$`)

// placeholderRe matches the window placeholders in template order.
var placeholderRe = regexp.MustCompile(`\{\{(start|end)\}\}`)

// SQLExtractor runs a templated query against a warehouse or database via
// database/sql. The snowflake and pgx drivers are registered by the binary.
type SQLExtractor struct {
	providerID string
	runID      string
	sink       BlobSink
	// openDB is swappable for tests; defaults to sql.Open.
	openDB func(driver, dsn string) (*sql.DB, error)
	log    logr.Logger
}

// NewSQLExtractor builds a SQL extractor for one provider run.
func NewSQLExtractor(providerID, runID string, sink BlobSink, log logr.Logger) *SQLExtractor {
	return &SQLExtractor{
		providerID: providerID,
		runID:      runID,
		sink:       sink,
		openDB:     sql.Open,
		log:        log.WithName("sql-extractor"),
	}
}

// Extract renders the query template, binds the window bounds as query
// parameters, and streams rows into capped raw blobs.
func (s *SQLExtractor) Extract(ctx context.Context, spec source.Spec, win source.Window) ([]RawBatch, error) {
	sq := spec.SQL
	if sq == nil {
		return nil, srcErr(spec.Name, ErrorKindConfig, "sql config missing", nil)
	}

	query, args, err := renderQuery(sq, win)
	if err != nil {
		return nil, srcErr(spec.Name, ErrorKindConfig, "rendering query", err)
	}

	db, err := s.openDB(sq.Driver, sq.DSN)
	if err != nil {
		return nil, srcErr(spec.Name, ErrorKindConfig, "opening database", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, srcErr(spec.Name, ErrorKindNetwork, "executing query", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, srcErr(spec.Name, ErrorKindDecode, "reading result columns", err)
	}

	acc := newAccumulator(s.sink, s.providerID, s.runID, spec, win, sq.ChunkSize)
	scan := make([]any, len(columns))
	holders := make([]any, len(columns))
	for i := range scan {
		scan[i] = &holders[i]
	}

	fetched := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, srcErr(spec.Name, ErrorKindDecode, "scanning row", err)
		}
		rec := make(RawRecord, len(columns))
		for i, col := range columns {
			rec[col] = sqlValue(holders[i])
		}
		if err := acc.add(ctx, rec); err != nil {
			return nil, err
		}
		fetched++
	}
	if err := rows.Err(); err != nil {
		return nil, srcErr(spec.Name, ErrorKindNetwork, "iterating rows", err)
	}

	s.log.V(1).Info("query complete", "source", spec.Name, "rows", fetched)
	return acc.finish(ctx)
}

// renderQuery substitutes {{table}} textually and converts {{start}}/{{end}}
// into bound parameters in template order. Postgres-family drivers get
// numbered placeholders, everything else gets question marks.
func renderQuery(sq *source.SQLSpec, win source.Window) (string, []any, error) {
	query := sq.Query

	if strings.Contains(query, "{{table}}") {
		if sq.Table == "" {
			return "", nil, fmt.Errorf("query references {{table}} but no table is configured")
		}
		if !identRe.MatchString(sq.Table) {
			return "", nil, fmt.Errorf("table %q is not a plain identifier", sq.Table)
		}
		query = strings.ReplaceAll(query, "{{table}}", sq.Table)
	}

	numbered := sq.Driver == "pgx" || sq.Driver == "postgres"

	var args []any
	n := 0
	query = placeholderRe.ReplaceAllStringFunc(query, func(m string) string {
		n++
		switch m {
		case "{{start}}":
			args = append(args, win.Start.UTC())
		case "{{end}}":
			args = append(args, win.End.UTC())
		}
		if numbered {
			return fmt.Sprintf("$%d", n)
		}
		return "?"
	})

	return query, args, nil
}

// sqlValue normalizes driver scan results for JSON encoding.
func sqlValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

var _ Extractor = (*SQLExtractor)(nil)
