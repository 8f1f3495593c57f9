package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
)

const dateLayout = "2006-01-02 15:04:05"

// string timestamp shapes recognized when rendering export values
var dateParseLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ExecuteWithExport runs the report and writes the result set to the
// object store as CSV or JSON. Zero rows is a hard error and the
// execution is marked failed.
func (e *Engine) ExecuteWithExport(ctx context.Context, rep Report, params []any, format, execType string, userID *string) (*Execution, error) {
	if format != "csv" && format != "json" {
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	ex, err := e.begin(ctx, rep, execType, userID)
	if err != nil {
		return nil, err
	}
	cols, rows, err := e.query(ctx, rep, params)
	if err != nil {
		e.markFailed(ctx, ex, err, time.Since(ex.StartedAt).Milliseconds())
		return ex, err
	}
	if len(rows) == 0 {
		err := fmt.Errorf("no data to export")
		e.markFailed(ctx, ex, err, time.Since(ex.StartedAt).Milliseconds())
		return ex, err
	}

	var buf bytes.Buffer
	contentType := "text/csv"
	if format == "csv" {
		err = writeCSV(&buf, cols, rows)
	} else {
		contentType = "application/json"
		err = writeJSON(&buf, cols, rows)
	}
	if err != nil {
		e.markFailed(ctx, ex, err, time.Since(ex.StartedAt).Milliseconds())
		return ex, err
	}

	path := fmt.Sprintf("exports/report_%s_%s.%s", ex.ID, ex.StartedAt.Format("2006-01-02_15-04-05"), format)
	oc, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	if _, err := e.store.PutObject(oc, e.bucket, path, bytes.NewReader(buf.Bytes()), int64(buf.Len()),
		minio.PutObjectOptions{ContentType: contentType}); err != nil {
		err = fmt.Errorf("store export: %w", err)
		e.markFailed(ctx, ex, err, time.Since(ex.StartedAt).Milliseconds())
		return ex, err
	}
	e.complete(ctx, ex, rep.ID, len(rows), time.Since(ex.StartedAt).Milliseconds(), &path)
	return ex, nil
}

func writeCSV(buf *bytes.Buffer, cols []string, rows [][]any) error {
	w := csv.NewWriter(buf)
	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = humanize(c)
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range rows {
		rec := make([]string, len(cols))
		for i := range cols {
			var v any
			if i < len(row) {
				v = row[i]
			}
			rec[i] = renderValue(v)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeJSON(buf *bytes.Buffer, cols []string, rows [][]any) error {
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			var v any
			if i < len(row) {
				v = row[i]
			}
			if t, ok := v.(time.Time); ok {
				v = t.Format(dateLayout)
			}
			m[c] = v
		}
		out = append(out, m)
	}
	enc := json.NewEncoder(buf)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// humanize turns a column identifier into a display header:
// "created_at" -> "Created At".
func humanize(col string) string {
	words := strings.Fields(strings.ReplaceAll(col, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// renderValue stringifies a cell, normalizing anything date-like to
// "YYYY-MM-DD HH:MM:SS".
func renderValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.Format(dateLayout)
	case string:
		for _, layout := range dateParseLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.Format(dateLayout)
			}
		}
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
