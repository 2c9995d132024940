package processor

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Arghost/urban-crime-analytics/logger"
	"github.com/Arghost/urban-crime-analytics/models"
)

// ErrNoRecords is returned when there is nothing to encode. Callers treat it
// as a clean early exit.
var ErrNoRecords = errors.New("no records to write to CSV")

// CSVEncoder flattens loosely typed records into a single CSV document whose
// header is the sorted union of every field name in the batch.
type CSVEncoder struct {
	// UseCRLF terminates rows with \r\n, matching RFC 4180.
	UseCRLF bool
	log     *logger.Log
}

func NewCSVEncoder() *CSVEncoder {
	return &CSVEncoder{UseCRLF: true, log: logger.GetLogger()}
}

// Header returns the alphabetically sorted set of field names across records.
func Header(records []models.Record) []string {
	seen := make(map[string]struct{})
	var header []string
	for _, rec := range records {
		for _, k := range rec.Fields() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			header = append(header, k)
		}
	}
	sort.Strings(header)
	return header
}

// EncodeBatch encodes the records of batch in fetch order.
func (e *CSVEncoder) EncodeBatch(batch *models.CrimeBatch) ([]byte, error) {
	if batch == nil {
		return nil, ErrNoRecords
	}
	return e.Encode(batch.Records)
}

// Encode writes a header row followed by one row per record. Missing fields
// become empty cells and fields outside the header are dropped.
func (e *CSVEncoder) Encode(records []models.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	return e.encodeWithHeader(Header(records), records)
}

func (e *CSVEncoder) encodeWithHeader(header []string, records []models.Record) ([]byte, error) {
	e.log.WithComponent("csv_encoder").WithFields(logger.Fields{
		"columns": len(header),
		"records": len(records),
	}).Info("detected columns in JSON data")

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = e.UseCRLF

	if err := e.writeRow(w, &buf, header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	row := make([]string, len(header))
	for i, rec := range records {
		for j, col := range header {
			v, ok := rec[col]
			if !ok {
				row[j] = ""
				continue
			}
			row[j] = formatValue(v)
		}
		if err := e.writeRow(w, &buf, row); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", i, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// writeRow writes a single row. A lone empty field is written as "" because
// encoding/csv would emit a blank line, which readers skip.
func (e *CSVEncoder) writeRow(w *csv.Writer, buf *bytes.Buffer, row []string) error {
	if len(row) != 1 || row[0] != "" {
		return w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	buf.WriteString(`""`)
	if e.UseCRLF {
		buf.WriteString("\r\n")
	} else {
		buf.WriteByte('\n')
	}
	return nil
}

// formatValue renders a decoded JSON value as a cell. Scalars keep their JSON
// text form, null is empty and nested values are compact JSON.
func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case map[string]interface{}, []interface{}:
		var b bytes.Buffer
		enc := json.NewEncoder(&b)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(t); err != nil {
			return fmt.Sprint(t)
		}
		return strings.TrimSuffix(b.String(), "\n")
	default:
		return fmt.Sprint(t)
	}
}
