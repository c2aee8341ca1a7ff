package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/tabimport/internal/domain"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// Column pairs a normalized column name with the original header label.
type Column struct {
	Name  string
	Label string
}

// Table is one parsed file: normalized headers plus raw string rows.
type Table struct {
	FileName string
	Columns  []Column
	Rows     [][]string
}

// Row is one source row addressed by normalized column name. Index is
// global and continuous across all files of a job.
type Row struct {
	SourceFile string
	Index      int
	Values     map[string]string
}

// RowSet is the combined row set of all files in a job, concatenated
// row-wise in upload order.
type RowSet struct {
	Columns []Column
	Rows    []Row
}

// Parse reads one uploaded file into a table. The format is chosen by
// extension: csv is read directly, xls and xlsx go through excelize.
func Parse(fileName string, payload []byte) (Table, error) {
	if len(payload) == 0 {
		return Table{}, errors.New("file is empty")
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	var (
		records [][]string
		err     error
	)
	switch ext {
	case ".csv":
		records, err = readCSV(payload)
	case ".xls", ".xlsx":
		records, err = readExcel(payload)
	default:
		return Table{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedFileType, ext)
	}
	if err != nil {
		return Table{}, err
	}

	return buildTable(fileName, records)
}

// Combine concatenates tables row-wise into one row set with a
// continuous global index. Columns keep first-seen order; files
// sharing a normalized column name contribute to the same column.
func Combine(tables []Table) RowSet {
	set := RowSet{}
	seen := make(map[string]struct{})

	for _, table := range tables {
		for _, col := range table.Columns {
			if _, ok := seen[col.Name]; ok {
				continue
			}
			seen[col.Name] = struct{}{}
			set.Columns = append(set.Columns, col)
		}
	}

	index := 0
	for _, table := range tables {
		for _, raw := range table.Rows {
			values := make(map[string]string, len(table.Columns))
			for i, col := range table.Columns {
				if i < len(raw) {
					values[col.Name] = strings.TrimSpace(raw[i])
				} else {
					values[col.Name] = ""
				}
			}
			set.Rows = append(set.Rows, Row{
				SourceFile: table.FileName,
				Index:      index,
				Values:     values,
			})
			index++
		}
	}

	return set
}

// Chunks slices the row set into fixed-size windows for streamed
// staging. Rows keep their global indices, so chunk boundaries neither
// reset nor duplicate them.
func (rs RowSet) Chunks(size int) [][]Row {
	if size <= 0 {
		size = 500
	}
	var chunks [][]Row
	for start := 0; start < len(rs.Rows); start += size {
		end := start + size
		if end > len(rs.Rows) {
			end = len(rs.Rows)
		}
		chunks = append(chunks, rs.Rows[start:end])
	}
	return chunks
}

var headerPattern = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeHeader lower-cases a header and collapses every non
// alphanumeric run to a single underscore: "Customer Name" becomes
// "customer_name".
func NormalizeHeader(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = headerPattern.ReplaceAllString(name, "_")
	return strings.Trim(name, "_")
}

func readCSV(payload []byte) ([][]string, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	return records, nil
}

func readExcel(payload []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from workbook: %w", err)
	}
	return rows, nil
}

func buildTable(fileName string, records [][]string) (Table, error) {
	var headerRow []string
	var dataRows [][]string

	for _, row := range records {
		if isEmptyRow(row) {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}

	if headerRow == nil {
		return Table{}, errors.New("no header row detected")
	}

	columns := normalizeColumns(headerRow)
	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(columns))
	}

	return Table{
		FileName: fileName,
		Columns:  columns,
		Rows:     dataRows,
	}, nil
}

func normalizeColumns(headerRow []string) []Column {
	columns := make([]Column, len(headerRow))
	seen := make(map[string]int)

	for idx, raw := range headerRow {
		name := NormalizeHeader(raw)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		if count := seen[base]; count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base]++

		columns[idx] = Column{Name: name, Label: strings.TrimSpace(raw)}
	}

	return columns
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
