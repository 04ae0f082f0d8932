package question

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

var excelHeaders = []string{"text", "type", "subject", "difficulty", "points", "options", "correct", "tags", "explanation"}

const listSeparator = "|"

type ImportRowError struct {
	Row   int    `json:"row"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error"`
}

type ImportReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	CreatedIDs  []int64          `json:"created_ids"`
	Errors      []ImportRowError `json:"errors"`
}

func (s *Service) ExportQuestionsExcel(ctx context.Context, f Filter) ([]byte, error) {
	items, err := s.ListQuestions(ctx, f)
	if err != nil {
		return nil, err
	}
	return WriteQuestionsExcel(items)
}

// WriteQuestionsExcel renders questions using the same columns the importer reads.
func WriteQuestionsExcel(items []Question) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	for i, h := range excelHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, q := range items {
		row := i + 2
		values := []any{
			q.Text,
			string(q.Type),
			q.Subject,
			string(q.Difficulty),
			q.Points,
			strings.Join(q.Options, listSeparator),
			strings.Join(q.CorrectAnswers, listSeparator),
			strings.Join(q.Tags, listSeparator),
			q.Explanation,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 48)
	_ = f.SetColWidth(sheet, "B", "I", 20)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportQuestionsExcel creates one question per data row. Invalid rows are
// reported and skipped; the rest are still created.
func (s *Service) ImportQuestionsExcel(ctx context.Context, actorID int64, r io.Reader) (*ImportReport, error) {
	inputs, report, err := ReadQuestionsExcel(r)
	if err != nil {
		return nil, err
	}
	for _, row := range inputs {
		row.Input.CreatedBy = actorID
		created, err := s.CreateQuestion(ctx, row.Input)
		if err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: row.Row, Text: row.Input.Text, Error: err.Error()})
			continue
		}
		report.SuccessRows++
		report.CreatedIDs = append(report.CreatedIDs, created.ID)
	}
	return report, nil
}

type ImportRow struct {
	Row   int
	Input Input
}

// ReadQuestionsExcel parses the first sheet. Rows that fail validation are
// recorded in the report and left out of the returned inputs.
func ReadQuestionsExcel(r io.Reader) ([]ImportRow, *ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open excel: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.New("excel sheet is empty")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil, errors.New("no data rows found")
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"text", "type", "points", "correct"} {
		if _, ok := header[col]; !ok {
			return nil, nil, fmt.Errorf("missing required column: %s", col)
		}
	}

	report := &ImportReport{CreatedIDs: make([]int64, 0), Errors: make([]ImportRowError, 0)}
	out := make([]ImportRow, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		rowNo := i + 1
		row := rows[i]
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if isBlankRow(row) {
			continue
		}
		report.TotalRows++

		text := get("text")
		points, err := strconv.Atoi(get("points"))
		if err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Text: text, Error: "points must be an integer"})
			continue
		}
		in := Input{
			Text:           text,
			Type:           get("type"),
			Subject:        get("subject"),
			Difficulty:     get("difficulty"),
			Points:         points,
			Options:        splitList(get("options")),
			CorrectAnswers: splitList(get("correct")),
			Tags:           splitList(get("tags")),
			Explanation:    get("explanation"),
		}
		if _, err := New(in); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Text: text, Error: err.Error()})
			continue
		}
		out = append(out, ImportRow{Row: rowNo, Input: in})
	}
	return out, report, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return cleanStrings(strings.Split(raw, listSeparator))
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
