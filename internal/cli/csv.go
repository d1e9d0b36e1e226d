package cli

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var (
	ErrEmptyInput = errors.New("empty input")
	ErrNotVector  = errors.New("rhs must be a single row or a single column")
)

// ReadMatrix читает матрицу: одна строка CSV — одна строка матрицы.
// Длины строк не проверяются, несогласованность сообщит солвер.
func ReadMatrix(r io.Reader) ([][]float64, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, err
	}

	out := make([][]float64, len(records))
	for i, rec := range records {
		row, err := parseRow(rec, i+1)
		if err != nil {
			return nil, err
		}
		out[i] = row
	}
	return out, nil
}

// ReadVector читает вектор правой части: по значению в строке или одной строкой.
func ReadVector(r io.Reader) ([]float64, error) {
	records, err := readRecords(r)
	if err != nil {
		return nil, err
	}

	if len(records) == 1 {
		return parseRow(records[0], 1)
	}

	out := make([]float64, 0, len(records))
	for i, rec := range records {
		if len(rec) != 1 {
			return nil, fmt.Errorf("%w: line %d has %d values", ErrNotVector, i+1, len(rec))
		}
		row, err := parseRow(rec, i+1)
		if err != nil {
			return nil, err
		}
		out = append(out, row[0])
	}
	return out, nil
}

// ReadMatrixFile и ReadVectorFile читают файл по пути.
func ReadMatrixFile(path string) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ReadMatrix(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func ReadVectorFile(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	v, err := ReadVector(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

func readRecords(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrEmptyInput
	}
	return records, nil
}

func parseRow(rec []string, line int) ([]float64, error) {
	row := make([]float64, len(rec))
	for j, field := range rec {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d, column %d: %w", line, j+1, err)
		}
		row[j] = v
	}
	return row, nil
}
