package testsupport

import (
	"context"
	"fmt"
	"sync"

	"mediaflow/internal/sheet"
)

// Write records one call made to the fake sheet.
type Write struct {
	Row   int
	Role  sheet.Role
	Value string
}

// Sheet is an in-memory sheet.Sheet.
type Sheet struct {
	mu        sync.Mutex
	rows      []sheet.Row
	media     map[string][]byte
	writes    []Write
	statuses  map[int][]string
	fetchErr  error
	writeErr  error
	fetches   int
	downloads int
}

// NewSheet returns a fake holding the given rows.
func NewSheet(rows ...sheet.Row) *Sheet {
	return &Sheet{
		rows:     append([]sheet.Row(nil), rows...),
		media:    make(map[string][]byte),
		statuses: make(map[int][]string),
	}
}

// SetRows replaces the rows returned by FetchRows.
func (s *Sheet) SetRows(rows ...sheet.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append([]sheet.Row(nil), rows...)
}

// AddMedia makes ref downloadable.
func (s *Sheet) AddMedia(ref string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[ref] = data
}

// FailFetch makes FetchRows return err.
func (s *Sheet) FailFetch(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = err
}

// FailWrites makes WriteResult and UpdateStatus return err.
func (s *Sheet) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *Sheet) FetchRows(ctx context.Context) ([]sheet.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return append([]sheet.Row(nil), s.rows...), nil
}

func (s *Sheet) Download(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downloads++
	data, ok := s.media[ref]
	if !ok {
		return nil, fmt.Errorf("media %q not found", ref)
	}
	return append([]byte(nil), data...), nil
}

func (s *Sheet) WriteResult(ctx context.Context, row int, role sheet.Role, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.writes = append(s.writes, Write{Row: row, Role: role, Value: value})
	return nil
}

func (s *Sheet) UpdateStatus(ctx context.Context, row int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.statuses[row] = append(s.statuses[row], text)
	return nil
}

// Writes returns every WriteResult call.
func (s *Sheet) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Write(nil), s.writes...)
}

// WritesFor returns WriteResult calls for one row and role.
func (s *Sheet) WritesFor(row int, role sheet.Role) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, w := range s.writes {
		if w.Row == row && w.Role == role {
			out = append(out, w.Value)
		}
	}
	return out
}

// Statuses returns the status texts written for a row, oldest first.
func (s *Sheet) Statuses(row int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statuses[row]...)
}

// Downloads returns the number of Download calls.
func (s *Sheet) Downloads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloads
}

// ImageRow builds a row eligible for image composition.
func ImageRow(index int, product, model string) sheet.Row {
	return sheet.Row{
		Index:        index,
		ProductName:  product,
		ModelName:    model,
		ProductImage: sheet.Present(fmt.Sprintf("prod-%d", index)),
		ModelImage:   sheet.Present(fmt.Sprintf("model-%d", index)),
		Composite:    sheet.Absent(),
		Processed:    sheet.Absent(),
		Video:        sheet.Absent(),
	}
}
