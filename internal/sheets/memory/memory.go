// Package memory is an in-process sheet mirror. It keeps rows in sheet order
// with the same upsert and delete semantics as the Google adapter.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"bollette/internal/core"
	"bollette/internal/sheets"
)

var _ sheets.Mirror = (*Store)(nil)

type Store struct {
	mu   sync.Mutex
	rows [][]any
	fail error
}

func New() *Store {
	return &Store{}
}

// FailWith makes every later call return err until it is called with nil.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// UpsertBalance replaces the row of b.ID or appends one, and returns a
// synthetic row reference.
func (s *Store) UpsertBalance(_ context.Context, b core.Bill, bal core.Balance) (string, error) {
	if b.ID == "" {
		return "", core.ErrMissingID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	row := sheets.FormatRow(b, bal)
	if i := s.indexOf(b.ID); i >= 0 {
		s.rows[i] = row
		return fmt.Sprintf("mem:%d", i+1), nil
	}
	s.rows = append(s.rows, row)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// DeleteBalance drops the row of id; unknown IDs are ignored.
func (s *Store) DeleteBalance(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if i := s.indexOf(id); i >= 0 {
		s.rows = append(s.rows[:i], s.rows[i+1:]...)
	}
	return nil
}

// Row returns a copy of the row holding id.
func (s *Store) Row(id string) ([]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return nil, errors.New("row not found: " + id)
	}
	return append([]any(nil), s.rows[i]...), nil
}

// Len returns the number of bill rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *Store) indexOf(id string) int {
	for i, r := range s.rows {
		if len(r) > 0 && r[0] == id {
			return i
		}
	}
	return -1
}
