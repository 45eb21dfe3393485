// Package storage holds the persistence backends of the board service.
package storage

import (
	"cmp"
	"fmt"
	"slices"

	"prism-board/domain"
)

// Default board provisioned for a user on first access.
const DefaultBoardTitle = "My Board"

// DefaultColumnTitles are created, in order, with every provisioned board.
var DefaultColumnTitles = []string{"To Do", "In Progress", "Done"}

func sortColumns(columns []domain.Column) {
	slices.SortStableFunc(columns, func(a, b domain.Column) int {
		return cmp.Compare(a.Order, b.Order)
	})
	for i := range columns {
		sortTasks(columns[i].Tasks)
	}
}

func sortTasks(tasks []domain.Task) {
	slices.SortStableFunc(tasks, func(a, b domain.Task) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrValidation}, args...)...)
}
