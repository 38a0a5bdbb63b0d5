package domain

import (
	"strings"
	"time"
)

// Pagination describes where a page sits in the full result set.
type Pagination struct {
	CurrentPage int
	TotalPages  int
	TotalCount  int
	HasNext     bool
	HasPrevious bool
}

// NewPagination clamps page into [1, total pages]. An empty result set still
// has one (empty) page.
func NewPagination(page, size, total int) Pagination {
	pages := 1
	if total > 0 {
		pages = (total + size - 1) / size
	}
	if page < 1 {
		page = 1
	}
	if page > pages {
		page = pages
	}
	return Pagination{
		CurrentPage: page,
		TotalPages:  pages,
		TotalCount:  total,
		HasNext:     page < pages,
		HasPrevious: page > 1,
	}
}

// Offset is the number of rows preceding the current page.
func (p Pagination) Offset(size int) int {
	return (p.CurrentPage - 1) * size
}

// ParseTargetDate parses a YYYY-MM-DD date as midnight UTC. Month and day may
// be unpadded.
func ParseTargetDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	day, err := time.Parse("2006-1-2", value)
	if err != nil {
		return time.Time{}, false
	}
	return day.UTC(), true
}
