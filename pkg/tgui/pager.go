package tgui

import "fmt"

// Page is one page of a paginated list. Index is 0-based.
type Page[T any] struct {
	Items   []T
	Index   int
	Pages   int
	From    int // 1-based, inclusive
	To      int
	Total   int
	HasPrev bool
	HasNext bool
}

// Paginate returns page index of items, clamped to the valid range.
func Paginate[T any](items []T, index, size int) Page[T] {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	pages := (total + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	if index >= pages {
		index = pages - 1
	}
	if index < 0 {
		index = 0
	}
	start := index * size
	end := start + size
	if end > total {
		end = total
	}
	return Page[T]{
		Items:   items[start:end],
		Index:   index,
		Pages:   pages,
		From:    start + 1,
		To:      end,
		Total:   total,
		HasPrev: index > 0,
		HasNext: end < total,
	}
}

// Label is a compact "Page 2/3 · 11-20 of 25".
func (p Page[T]) Label() string {
	if p.Total == 0 {
		return "Page 1/1"
	}
	return fmt.Sprintf("Page %d/%d · %d-%d of %d", p.Index+1, p.Pages, p.From, p.To, p.Total)
}
