package tgui

import "fmt"

// PaginateSlice returns a sub-slice for the requested page and helper flags.
// page is 0-based and clamped to the last page, so a page that emptied after
// a delete falls back to the previous one. size <= 0 means 10.
func PaginateSlice[T any](items []T, page, size int) (sub []T, page2 int, size2 int, from int, to int, hasPrev bool, hasNext bool) {
	if size <= 0 {
		size = 10
	}
	total := len(items)
	last := 0
	if total > 0 {
		last = (total - 1) / size
	}
	page = max(0, min(page, last))
	start := page * size
	end := min(start+size, total)
	sub = items[start:end]
	hasPrev = page > 0
	hasNext = end < total
	return sub, page, size, start, end, hasPrev, hasNext
}

// PageLabel returns a compact pagination label. page is 0-based.
func PageLabel(page, size, total int) string {
	if size <= 0 {
		size = 10
	}
	if total <= 0 {
		return "Page 1/1"
	}
	pages := (total + size - 1) / size
	page = max(0, min(page, pages-1))
	from := page*size + 1
	to := min((page+1)*size, total)
	return fmt.Sprintf("Page %d/%d • %d–%d of %d", page+1, pages, from, to, total)
}
