package grid

import "crmconsole/internal/schema"

// DefaultPageSize: размер страницы, если экран его не задал.
const DefaultPageSize = 10

// Page: срез одной страницы.
type Page struct {
	Number int             `json:"page"`
	Size   int             `json:"pageSize"`
	Total  int             `json:"total"`
	Pages  int             `json:"pages"`
	Rows   []schema.Record `json:"-"`
}

// Pages: ceil(total / size).
func Pages(total, size int) int {
	if size <= 0 {
		size = DefaultPageSize
	}
	return (total + size - 1) / size
}

// Paginate режет rows на страницу number (с 1). Номер зажимается в допустимый диапазон.
func Paginate(rows []schema.Record, number, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	pages := Pages(len(rows), size)
	if number > pages {
		number = pages
	}
	if number < 1 {
		number = 1
	}
	start := (number - 1) * size
	end := start + size
	if start > len(rows) {
		start = len(rows)
	}
	if end > len(rows) {
		end = len(rows)
	}
	page := make([]schema.Record, end-start)
	copy(page, rows[start:end])
	return Page{Number: number, Size: size, Total: len(rows), Pages: pages, Rows: page}
}
