package sheet

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"mediaflow/internal/config"
)

// positionalDefaults is the layout assumed when the sheet has no header row.
var positionalDefaults = map[Role]int{
	RoleProductImage: 0,
	RoleModelImage:   1,
	RolePrompt:       2,
	RoleProcessed:    3,
	RoleComposite:    4,
	RoleProductName:  5,
	RoleModelName:    7,
	RoleVideoStatus:  8,
}

// headerKeywords identify a header row even when no configured title matches.
var headerKeywords = []string{"产品图", "模特图", "提示词", "product", "model", "prompt"}

var folder = cases.Fold()

// NormalizeHeader folds width, case, and whitespace so header text written
// in different forms compares equal.
func NormalizeHeader(s string) string {
	s = folder.String(norm.NFKC.String(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// ColumnMap resolves roles to zero-based column indexes.
type ColumnMap struct {
	index     map[Role]int
	hasHeader bool
}

// DefaultColumnMap returns the positional layout.
func DefaultColumnMap() ColumnMap {
	m := ColumnMap{index: make(map[Role]int, len(positionalDefaults))}
	for role, idx := range positionalDefaults {
		m.index[role] = idx
	}
	return m
}

// ResolveColumns builds a ColumnMap from a header row using the configured
// titles. Exact matches win over substring matches, each column serves one
// role, and roles missing from the header keep their positional default when
// that column is free. A row that does not look like a header yields the
// positional layout.
func ResolveColumns(header []string, titles config.Columns) ColumnMap {
	if !IsHeaderRow(header, titles) {
		return DefaultColumnMap()
	}

	want := map[Role]string{
		RoleProductImage: titles.ProductImage,
		RoleModelImage:   titles.ModelImage,
		RolePrompt:       titles.Prompt,
		RoleProcessed:    titles.Processed,
		RoleComposite:    titles.Composite,
		RoleProductName:  titles.ProductName,
		RoleModelName:    titles.ModelName,
		RoleVideoStatus:  titles.VideoStatus,
	}
	cells := make([]string, len(header))
	for i, h := range header {
		cells[i] = NormalizeHeader(h)
	}

	m := ColumnMap{index: make(map[Role]int, len(Roles)), hasHeader: true}
	used := make(map[int]bool, len(header))
	assign := func(exact bool) {
		for _, role := range Roles {
			if _, done := m.index[role]; done {
				continue
			}
			title := NormalizeHeader(want[role])
			if title == "" {
				continue
			}
			for i, cell := range cells {
				if used[i] || cell == "" {
					continue
				}
				if (exact && cell == title) || (!exact && strings.Contains(cell, title)) {
					m.index[role] = i
					used[i] = true
					break
				}
			}
		}
	}
	assign(true)
	assign(false)

	for _, role := range Roles {
		if _, ok := m.index[role]; ok {
			continue
		}
		if idx := positionalDefaults[role]; !used[idx] {
			m.index[role] = idx
			used[idx] = true
		}
	}
	return m
}

// IsHeaderRow reports whether the row carries column titles.
func IsHeaderRow(row []string, titles config.Columns) bool {
	keywords := append([]string{
		titles.ProductImage, titles.ModelImage, titles.Prompt, titles.Processed,
		titles.Composite, titles.ProductName, titles.ModelName, titles.VideoStatus,
	}, headerKeywords...)
	for _, cell := range row {
		normalized := NormalizeHeader(cell)
		if normalized == "" {
			continue
		}
		for _, kw := range keywords {
			if kw = NormalizeHeader(kw); kw != "" && strings.Contains(normalized, kw) {
				return true
			}
		}
	}
	return false
}

// Index returns the zero-based column for a role.
func (m ColumnMap) Index(role Role) (int, bool) {
	idx, ok := m.index[role]
	return idx, ok
}

// Column returns the A1-style column letter for a role.
func (m ColumnMap) Column(role Role) (string, bool) {
	idx, ok := m.index[role]
	if !ok {
		return "", false
	}
	return ColumnLetter(idx), true
}

// HasHeader reports whether the map was resolved from a header row.
func (m ColumnMap) HasHeader() bool { return m.hasHeader }

// ColumnLetter converts a zero-based index to A, B, ..., Z, AA, ...
func ColumnLetter(idx int) string {
	if idx < 0 {
		return ""
	}
	var out []byte
	for idx >= 0 {
		out = append([]byte{byte('A' + idx%26)}, out...)
		idx = idx/26 - 1
	}
	return string(out)
}

// ColumnCache keeps the resolved map until the header row changes.
type ColumnCache struct {
	mu        sync.Mutex
	titles    config.Columns
	signature string
	current   ColumnMap
	resolved  bool
}

// NewColumnCache returns a cache resolving with the given titles.
func NewColumnCache(titles config.Columns) *ColumnCache {
	return &ColumnCache{titles: titles}
}

// Resolve returns the cached map when the header is unchanged and rebuilds
// it otherwise. The second result reports whether a rebuild happened.
func (c *ColumnCache) Resolve(header []string) (ColumnMap, bool) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = NormalizeHeader(h)
	}
	signature := strings.Join(normalized, "\x1f")

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved && signature == c.signature {
		return c.current, false
	}
	c.current = ResolveColumns(header, c.titles)
	c.signature = signature
	c.resolved = true
	return c.current, true
}

// Current returns the last resolved map, or the positional layout.
func (c *ColumnCache) Current() ColumnMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.resolved {
		return DefaultColumnMap()
	}
	return c.current
}
