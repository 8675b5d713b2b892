package sheet

import "strings"

// Cell is a raw spreadsheet cell: plain text or an embedded file.
type Cell struct {
	Text      string
	FileToken string
}

// TextCell builds a plain text cell.
func TextCell(text string) Cell { return Cell{Text: text} }

// Empty reports whether the cell carries nothing.
func (c Cell) Empty() bool {
	return strings.TrimSpace(c.Text) == "" && strings.TrimSpace(c.FileToken) == ""
}

// ParseRows converts a value grid into rows. firstRow is the sheet row
// number of grid[0]. When grid[0] is a header row it is skipped. Rows with no
// content are dropped.
func ParseRows(grid [][]Cell, firstRow int, cols ColumnMap, vocab Vocabulary) []Row {
	start := 0
	if cols.HasHeader() && len(grid) > 0 {
		start = 1
	}
	rows := make([]Row, 0, len(grid))
	for i := start; i < len(grid); i++ {
		cells := grid[i]
		if !hasContent(cells) {
			continue
		}
		get := func(role Role) Cell {
			idx, ok := cols.Index(role)
			if !ok || idx >= len(cells) {
				return Cell{}
			}
			return cells[idx]
		}
		text := func(role Role) string {
			return strings.TrimSpace(get(role).Text)
		}
		rows = append(rows, Row{
			Index:        firstRow + i,
			ProductName:  text(RoleProductName),
			ModelName:    text(RoleModelName),
			ProductImage: Image(get(RoleProductImage)),
			ModelImage:   Image(get(RoleModelImage)),
			Composite:    Image(get(RoleComposite)),
			Prompt:       text(RolePrompt),
			Processed:    vocab.Processed.Status(text(RoleProcessed)),
			Video:        vocab.Video.Status(text(RoleVideoStatus)),
		})
	}
	return rows
}

// HeaderText extracts the text of the first grid row.
func HeaderText(grid [][]Cell) []string {
	if len(grid) == 0 {
		return nil
	}
	out := make([]string, len(grid[0]))
	for i, c := range grid[0] {
		out[i] = c.Text
	}
	return out
}

func hasContent(cells []Cell) bool {
	for _, c := range cells {
		if !c.Empty() {
			return true
		}
	}
	return false
}
