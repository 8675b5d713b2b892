package sheet

import (
	"context"
	"strings"
)

// Role names a logical spreadsheet column.
type Role string

const (
	RoleProductImage Role = "product_image"
	RoleModelImage   Role = "model_image"
	RolePrompt       Role = "prompt"
	RoleProcessed    Role = "processed"
	RoleComposite    Role = "composite"
	RoleProductName  Role = "product_name"
	RoleModelName    Role = "model_name"
	RoleVideoStatus  Role = "video_status"
)

// Roles lists every role in positional-default order.
var Roles = []Role{
	RoleProductImage,
	RoleModelImage,
	RolePrompt,
	RoleProcessed,
	RoleComposite,
	RoleProductName,
	RoleModelName,
	RoleVideoStatus,
}

// Row is one spreadsheet data row with its cells already classified.
type Row struct {
	// Index is the 1-based sheet row number.
	Index        int
	ProductName  string
	ModelName    string
	ProductImage Marker
	ModelImage   Marker
	Composite    Marker
	Prompt       string
	Processed    Marker
	Video        Marker
}

// Label identifies the row in logs and reports.
func (r Row) Label() string {
	parts := make([]string, 0, 2)
	if name := strings.TrimSpace(r.ProductName); name != "" {
		parts = append(parts, name)
	}
	if name := strings.TrimSpace(r.ModelName); name != "" {
		parts = append(parts, name)
	}
	if len(parts) == 0 {
		return "row"
	}
	return strings.Join(parts, "/")
}

// Source reads rows and the media they reference.
type Source interface {
	FetchRows(ctx context.Context) ([]Row, error)
	Download(ctx context.Context, ref string) ([]byte, error)
}

// Sink writes results back to a row. For RoleComposite the value is the
// local path of the image to embed; other roles take cell text.
type Sink interface {
	WriteResult(ctx context.Context, row int, role Role, value string) error
	UpdateStatus(ctx context.Context, row int, text string) error
}

// Sheet is both a Source and a Sink.
type Sheet interface {
	Source
	Sink
}
