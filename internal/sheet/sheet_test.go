package sheet_test

import (
	"testing"

	"mediaflow/internal/config"
	"mediaflow/internal/sheet"
)

func titles() config.Columns {
	return config.Default().Sheet.Columns
}

func TestResolveColumnsFromHeader(t *testing.T) {
	header := []string{"产品名", "产品图", "模特图", "提示词", "产品模特合成图", "备注", "模特名", "图片是否已处理", "视频是否已实现"}
	cols := sheet.ResolveColumns(header, titles())
	if !cols.HasHeader() {
		t.Fatal("expected header row to be detected")
	}
	want := map[sheet.Role]int{
		sheet.RoleProductName:  0,
		sheet.RoleProductImage: 1,
		sheet.RoleModelImage:   2,
		sheet.RolePrompt:       3,
		sheet.RoleComposite:    4,
		sheet.RoleModelName:    6,
		sheet.RoleProcessed:    7,
		sheet.RoleVideoStatus:  8,
	}
	for role, idx := range want {
		got, ok := cols.Index(role)
		if !ok || got != idx {
			t.Errorf("role %s: got %d (%v) want %d", role, got, ok, idx)
		}
	}
	if letter, _ := cols.Column(sheet.RoleProcessed); letter != "H" {
		t.Errorf("expected processed column H, got %s", letter)
	}
}

func TestResolveColumnsNormalizesHeaderText(t *testing.T) {
	custom := titles()
	custom.Prompt = "Prompt"
	header := []string{"ＰＲＯＭＰＴ ", " 产品图", "模特图"}
	cols := sheet.ResolveColumns(header, custom)
	if idx, ok := cols.Index(sheet.RolePrompt); !ok || idx != 0 {
		t.Fatalf("expected full-width upper-case prompt header at 0, got %d %v", idx, ok)
	}
	if idx, ok := cols.Index(sheet.RoleProductImage); !ok || idx != 1 {
		t.Fatalf("expected product image at 1, got %d %v", idx, ok)
	}
}

func TestResolveColumnsWithoutHeaderUsesPositions(t *testing.T) {
	cols := sheet.ResolveColumns([]string{"tok1", "tok2", "a red bag"}, titles())
	if cols.HasHeader() {
		t.Fatal("data row must not be treated as header")
	}
	for role, want := range map[sheet.Role]int{
		sheet.RoleProductImage: 0,
		sheet.RoleComposite:    4,
		sheet.RoleModelName:    7,
		sheet.RoleVideoStatus:  8,
	} {
		if got, _ := cols.Index(role); got != want {
			t.Errorf("role %s: got %d want %d", role, got, want)
		}
	}
}

func TestColumnLetter(t *testing.T) {
	cases := map[int]string{0: "A", 7: "H", 25: "Z", 26: "AA", 27: "AB", 701: "ZZ", 702: "AAA"}
	for idx, want := range cases {
		if got := sheet.ColumnLetter(idx); got != want {
			t.Errorf("ColumnLetter(%d) = %s, want %s", idx, got, want)
		}
	}
}

func TestColumnCacheRebuildsOnlyOnHeaderChange(t *testing.T) {
	cache := sheet.NewColumnCache(titles())
	header := []string{"产品图", "模特图", "提示词"}
	if _, rebuilt := cache.Resolve(header); !rebuilt {
		t.Fatal("first resolve must build the map")
	}
	if _, rebuilt := cache.Resolve([]string{"产品图", " 模特图", "提示词"}); rebuilt {
		t.Fatal("equivalent header must hit the cache")
	}
	cols, rebuilt := cache.Resolve([]string{"模特图", "产品图", "提示词"})
	if !rebuilt {
		t.Fatal("reordered header must rebuild")
	}
	if idx, _ := cols.Index(sheet.RoleProductImage); idx != 1 {
		t.Fatalf("expected product image at 1 after reorder, got %d", idx)
	}
	if got, _ := cache.Current().Index(sheet.RoleModelImage); got != 0 {
		t.Fatalf("Current should reflect latest map, got %d", got)
	}
}

func TestStatusClassification(t *testing.T) {
	vocab := sheet.DefaultVocabulary()
	tests := []struct {
		cell   string
		kind   sheet.MarkerKind
		reason string
	}{
		{cell: "", kind: sheet.MarkerAbsent},
		{cell: "  ", kind: sheet.MarkerAbsent},
		{cell: "否", kind: sheet.MarkerAbsent},
		{cell: "FALSE", kind: sheet.MarkerAbsent},
		{cell: "已处理", kind: sheet.MarkerPresent},
		{cell: "Processed", kind: sheet.MarkerPresent},
		{cell: "图片已完成", kind: sheet.MarkerPresent},
		{cell: "处理失败: timed out after 30m0s waiting for job 42", kind: sheet.MarkerErrored, reason: "timed out after 30m0s waiting for job 42"},
		{cell: "Error", kind: sheet.MarkerErrored, reason: "Error"},
		{cell: "待定", kind: sheet.MarkerAbsent},
		{cell: "已处理 (error log cleared)", kind: sheet.MarkerPresent},
		{cell: "completed after failed first attempt", kind: sheet.MarkerPresent},
		{cell: "failed: timeout", kind: sheet.MarkerErrored, reason: "timeout"},
		{cell: "图片生成错误", kind: sheet.MarkerErrored, reason: "图片生成错误"},
	}
	for _, tc := range tests {
		got := vocab.Processed.Status(tc.cell)
		if got.Kind() != tc.kind {
			t.Errorf("Status(%q) = %s, want %s", tc.cell, got, tc.kind)
			continue
		}
		if tc.reason != "" && got.Reason() != tc.reason {
			t.Errorf("Status(%q) reason = %q, want %q", tc.cell, got.Reason(), tc.reason)
		}
	}

	if m := vocab.Video.Status("是"); !m.IsPresent() {
		t.Errorf("expected video done marker, got %s", m)
	}
	if m := vocab.Video.Status("失败: 文件不是图片"); !m.IsErrored() {
		t.Errorf("leading failure word must outrank an embedded done value, got %s", m)
	}
	if m := vocab.Video.Status("已处理"); !m.IsAbsent() {
		t.Errorf("processed vocabulary must not leak into video column, got %s", m)
	}
}

func TestCustomVocabulary(t *testing.T) {
	markers := config.Default().Sheet.Markers
	markers.ProcessedValues = []string{"shipped"}
	vocab := sheet.NewVocabulary(markers)
	if !vocab.Processed.Status("SHIPPED").IsPresent() {
		t.Fatal("expected custom done value to classify as present")
	}
	if !vocab.Processed.Status("已处理").IsAbsent() {
		t.Fatal("default values must not apply when overridden")
	}
}

func TestParseRows(t *testing.T) {
	header := []sheet.Cell{
		sheet.TextCell("产品图"), sheet.TextCell("模特图"), sheet.TextCell("提示词"),
		sheet.TextCell("图片是否已处理"), sheet.TextCell("产品模特合成图"), sheet.TextCell("产品名"),
		sheet.TextCell("备注"), sheet.TextCell("模特名"), sheet.TextCell("视频是否已实现"),
	}
	grid := [][]sheet.Cell{
		header,
		{{FileToken: "prod-1"}, {FileToken: "model-1"}, sheet.TextCell(" turn around "), {}, {}, sheet.TextCell("Bag"), {}, sheet.TextCell("Anna")},
		{},
		{{FileToken: "prod-2"}, {}, {}, sheet.TextCell("处理失败: boom"), {FileToken: "comp-2"}, sheet.TextCell("Hat"), {}, sheet.TextCell("Bo"), sheet.TextCell("是")},
	}
	cols := sheet.ResolveColumns(sheet.HeaderText(grid), titles())
	rows := sheet.ParseRows(grid, 1, cols, sheet.DefaultVocabulary())
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	first := rows[0]
	if first.Index != 2 || first.ProductName != "Bag" || first.ModelName != "Anna" || first.Prompt != "turn around" {
		t.Fatalf("unexpected first row %+v", first)
	}
	if first.ProductImage.Ref() != "prod-1" || !first.ModelImage.IsPresent() || !first.Composite.IsAbsent() {
		t.Fatalf("unexpected image markers %+v", first)
	}
	if !first.Processed.IsAbsent() || !first.Video.IsAbsent() {
		t.Fatalf("expected absent status markers, got %s %s", first.Processed, first.Video)
	}
	if first.Label() != "Bag/Anna" {
		t.Fatalf("unexpected label %q", first.Label())
	}

	second := rows[1]
	if second.Index != 4 {
		t.Fatalf("expected sheet row 4, got %d", second.Index)
	}
	if !second.Processed.IsErrored() || second.Processed.Reason() != "boom" {
		t.Fatalf("expected errored processed marker, got %s", second.Processed)
	}
	if !second.ModelImage.IsAbsent() || second.Composite.Ref() != "comp-2" || !second.Video.IsPresent() {
		t.Fatalf("unexpected second row %+v", second)
	}
}
