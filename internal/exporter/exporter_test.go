package exporter_test

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"magpipeline/internal/exporter"
	"magpipeline/internal/model"
	tmplstore "magpipeline/internal/service/template"
)

func defaultTemplate(t *testing.T) *model.Template {
	t.Helper()
	data, err := exporter.DefaultTemplateBytes(exporter.TemplateOptions{Year: 2025})
	if err != nil {
		t.Fatalf("default template: %v", err)
	}
	opts := tmplstore.DefaultLayoutOptions()
	opts.BaseYear = 2025
	tmpl, err := tmplstore.ParseTemplate(data, opts, nil)
	if err != nil {
		t.Fatalf("parse template: %v", err)
	}
	return tmpl
}

func day(y int, m time.Month, d int) model.Value {
	return model.Value{Type: model.FieldDate, Date: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Valid: true}
}

func text(s string) model.Value {
	return model.Value{Type: model.FieldText, Text: s, Valid: s != ""}
}

func money(n float64) model.Value {
	return model.Value{Type: model.FieldCurrency, Number: n, Valid: true}
}

func record(name, manager string, rfp, award model.Value) model.ResolvedRecord {
	return model.ResolvedRecord{Values: map[string]model.Value{
		"Opportunity Name":     text(name),
		"Capture Manager":      text(manager),
		"Ceiling Value ($)":    money(1000000),
		"MAG Value ($)":        {Type: model.FieldComputed, Number: 1000000, Valid: true},
		"Anticipated RFP Date": rfp,
		"RFP Award":            award,
	}}
}

func openOutput(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestDefaultTemplate_Layout(t *testing.T) {
	tmpl := defaultTemplate(t)

	require.Equal(t, "Pipeline", tmpl.Layout.Sheet)
	require.Equal(t, 4, tmpl.Layout.HeaderRow)
	require.Equal(t, 5, tmpl.Layout.DataRow)
	require.Len(t, tmpl.Columns, len(exporter.DefaultColumns)+8)
	require.Equal(t, 2, tmpl.Columns[0].Index)
	require.Equal(t, "Capture Manager", tmpl.Columns[0].Header)

	mag, ok := tmpl.Schema.ByRole(model.RoleMAGValue)
	require.True(t, ok)
	require.Equal(t, model.FieldComputed, mag.Type)
	require.Len(t, tmpl.Schema.Calendar(), 8)
}

func TestRender_SortsByRFPDateMissingLast(t *testing.T) {
	tmpl := defaultTemplate(t)
	records := []model.ResolvedRecord{
		record("No Date A", "Kim", model.Value{}, model.Value{}),
		record("Late", "Lee", day(2025, 9, 1), day(2026, 1, 15)),
		record("Early", "", day(2025, 2, 1), day(2025, 5, 1)),
		record("No Date B", "", model.Value{}, model.Value{}),
		record("Late Twin", "Ray", day(2025, 9, 1), model.Value{}),
	}

	out, err := exporter.NewRenderer(exporter.RenderOptions{}).Render(records, nil, tmpl)
	require.NoError(t, err)

	f := openOutput(t, out)
	var names []string
	for row := 5; row <= 9; row++ {
		v, err := f.GetCellValue("Pipeline", "C"+strconv.Itoa(row))
		require.NoError(t, err)
		names = append(names, v)
	}
	require.Equal(t, []string{"Early", "Late", "Late Twin", "No Date A", "No Date B"}, names)
}

func TestSortRecords_GroupByManager(t *testing.T) {
	tmpl := defaultTemplate(t)
	records := []model.ResolvedRecord{
		record("Unassigned Early", "", day(2025, 1, 1), model.Value{}),
		record("Assigned Late", "Kim", day(2025, 6, 1), model.Value{}),
		record("Assigned Early", "Lee", day(2025, 3, 1), model.Value{}),
	}

	got := exporter.SortRecords(records, tmpl.Schema, true)
	var names []string
	for _, r := range got {
		names = append(names, r.Get("Opportunity Name").Text)
	}
	require.Equal(t, []string{"Assigned Early", "Assigned Late", "Unassigned Early"}, names)
	require.Equal(t, "Unassigned Early", records[0].Get("Opportunity Name").Text, "input must not be reordered")
}

func TestRender_Deterministic(t *testing.T) {
	tmpl := defaultTemplate(t)
	records := []model.ResolvedRecord{
		record("Alpha", "Kim", day(2025, 4, 1), day(2025, 10, 1)),
		record("Beta", "", day(2025, 2, 1), model.Value{}),
	}
	total := &model.ResolvedRecord{Values: map[string]model.Value{"Capture Manager": text("Total")}}

	r := exporter.NewRenderer(exporter.RenderOptions{})
	first, err := r.Render(records, total, tmpl)
	require.NoError(t, err)
	second, err := r.Render(records, total, tmpl)
	require.NoError(t, err)
	if !bytes.Equal(first, second) {
		t.Fatalf("render output differs between runs (%d vs %d bytes)", len(first), len(second))
	}
}

func TestRender_TotalRowLastAndFormats(t *testing.T) {
	tmpl := defaultTemplate(t)
	records := []model.ResolvedRecord{
		record("Alpha", "Kim", day(2025, 4, 10), day(2025, 8, 20)),
	}
	total := &model.ResolvedRecord{Values: map[string]model.Value{
		"Capture Manager":   text("Total"),
		"Ceiling Value ($)": money(1000000),
	}}

	out, err := exporter.NewRenderer(exporter.RenderOptions{}).Render(records, total, tmpl)
	require.NoError(t, err)
	f := openOutput(t, out)

	v, err := f.GetCellValue("Pipeline", "B6")
	require.NoError(t, err)
	require.Equal(t, "Total", v)

	h, err := f.GetRowHeight("Pipeline", 5)
	require.NoError(t, err)
	require.Equal(t, 30.0, h)

	require.Equal(t, "$#,##0", customNumFmt(t, f, "H5"))
	require.Equal(t, "mm/dd/yyyy", customNumFmt(t, f, "J5"))

	style := cellStyle(t, f, "C5")
	require.NotNil(t, style.Alignment)
	require.True(t, style.Alignment.WrapText)
	require.Equal(t, "top", style.Alignment.Vertical)

	serial, err := f.GetCellValue("Pipeline", "J5", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	require.Equal(t, "45757", serial)

	// Q2 2025 (N) 与 Q3 2025 (O) 在 4/10 - 8/20 区间内，Q1 (M) 与 Q4 (P) 不在
	require.True(t, filled(t, f, "N5"))
	require.True(t, filled(t, f, "O5"))
	require.False(t, filled(t, f, "M5"))
	require.False(t, filled(t, f, "P5"))
	require.False(t, filled(t, f, "N6"), "total row has no gantt bar")
}

func TestExcelSerial(t *testing.T) {
	cases := []struct {
		in   time.Time
		want float64
	}{
		{time.Date(1900, 3, 1, 0, 0, 0, 0, time.UTC), 61},
		{time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), 45658},
		{time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC), 45757},
		{time.Date(2025, 4, 10, 12, 0, 0, 0, time.UTC), 45757.5},
		{time.Date(2025, 4, 10, 0, 0, 0, 0, time.FixedZone("EST", -5*3600)), 45757},
	}
	for _, tc := range cases {
		if got := exporter.ExcelSerial(tc.in); got != tc.want {
			t.Fatalf("ExcelSerial(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRender_ZeroRowsKeepsHeaderOnly(t *testing.T) {
	tmpl := defaultTemplate(t)

	out, err := exporter.NewRenderer(exporter.RenderOptions{}).Render(nil, nil, tmpl)
	require.NoError(t, err)
	f := openOutput(t, out)

	rows, err := f.GetRows("Pipeline")
	require.NoError(t, err)
	require.Len(t, rows, tmpl.Layout.HeaderRow)
	require.Equal(t, "Capture Manager", rows[3][1])
}

func TestRender_ClearsTemplateDataRows(t *testing.T) {
	tmpl := defaultTemplate(t)
	f := openOutput(t, tmpl.Data)
	require.NoError(t, f.SetCellStr("Pipeline", "C5", "stale"))
	require.NoError(t, f.SetCellStr("Pipeline", "C9", "stale"))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	dirty := *tmpl
	dirty.Data = buf.Bytes()

	out, err := exporter.NewRenderer(exporter.RenderOptions{}).Render([]model.ResolvedRecord{
		record("Fresh", "Kim", day(2025, 1, 5), model.Value{}),
	}, nil, &dirty)
	require.NoError(t, err)

	rows, err := openOutput(t, out).GetRows("Pipeline")
	require.NoError(t, err)
	require.Len(t, rows, 5)
	require.Equal(t, "Fresh", rows[4][2])
}

func TestOutputFileName(t *testing.T) {
	got := exporter.OutputFileName("", time.Date(2025, 8, 12, 15, 30, 0, 0, time.UTC))
	if got != "Pipeline_GanttChart_20250812_153000.xlsx" {
		t.Fatalf("unexpected name %q", got)
	}
}

func cellStyle(t *testing.T, f *excelize.File, cell string) *excelize.Style {
	t.Helper()
	id, err := f.GetCellStyle("Pipeline", cell)
	require.NoError(t, err)
	style, err := f.GetStyle(id)
	require.NoError(t, err)
	return style
}

func customNumFmt(t *testing.T, f *excelize.File, cell string) string {
	t.Helper()
	style := cellStyle(t, f, cell)
	if style.CustomNumFmt == nil {
		return ""
	}
	return *style.CustomNumFmt
}

func filled(t *testing.T, f *excelize.File, cell string) bool {
	t.Helper()
	style := cellStyle(t, f, cell)
	for _, c := range style.Fill.Color {
		if strings.HasSuffix(strings.ToUpper(c), "4472C4") {
			return true
		}
	}
	return false
}
