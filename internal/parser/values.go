package parser

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"magpipeline/internal/model"
)

var dateLayouts = []string{
	"01/02/2006",
	"1/2/2006",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"1/2/06",
	"01-02-06",
	"01-02-2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2-Jan-2006",
	"02-Jan-06",
	"2006/01/02",
}

// ParseValue 按字段声明类型解析单元格文本
//
// 空白单元格返回类型零值且 ok=true；无法解析时保留原始文本，Valid=false，ok=false。
func ParseValue(t model.FieldType, raw string) (model.Value, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return model.ZeroValue(t), true
	}

	switch t {
	case model.FieldCurrency, model.FieldNumber, model.FieldComputed:
		if n, ok := ParseAmount(raw); ok {
			return model.Value{Type: t, Number: n, Valid: true}, true
		}
	case model.FieldDate:
		if d, ok := ParseDate(raw); ok {
			return model.Value{Type: t, Date: d, Valid: true}, true
		}
	case model.FieldCalendar:
		return model.ZeroValue(t), true
	default:
		return model.Value{Type: model.FieldText, Text: raw, Valid: true}, true
	}
	return model.Value{Type: t, Text: raw}, false
}

// ParseAmount 解析金额/数值："$1,200,000" / "(500)" / "12.5%"
func ParseAmount(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "", "USD", "", "%", "").Replace(s)
	if s == "" || s == "-" {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	if negative {
		n = -n
	}
	return n, true
}

// ParseDate 解析日期文本，兼容 Excel 序列号
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial > 10000 && serial < 2958466 {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}
