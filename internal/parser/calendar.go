package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"magpipeline/internal/model"
)

// PeriodKind 日历列粒度
type PeriodKind int

const (
	PeriodMonth PeriodKind = iota + 1
	PeriodQuarter
	PeriodYear
)

// PeriodSpec 从日历列表头识别出的时间段（Year 为 0 表示表头未写年份）
type PeriodSpec struct {
	Kind  PeriodKind
	Index int // 月份 1-12 或季度 1-4；年度列为 0
	Year  int
}

const monthAlt = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

var (
	yearOnlyRe     = regexp.MustCompile(`^(?:fy|cy)?\s*'?((?:19|20)\d{2}|\d{2})$`)
	quarterRe      = regexp.MustCompile(`^(?:q|quarter\s*)([1-4])(?:\s*[-/ ]?\s*(?:fy|cy)?\s*'?(\d{4}|\d{2}))?$`)
	yearQuarterRe  = regexp.MustCompile(`^(?:fy|cy)?\s*'?(\d{4}|\d{2})\s*[-/ ]?\s*q([1-4])$`)
	monthRe        = regexp.MustCompile(`^(` + monthAlt + `)\.?(?:\s*[-/ ]?\s*'?(\d{4}|\d{2}))?$`)
	yearMonthRe    = regexp.MustCompile(`^(\d{4})\s*[-/ ]\s*(` + monthAlt + `)\.?$`)
	bareTwoDigitRe = regexp.MustCompile(`^\d{2}$`)
)

// ParsePeriodHeader 识别日历列表头："Jan" / "Jan 2026" / "Q3" / "Q1-26" / "2026 Q2" / "2026" / "FY27"
func ParsePeriodHeader(header string) (PeriodSpec, bool) {
	h := strings.ToLower(CleanHeader(header))
	if h == "" {
		return PeriodSpec{}, false
	}

	if m := quarterRe.FindStringSubmatch(h); m != nil {
		q, _ := strconv.Atoi(m[1])
		return PeriodSpec{Kind: PeriodQuarter, Index: q, Year: parseYear(m[2])}, true
	}
	if m := yearQuarterRe.FindStringSubmatch(h); m != nil {
		q, _ := strconv.Atoi(m[2])
		return PeriodSpec{Kind: PeriodQuarter, Index: q, Year: parseYear(m[1])}, true
	}
	if m := monthRe.FindStringSubmatch(h); m != nil {
		return PeriodSpec{Kind: PeriodMonth, Index: monthIndex(m[1]), Year: parseYear(m[2])}, true
	}
	if m := yearMonthRe.FindStringSubmatch(h); m != nil {
		return PeriodSpec{Kind: PeriodMonth, Index: monthIndex(m[2]), Year: parseYear(m[1])}, true
	}
	if m := yearOnlyRe.FindStringSubmatch(h); m != nil {
		// 纯两位数字不视为年份，除非带 FY/CY 前缀
		if bareTwoDigitRe.MatchString(h) {
			return PeriodSpec{}, false
		}
		return PeriodSpec{Kind: PeriodYear, Year: parseYear(m[1])}, true
	}
	return PeriodSpec{}, false
}

func parseYear(s string) int {
	if s == "" {
		return 0
	}
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	if y < 100 {
		y += 2000
	}
	return y
}

func monthIndex(s string) int {
	months := []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"}
	for i, m := range months {
		if strings.HasPrefix(s, m) {
			return i + 1
		}
	}
	return 0
}

// ResolvePeriods 为日历列补全年份并换算时间段
//
// 未写年份的列从 baseYear 开始；同粒度序号回退（如 Q4 之后出现 Q1）时年份加一。
// 写了年份的列会重置后续列的推算起点。
func ResolvePeriods(specs []PeriodSpec, baseYear int) []model.Period {
	out := make([]model.Period, len(specs))
	year := baseYear
	lastIndex := map[PeriodKind]int{}
	for i, s := range specs {
		y := s.Year
		if y == 0 {
			if s.Kind != PeriodYear && lastIndex[s.Kind] >= s.Index && lastIndex[s.Kind] > 0 {
				year++
				lastIndex = map[PeriodKind]int{}
			}
			y = year
		} else {
			year = y
			lastIndex = map[PeriodKind]int{}
		}
		lastIndex[s.Kind] = s.Index
		out[i] = periodOf(s.Kind, s.Index, y)
	}
	return out
}

func periodOf(kind PeriodKind, index, year int) model.Period {
	switch kind {
	case PeriodMonth:
		start := time.Date(year, time.Month(index), 1, 0, 0, 0, 0, time.UTC)
		return model.Period{Start: start, End: start.AddDate(0, 1, 0)}
	case PeriodQuarter:
		start := time.Date(year, time.Month((index-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		return model.Period{Start: start, End: start.AddDate(0, 3, 0)}
	default:
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return model.Period{Start: start, End: start.AddDate(1, 0, 0)}
	}
}
