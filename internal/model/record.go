package model

import "time"

// Value 已解析的单元格值
type Value struct {
	Type   FieldType `json:"type"`
	Text   string    `json:"text,omitempty"`   // 原始文本（无法解析时原样输出）
	Number float64   `json:"number,omitempty"` // currency/number/computed
	Date   time.Time `json:"date,omitempty"`
	Valid  bool      `json:"valid"` // false 表示缺省值或解析失败
}

// ZeroValue 类型零值
func ZeroValue(t FieldType) Value {
	return Value{Type: t}
}

// IsEmpty 是否既无有效值也无原始文本
func (v Value) IsEmpty() bool {
	return !v.Valid && v.Text == ""
}

// RawRecord 源表一行：源表头 -> 单元格文本
type RawRecord struct {
	Row    int               `json:"row"`
	Values map[string]string `json:"values"`
}

// ResolvedRecord 映射到规范字段后的一行
type ResolvedRecord struct {
	Row    int              `json:"row"` // 源表行号（1 起）
	Values map[string]Value `json:"values"`
}

// Get 取字段值，不存在时返回零值
func (r ResolvedRecord) Get(name string) Value {
	if r.Values == nil {
		return Value{}
	}
	return r.Values[name]
}

// MatchRank 匹配等级
type MatchRank int

const (
	MatchNone MatchRank = iota
	MatchExact
	MatchNormalized
	MatchSynonym
)

func (r MatchRank) String() string {
	switch r {
	case MatchExact:
		return "exact"
	case MatchNormalized:
		return "normalized"
	case MatchSynonym:
		return "synonym"
	default:
		return "none"
	}
}

// FieldMatch 字段匹配结果
type FieldMatch struct {
	Field  string    `json:"field"`
	Source string    `json:"source"`
	Column int       `json:"column"` // 源表列序（0 起）
	Rank   MatchRank `json:"rank"`
}

// AmbiguousField 同一等级出现多个候选列时不做猜测
type AmbiguousField struct {
	Field      string    `json:"field"`
	Rank       MatchRank `json:"rank"`
	Candidates []string  `json:"candidates"`
}

// CellIssue 单元格按声明类型解析失败
type CellIssue struct {
	Row   int    `json:"row"`
	Field string `json:"field"`
	Raw   string `json:"raw"`
}

// ResolutionReport 列解析报告
type ResolutionReport struct {
	Matched   []FieldMatch     `json:"matched"`
	Missing   []string         `json:"missing"`
	Extra     []string         `json:"extra"`
	Ambiguous []AmbiguousField `json:"ambiguous,omitempty"`
	Flagged   []string         `json:"flagged,omitempty"`
	Unparsed  []CellIssue      `json:"unparsed,omitempty"`
}

// Clean 是否完全匹配（无缺失、多余、歧义、派生告警）
func (r ResolutionReport) Clean() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0 && len(r.Ambiguous) == 0 && len(r.Flagged) == 0
}
