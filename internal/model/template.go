package model

import "time"

// Layout 模板版式
type Layout struct {
	Sheet       string `json:"sheet"`
	HeaderRow   int    `json:"headerRow"`
	DataRow     int    `json:"dataRow"`
	FirstColumn int    `json:"firstColumn"`
}

// Column 模板列
type Column struct {
	Index  int       `json:"index"` // 列号（1 起）
	Header string    `json:"header"`
	Type   FieldType `json:"type"`
	Width  float64   `json:"width"`
	Period *Period   `json:"period,omitempty"` // 仅日历列
}

// Period 日历列覆盖的时间段 [Start, End)
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps 判断 [from, to] 是否与时间段相交
func (p Period) Overlaps(from, to time.Time) bool {
	if to.Before(from) {
		from, to = to, from
	}
	return from.Before(p.End) && !to.Before(p.Start)
}

// Template 模板（不可变，替换时整体换新）
type Template struct {
	Data    []byte   `json:"-"`
	Layout  Layout   `json:"layout"`
	Columns []Column `json:"columns"`
	Schema  Schema   `json:"schema"`
	Version string   `json:"version"` // 模板内容 sha256
}

// Bytes 返回模板内容副本
func (t *Template) Bytes() []byte {
	if t == nil {
		return nil
	}
	out := make([]byte, len(t.Data))
	copy(out, t.Data)
	return out
}

// TemplateBackup 模板备份（只写一次）
type TemplateBackup struct {
	Key       string    `json:"key"`
	Path      string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
}
