package model

import "strings"

// FieldType 字段声明类型（决定解析与导出格式）
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldCurrency FieldType = "currency"
	FieldDate     FieldType = "date"
	FieldNumber   FieldType = "number"
	FieldComputed FieldType = "computed" // 派生金额字段，从不取自源表
	FieldCalendar FieldType = "calendar" // 甘特图日历列，仅用于版式
)

// Role 字段语义角色（与模板表头文字解耦）
type Role string

const (
	RoleNone            Role = ""
	RoleCaptureManager  Role = "capture_manager"
	RoleOpportunityName Role = "opportunity_name"
	RoleSalesforceID    Role = "salesforce_id"
	RoleTravel          Role = "t_and_e"
	RoleStage           Role = "stage"
	RolePositioning     Role = "positioning"
	RoleCeilingValue    Role = "ceiling_value"
	RoleMAGValue        Role = "mag_value"
	RoleRFPDate         Role = "anticipated_rfp_date"
	RoleAwardDate       Role = "award_date"
	RoleGovWin          Role = "govwin_id"
)

// Field 规范字段
type Field struct {
	Name   string    `json:"name"`
	Type   FieldType `json:"type"`
	Role   Role      `json:"role,omitempty"`
	Column int       `json:"column"` // 模板中的列号（1 起）
}

// Matchable 是否参与列匹配
func (f Field) Matchable() bool {
	return f.Type != FieldComputed && f.Type != FieldCalendar
}

// Schema 规范字段集合（顺序即模板列顺序）
type Schema struct {
	Fields []Field `json:"fields"`
}

// Names 返回全部字段名
func (s Schema) Names() []string {
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, f.Name)
	}
	return out
}

// Field 按名称查找字段（不区分大小写）
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// ByRole 按语义角色查找字段
func (s Schema) ByRole(role Role) (Field, bool) {
	if role == RoleNone {
		return Field{}, false
	}
	for _, f := range s.Fields {
		if f.Role == role {
			return f, true
		}
	}
	return Field{}, false
}

// Matchable 返回参与列匹配的字段
func (s Schema) Matchable() []Field {
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Matchable() {
			out = append(out, f)
		}
	}
	return out
}

// Calendar 返回日历列
func (s Schema) Calendar() []Field {
	out := []Field{}
	for _, f := range s.Fields {
		if f.Type == FieldCalendar {
			out = append(out, f)
		}
	}
	return out
}
