package parser

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"magpipeline/internal/model"
)

// SynonymGroup 同一语义字段的别名组
type SynonymGroup struct {
	Role    model.Role      `yaml:"role"`
	Type    model.FieldType `yaml:"type"`
	Aliases []string        `yaml:"aliases"`

	forms []string
}

// Synonyms 列匹配规则（同义词表 + 类型关键词 + 原始报表识别关键词）
//
// 属于业务配置数据，可由 synonyms.yaml 覆盖。
type Synonyms struct {
	Groups            []SynonymGroup               `yaml:"groups"`
	TypeKeywords      map[model.FieldType][]string `yaml:"type_keywords"`
	HeaderKeywords    []string                     `yaml:"header_keywords"`
	HeaderStopwords   []string                     `yaml:"header_stopwords"`
	ExclusionKeywords []string                     `yaml:"exclusion_keywords"`
}

// SynonymSource 当前生效的规则
type SynonymSource interface {
	Current() *Synonyms
}

type staticSynonyms struct {
	s *Synonyms
}

func (s staticSynonyms) Current() *Synonyms { return s.s }

// StaticSynonyms 固定规则源
func StaticSynonyms(s *Synonyms) SynonymSource {
	return staticSynonyms{s: s}
}

// DefaultSynonyms 内置规则
func DefaultSynonyms() *Synonyms {
	s := &Synonyms{
		Groups: []SynonymGroup{
			{Role: model.RoleCaptureManager, Type: model.FieldText, Aliases: []string{"capture manager", "capture mgr", "manager"}},
			{Role: model.RoleOpportunityName, Type: model.FieldText, Aliases: []string{"opportunity name", "opp name", "opportunity"}},
			{Role: model.RoleSalesforceID, Type: model.FieldText, Aliases: []string{"salesforce id", "salesforce number", "sf number", "sf id", "sf no", "sfid"}},
			{Role: model.RoleTravel, Type: model.FieldText, Aliases: []string{"te", "t and e", "travel and expense", "travel expense"}},
			{Role: model.RoleStage, Type: model.FieldText, Aliases: []string{"stage", "sales stage", "opportunity stage"}},
			{Role: model.RolePositioning, Type: model.FieldText, Aliases: []string{"positioning", "position"}},
			{Role: model.RoleCeilingValue, Type: model.FieldCurrency, Aliases: []string{"contract ceiling value", "ceiling value", "ceiling", "total contract value"}},
			{Role: model.RoleMAGValue, Type: model.FieldComputed, Aliases: []string{"mag value", "mag share value"}},
			{Role: model.RoleRFPDate, Type: model.FieldDate, Aliases: []string{"anticipated rfp date", "rfp date", "rfp release date", "anticipated rfp"}},
			{Role: model.RoleAwardDate, Type: model.FieldDate, Aliases: []string{"award date", "rfp award", "anticipated award date", "award"}},
			{Role: model.RoleGovWin, Type: model.FieldText, Aliases: []string{"govwin iq opportunity id", "govwin iq id", "govwin id", "govwin iq", "govwin"}},
		},
		TypeKeywords: map[model.FieldType][]string{
			model.FieldCurrency: {"value", "amount", "price", "cost", "revenue"},
			model.FieldDate:     {"date", "deadline"},
			model.FieldNumber:   {"count", "qty", "quantity", "probability", "percent"},
		},
		HeaderKeywords:  []string{"manager", "opportunity", "salesforce", "positioning", "value", "date", "govwin", "stage"},
		HeaderStopwords: []string{"equals", "probability"},
		ExclusionKeywords: []string{
			"Confidential Information - Do Not Distribute",
			"Copyright © 2000-2025 salesforce.com, inc. All rights reserved.",
			"salesforce.com, inc. All rights reserved",
		},
	}
	_ = s.compile()
	return s
}

// ParseSynonyms 解析 yaml 规则；未声明的部分沿用内置值
func ParseSynonyms(data []byte) (*Synonyms, error) {
	var s Synonyms
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse synonyms: %w", err)
	}
	def := DefaultSynonyms()
	if len(s.Groups) == 0 {
		s.Groups = def.Groups
	}
	if len(s.TypeKeywords) == 0 {
		s.TypeKeywords = def.TypeKeywords
	}
	if len(s.HeaderKeywords) == 0 {
		s.HeaderKeywords = def.HeaderKeywords
	}
	if s.HeaderStopwords == nil {
		s.HeaderStopwords = def.HeaderStopwords
	}
	if s.ExclusionKeywords == nil {
		s.ExclusionKeywords = def.ExclusionKeywords
	}
	if err := s.compile(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadSynonyms 从文件加载规则；文件不存在时使用内置规则
func LoadSynonyms(path string) (*Synonyms, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultSynonyms(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultSynonyms(), nil
		}
		return nil, fmt.Errorf("read synonyms: %w", err)
	}
	return ParseSynonyms(data)
}

func (s *Synonyms) compile() error {
	seen := make(map[model.Role]struct{}, len(s.Groups))
	for i := range s.Groups {
		g := &s.Groups[i]
		if g.Role == model.RoleNone {
			return fmt.Errorf("synonym group %d: role is empty", i)
		}
		if _, dup := seen[g.Role]; dup {
			return fmt.Errorf("synonym group %q declared twice", g.Role)
		}
		seen[g.Role] = struct{}{}
		if g.Type == "" {
			g.Type = model.FieldText
		}
		g.forms = g.forms[:0]
		for _, a := range g.Aliases {
			if f := WordForm(a); f != "" {
				g.forms = append(g.forms, f)
			}
		}
		if len(g.forms) == 0 {
			return fmt.Errorf("synonym group %q has no aliases", g.Role)
		}
	}
	return nil
}

// Group 按角色取别名组
func (s *Synonyms) Group(role model.Role) (SynonymGroup, bool) {
	for _, g := range s.Groups {
		if g.Role == role {
			return g, true
		}
	}
	return SynonymGroup{}, false
}

// aliasHit 返回 header 命中的别名等级：2=等值，1=整词包含，0=未命中；以及命中别名长度
func (g SynonymGroup) aliasHit(words string) (int, int) {
	best, bestLen := 0, 0
	for _, f := range g.forms {
		switch {
		case words == f:
			if best < 2 || len(f) > bestLen {
				best, bestLen = 2, len(f)
			}
		case ContainsWord(words, f):
			if best < 1 || (best == 1 && len(f) > bestLen) {
				best, bestLen = 1, len(f)
			}
		}
	}
	return best, bestLen
}

// RoleOf 推断表头对应的语义角色；取命中别名最长的组
func (s *Synonyms) RoleOf(header string) (SynonymGroup, bool) {
	words := WordForm(header)
	if words == "" {
		return SynonymGroup{}, false
	}

	type hit struct {
		idx   int
		level int
		size  int
	}
	hits := []hit{}
	for i, g := range s.Groups {
		if level, size := g.aliasHit(words); level > 0 {
			hits = append(hits, hit{idx: i, level: level, size: size})
		}
	}
	if len(hits) == 0 {
		return SynonymGroup{}, false
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].level != hits[j].level {
			return hits[i].level > hits[j].level
		}
		return hits[i].size > hits[j].size
	})
	return s.Groups[hits[0].idx], true
}

// InferField 按表头推断字段类型与角色
func (s *Synonyms) InferField(header string) (model.FieldType, model.Role) {
	if g, ok := s.RoleOf(header); ok {
		return g.Type, g.Role
	}
	if _, ok := ParsePeriodHeader(header); ok {
		return model.FieldCalendar, model.RoleNone
	}
	words := WordForm(header)
	if strings.Contains(header, "$") {
		return model.FieldCurrency, model.RoleNone
	}
	for _, t := range []model.FieldType{model.FieldCurrency, model.FieldDate, model.FieldNumber} {
		for _, kw := range s.TypeKeywords[t] {
			if ContainsWord(words, WordForm(kw)) {
				return t, model.RoleNone
			}
		}
	}
	return model.FieldText, model.RoleNone
}
