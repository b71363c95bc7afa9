package parser

import (
	"strings"

	"magpipeline/internal/model"
)

// Derivation 派生字段公式
type Derivation struct {
	Inputs  []model.Role
	Compute func(inputs map[model.Role]model.Value) model.Value
}

// Resolver 列解析器：把任意表头映射到规范字段
//
// 匹配按等级依次进行：精确（不区分大小写）→ 规范化（忽略空白与标点）→ 同义词。
// 同一等级出现多个候选列时记为歧义，不做猜测。
type Resolver struct {
	synonyms    SynonymSource
	derivations map[model.Role]Derivation
}

// Option 解析器选项
type Option func(*Resolver)

// WithMAGShare 设置 MAG Value = Contract Ceiling Value × share
func WithMAGShare(share float64) Option {
	return func(r *Resolver) {
		r.derivations[model.RoleMAGValue] = magDerivation(share)
	}
}

// WithDerivation 注册派生字段公式
func WithDerivation(role model.Role, d Derivation) Option {
	return func(r *Resolver) {
		r.derivations[role] = d
	}
}

// NewResolver 创建解析器
func NewResolver(src SynonymSource, opts ...Option) *Resolver {
	if src == nil {
		src = StaticSynonyms(DefaultSynonyms())
	}
	r := &Resolver{
		synonyms: src,
		derivations: map[model.Role]Derivation{
			model.RoleMAGValue: magDerivation(1),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func magDerivation(share float64) Derivation {
	return Derivation{
		Inputs: []model.Role{model.RoleCeilingValue},
		Compute: func(in map[model.Role]model.Value) model.Value {
			ceiling := in[model.RoleCeilingValue]
			if !ceiling.Valid {
				return model.ZeroValue(model.FieldComputed)
			}
			return model.Value{Type: model.FieldComputed, Number: ceiling.Number * share, Valid: true}
		},
	}
}

// Resolve 将表头与数据行映射到规范字段；行号按数据行顺序从 1 开始
func (r *Resolver) Resolve(header []string, rows [][]string, schema model.Schema) ([]model.ResolvedRecord, model.ResolutionReport) {
	nums := make([]int, len(rows))
	for i := range rows {
		nums[i] = i + 1
	}
	return r.resolve(header, rows, nums, schema)
}

// ResolveReport 解析原始报表
func (r *Resolver) ResolveReport(rep *RawReport, schema model.Schema) ([]model.ResolvedRecord, model.ResolutionReport) {
	if rep == nil {
		return r.resolve(nil, nil, nil, schema)
	}
	return r.resolve(rep.Header, rep.Rows, rep.RowNumbers, schema)
}

// ResolveSummary 按同一表头解析汇总行（Total 行），不计入报告
func (r *Resolver) ResolveSummary(rep *RawReport, schema model.Schema) *model.ResolvedRecord {
	if rep == nil || rep.Summary == nil {
		return nil
	}
	records, _ := r.resolve(rep.Header, [][]string{rep.Summary}, []int{rep.SummaryRow}, schema)
	if len(records) == 0 {
		return nil
	}
	return &records[0]
}

func (r *Resolver) resolve(header []string, rows [][]string, rowNums []int, schema model.Schema) ([]model.ResolvedRecord, model.ResolutionReport) {
	assigned, report := r.MatchHeader(header, schema)
	report.Flagged = r.flagDerived(schema, assigned)

	records := make([]model.ResolvedRecord, 0, len(rows))
	for i, row := range rows {
		rec := model.ResolvedRecord{
			Row:    rowNums[i],
			Values: make(map[string]model.Value, len(schema.Fields)),
		}
		byRole := map[model.Role]model.Value{}

		for _, f := range schema.Fields {
			if f.Type == model.FieldCalendar || f.Type == model.FieldComputed {
				continue
			}
			v := model.ZeroValue(f.Type)
			if col, ok := assigned[f.Name]; ok && col < len(row) {
				parsed, ok := ParseValue(f.Type, row[col])
				if !ok {
					report.Unparsed = append(report.Unparsed, model.CellIssue{Row: rec.Row, Field: f.Name, Raw: row[col]})
				}
				v = parsed
			}
			rec.Values[f.Name] = v
			if f.Role != model.RoleNone {
				byRole[f.Role] = v
			}
		}

		for _, f := range schema.Fields {
			if f.Type != model.FieldComputed {
				continue
			}
			v := model.ZeroValue(model.FieldComputed)
			if d, ok := r.derivations[f.Role]; ok && !contains(report.Flagged, f.Name) {
				v = d.Compute(byRole)
			}
			rec.Values[f.Name] = v
		}

		records = append(records, rec)
	}

	return records, report
}

// MatchHeader 只做表头匹配：返回 规范字段名 -> 源列序 以及报告
func (r *Resolver) MatchHeader(header []string, schema model.Schema) (map[string]int, model.ResolutionReport) {
	syn := r.synonyms.Current()
	if syn == nil {
		syn = DefaultSynonyms()
	}

	cleaned := make([]string, len(header))
	for i, h := range header {
		cleaned[i] = CleanHeader(h)
	}

	fields := schema.Matchable()
	assigned := make(map[string]int, len(fields))
	claimed := make(map[int]bool, len(header))
	settled := make(map[string]bool, len(fields))
	report := model.ResolutionReport{
		Matched: []model.FieldMatch{},
		Missing: []string{},
		Extra:   []string{},
	}

	for _, rank := range []model.MatchRank{model.MatchExact, model.MatchNormalized, model.MatchSynonym} {
		for _, f := range fields {
			if settled[f.Name] {
				continue
			}
			cands := r.candidates(rank, f, cleaned, claimed, syn)
			switch {
			case len(cands) == 1:
				col := cands[0]
				assigned[f.Name] = col
				claimed[col] = true
				settled[f.Name] = true
				report.Matched = append(report.Matched, model.FieldMatch{
					Field:  f.Name,
					Source: cleaned[col],
					Column: col,
					Rank:   rank,
				})
			case len(cands) > 1:
				names := make([]string, 0, len(cands))
				for _, c := range cands {
					names = append(names, cleaned[c])
				}
				report.Ambiguous = append(report.Ambiguous, model.AmbiguousField{Field: f.Name, Rank: rank, Candidates: names})
				settled[f.Name] = true
			}
		}
	}

	for _, f := range fields {
		if _, ok := assigned[f.Name]; !ok {
			report.Missing = append(report.Missing, f.Name)
		}
	}
	for i, h := range cleaned {
		if h != "" && !claimed[i] {
			report.Extra = append(report.Extra, h)
		}
	}

	return assigned, report
}

func (r *Resolver) candidates(rank model.MatchRank, f model.Field, header []string, claimed map[int]bool, syn *Synonyms) []int {
	out := []int{}
	switch rank {
	case model.MatchExact:
		for i, h := range header {
			if !claimed[i] && h != "" && strings.EqualFold(h, CleanHeader(f.Name)) {
				out = append(out, i)
			}
		}
	case model.MatchNormalized:
		want := NormalizeColumnName(f.Name)
		if want == "" {
			return out
		}
		for i, h := range header {
			if !claimed[i] && NormalizeColumnName(h) == want {
				out = append(out, i)
			}
		}
	case model.MatchSynonym:
		role := f.Role
		if role == model.RoleNone {
			g, ok := syn.RoleOf(f.Name)
			if !ok {
				return out
			}
			role = g.Role
		}
		group, ok := syn.Group(role)
		if !ok {
			return out
		}
		// 仅当源列自身的最佳角色即为该字段角色时才算候选，只保留最高命中等级
		bestLevel := 0
		for i, h := range header {
			if claimed[i] || h == "" {
				continue
			}
			g, ok := syn.RoleOf(h)
			if !ok || g.Role != group.Role {
				continue
			}
			level, _ := group.aliasHit(WordForm(h))
			switch {
			case level > bestLevel:
				bestLevel = level
				out = append(out[:0], i)
			case level == bestLevel && level > 0:
				out = append(out, i)
			}
		}
	}
	return out
}

func (r *Resolver) flagDerived(schema model.Schema, assigned map[string]int) []string {
	flagged := []string{}
	for _, f := range schema.Fields {
		if f.Type != model.FieldComputed {
			continue
		}
		d, ok := r.derivations[f.Role]
		if !ok {
			flagged = append(flagged, f.Name)
			continue
		}
		for _, in := range d.Inputs {
			src, ok := schema.ByRole(in)
			if !ok {
				flagged = append(flagged, f.Name)
				break
			}
			if _, ok := assigned[src.Name]; !ok {
				flagged = append(flagged, f.Name)
				break
			}
		}
	}
	if len(flagged) == 0 {
		return nil
	}
	return flagged
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
