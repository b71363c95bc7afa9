package mailer

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	defaultSubject  = "Interact with the MAG bot to configure your file"
	maxSubjectLen   = 200
	maxReferences   = 10
	subjectEllipsis = "..."
)

var (
	messageIDRe = regexp.MustCompile(`<([^<>]+)>`)
	referenceRe = regexp.MustCompile(`<[^<>@]+@[^<>]+>`)
)

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
}

// CleanSubject 去除控制字符、压缩空白、限制长度；为空时使用默认主题
func CleanSubject(subject string) string {
	s := strings.Join(strings.Fields(stripControl(subject)), " ")
	if r := []rune(s); len(r) > maxSubjectLen {
		s = string(r[:maxSubjectLen-len(subjectEllipsis)]) + subjectEllipsis
	}
	if s == "" {
		return defaultSubject
	}
	return s
}

// CleanMessageID 提取 <local@domain> 形式的 Message-ID；不合法时返回空串
func CleanMessageID(raw string) string {
	cleaned := strings.Join(strings.Fields(stripControl(raw)), "")
	m := messageIDRe.FindStringSubmatch(cleaned)
	if m == nil {
		return ""
	}
	id := m[1]
	at := strings.IndexByte(id, '@')
	if at <= 0 || at == len(id)-1 || !strings.Contains(id[at:], ".") {
		return ""
	}
	return "<" + id + ">"
}

// CleanReferences 保留合法的 Message-ID，去重，最多保留最后 10 个
func CleanReferences(refs []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, raw := range refs {
		for _, id := range referenceRe.FindAllString(stripControl(raw), -1) {
			id = CleanMessageID(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}
	if len(out) > maxReferences {
		out = out[len(out)-maxReferences:]
	}
	return out
}

// threadingHeaders In-Reply-To 不合法时不写任何线程头
func threadingHeaders(inReplyTo string, refs []string) (string, []string) {
	id := CleanMessageID(inReplyTo)
	if id == "" {
		return "", nil
	}
	all := CleanReferences(append(append([]string(nil), refs...), id))
	return id, all
}
