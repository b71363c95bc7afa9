package protocol

import (
	"net/mail"
	"strings"
)

// AllowList 授权发件人
type AllowList struct {
	set map[string]struct{}
}

// NewAllowList 创建授权名单（地址不区分大小写）
func NewAllowList(addrs []string) *AllowList {
	a := &AllowList{set: make(map[string]struct{}, len(addrs))}
	for _, addr := range addrs {
		if k := NormalizeAddress(addr); k != "" {
			a.set[k] = struct{}{}
		}
	}
	return a
}

// Allowed 发件人是否在名单中
func (a *AllowList) Allowed(from string) bool {
	if a == nil {
		return false
	}
	_, ok := a.set[NormalizeAddress(from)]
	return ok
}

// Len 名单人数
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.set)
}

// NormalizeAddress 从 "Name <user@host>" 中取出小写地址
func NormalizeAddress(from string) string {
	from = strings.TrimSpace(from)
	if from == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		return strings.ToLower(addr.Address)
	}
	from = strings.Trim(from, "<>")
	return strings.ToLower(from)
}
