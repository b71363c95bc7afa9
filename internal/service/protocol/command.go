package protocol

import (
	"regexp"
	"strings"
)

// Command 邮件主题识别出的指令
type Command string

const (
	CommandNone          Command = ""
	CommandAdjustColumns Command = "adjust_columns"
	CommandHere          Command = "here"
	CommandHelp          Command = "help"
)

var replyPrefixRe = regexp.MustCompile(`(?i)^\s*(?:re|fwd?|aw|sv)\s*(?:\[\d+\])?\s*:\s*`)

var commandAliases = map[string]Command{
	"adjust columns": CommandAdjustColumns,
	"change format":  CommandAdjustColumns,
	"adjust format":  CommandAdjustColumns,
	"here":           CommandHere,
	"help":           CommandHelp,
}

// CleanSubject 去掉 Re:/Fwd: 前缀（可多层）并规范空白
func CleanSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		next := replyPrefixRe.ReplaceAllString(s, "")
		if next == s {
			break
		}
		s = strings.TrimSpace(next)
	}
	return strings.Join(strings.Fields(s), " ")
}

// ParseCommand 识别主题中的指令；非指令返回 CommandNone
func ParseCommand(subject string) Command {
	key := strings.ToLower(CleanSubject(subject))
	key = strings.TrimRight(key, ".!")
	return commandAliases[key]
}
