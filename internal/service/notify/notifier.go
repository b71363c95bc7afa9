package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode"

	"github.com/dustin/go-humanize"

	"magpipeline/internal/model"
)

// Data 通知正文变量
type Data struct {
	Requester      string
	Subject        string
	Greeting       string
	Rows           int
	Report         *model.ResolutionReport
	Detail         string
	BackupKey      string
	Attachment     string
	AttachmentSize string
	PendingFor     string
	Admins         []string
	Time           string
}

// Event 一次处理结果
type Event struct {
	Kind       Kind
	Message    model.InboundMessage
	Rows       int
	Report     *model.ResolutionReport
	Detail     string
	BackupKey  string
	Attachment *model.Attachment
	PendingFor time.Duration
}

// Options 通知配置
type Options struct {
	Admins            []string
	ReplyUnauthorized bool
	Now               func() time.Time
	TimeLayout        string
}

// Notifier 把处理结果映射为出站邮件
type Notifier struct {
	admins            []string
	replyUnauthorized bool
	now               func() time.Time
	layout            string
	bodies            map[Kind]*template.Template
	alert             *template.Template
}

var funcs = template.FuncMap{"join": strings.Join}

// New 编译全部正文模板
func New(opts Options) (*Notifier, error) {
	n := &Notifier{
		admins:            dedupe(opts.Admins),
		replyUnauthorized: opts.ReplyUnauthorized,
		now:               opts.Now,
		layout:            opts.TimeLayout,
		bodies:            make(map[Kind]*template.Template, len(rules)),
	}
	if n.now == nil {
		n.now = time.Now
	}
	if n.layout == "" {
		n.layout = "2006-01-02 15:04:05"
	}
	for kind, r := range rules {
		t, err := template.New(string(kind)).Funcs(funcs).Parse(r.Body)
		if err != nil {
			return nil, fmt.Errorf("parse %s body: %w", kind, err)
		}
		n.bodies[kind] = t
	}
	t, err := template.New("alert").Funcs(funcs).Parse(alertBody)
	if err != nil {
		return nil, fmt.Errorf("parse alert body: %w", err)
	}
	n.alert = t
	return n, nil
}

// Compose 生成给请求人的回复与（可选的）管理员告警
//
// reply 为 nil 表示该结果不回复请求人。
func (n *Notifier) Compose(ev Event) (reply *model.OutboundMessage, alert *model.OutboundMessage, err error) {
	r, ok := RuleFor(ev.Kind)
	if !ok {
		return nil, nil, fmt.Errorf("no notification rule for %q", ev.Kind)
	}
	data := n.data(ev)

	if r.Reply || (ev.Kind == KindUnauthorizedSender && n.replyUnauthorized) {
		body, err := render(n.bodies[ev.Kind], data)
		if err != nil {
			return nil, nil, err
		}
		reply = &model.OutboundMessage{
			To:         ev.Message.From,
			Cc:         n.ccFor(ev.Message.From),
			Subject:    r.Subject,
			Body:       body,
			InReplyTo:  ev.Message.MessageID,
			References: threadReferences(ev.Message),
		}
		if r.Attach && ev.Attachment != nil {
			att := *ev.Attachment
			reply.Attachment = &att
		}
	}

	if r.AlertAdmins && len(n.admins) > 0 {
		body, err := render(n.alert, data)
		if err != nil {
			return nil, nil, err
		}
		alert = &model.OutboundMessage{
			To:      n.admins[0],
			Cc:      append([]string(nil), n.admins[1:]...),
			Subject: alertSubject,
			Body:    body,
		}
	}
	return reply, alert, nil
}

func (n *Notifier) data(ev Event) Data {
	d := Data{
		Requester: ev.Message.From,
		Subject:   ev.Message.Subject,
		Greeting:  Greeting(ev.Message.From),
		Rows:      ev.Rows,
		Report:    ev.Report,
		Detail:    ev.Detail,
		BackupKey: ev.BackupKey,
		Admins:    n.admins,
		Time:      n.now().Format(n.layout),
	}
	if ev.Attachment != nil {
		d.Attachment = ev.Attachment.Filename
		d.AttachmentSize = humanize.Bytes(uint64(len(ev.Attachment.Data)))
	}
	if ev.PendingFor > 0 {
		d.PendingFor = humanizeDuration(ev.PendingFor)
	}
	return d
}

// ccFor 管理员列表去掉请求人本人
func (n *Notifier) ccFor(requester string) []string {
	req := strings.ToLower(addressOf(requester))
	out := make([]string, 0, len(n.admins))
	for _, a := range n.admins {
		if strings.ToLower(addressOf(a)) == req {
			continue
		}
		out = append(out, a)
	}
	return out
}

func render(t *template.Template, data Data) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}

func threadReferences(in model.InboundMessage) []string {
	refs := append([]string(nil), in.References...)
	if in.MessageID != "" {
		refs = append(refs, in.MessageID)
	}
	return refs
}

// Greeting 从地址本地部分取称呼：joseph.findley@x -> Joseph
func Greeting(from string) string {
	local := addressOf(from)
	if i := strings.IndexByte(local, '@'); i >= 0 {
		local = local[:i]
	}
	if i := strings.IndexAny(local, "._-+"); i >= 0 {
		local = local[:i]
	}
	if local == "" {
		return "there"
	}
	r := []rune(strings.ToLower(local))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

func addressOf(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '<'); i >= 0 {
		if j := strings.IndexByte(s[i:], '>'); j > 0 {
			return s[i+1 : i+j]
		}
	}
	return s
}

func dedupe(addrs []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		k := strings.ToLower(addressOf(a))
		if a == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
	}
	return out
}

func humanizeDuration(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "24 hours"
		}
		return fmt.Sprintf("%d days", days)
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return d.String()
}
