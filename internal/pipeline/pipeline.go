// Package pipeline 把一封入站邮件路由到数据转换或模板更新协议，并回复唯一一封结果邮件。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"magpipeline/internal/exporter"
	"magpipeline/internal/inbound"
	"magpipeline/internal/mailer"
	"magpipeline/internal/model"
	"magpipeline/internal/parser"
	"magpipeline/internal/service/artifact"
	"magpipeline/internal/service/notify"
	"magpipeline/internal/service/protocol"
)

// TemplateFileName 发给请求人的模板附件名
const TemplateFileName = "MAG_Pipeline_Template.xlsx"

const (
	StatusCompleted = "completed"
	StatusIgnored   = "ignored"
	StatusFailed    = "failed"
)

// ProcessingLogs 处理记录存储
type ProcessingLogs interface {
	CreateProcessingLog(ctx context.Context, l model.ProcessingLog) (int64, error)
	UpdateProcessingLog(ctx context.Context, l model.ProcessingLog) error
}

// Options 编排器依赖
type Options struct {
	Templates    protocol.TemplateStore
	Machine      *protocol.Machine
	Allow        *protocol.AllowList
	Synonyms     parser.SynonymSource
	Resolver     *parser.Resolver
	Renderer     *exporter.Renderer
	Artifacts    artifact.Store
	Notifier     *notify.Notifier
	Sender       mailer.Sender
	Logs         ProcessingLogs // 可为空
	OutputPrefix string
	PendingTTL   time.Duration
	Logger       *zap.Logger
	Now          func() time.Time
}

// Pipeline 消息编排器
type Pipeline struct {
	templates protocol.TemplateStore
	machine   *protocol.Machine
	allow     *protocol.AllowList
	synonyms  parser.SynonymSource
	resolver  *parser.Resolver
	renderer  *exporter.Renderer
	artifacts artifact.Store
	notifier  *notify.Notifier
	sender    mailer.Sender
	logs      ProcessingLogs
	prefix    string
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// Outcome 单封邮件的处理结果
type Outcome struct {
	Kind      notify.Kind
	Command   protocol.Command
	Rows      int
	Report    *model.ResolutionReport
	Artifact  string            // 输出产物句柄
	Output    *model.Attachment // 回复附件
	BackupKey string
	Detail    string // 通知正文中的说明
	Err       error  // 业务错误或内部故障的原因
}

// New 创建编排器
func New(opts Options) (*Pipeline, error) {
	if opts.Templates == nil {
		return nil, errors.New("pipeline: template store is required")
	}
	if opts.Machine == nil {
		return nil, errors.New("pipeline: protocol machine is required")
	}
	if opts.Notifier == nil || opts.Sender == nil {
		return nil, errors.New("pipeline: notifier and sender are required")
	}
	p := &Pipeline{
		templates: opts.Templates,
		machine:   opts.Machine,
		allow:     opts.Allow,
		synonyms:  opts.Synonyms,
		resolver:  opts.Resolver,
		renderer:  opts.Renderer,
		artifacts: opts.Artifacts,
		notifier:  opts.Notifier,
		sender:    opts.Sender,
		logs:      opts.Logs,
		prefix:    opts.OutputPrefix,
		ttl:       opts.PendingTTL,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if p.synonyms == nil {
		p.synonyms = parser.StaticSynonyms(parser.DefaultSynonyms())
	}
	if p.resolver == nil {
		p.resolver = parser.NewResolver(p.synonyms)
	}
	if p.renderer == nil {
		p.renderer = exporter.NewRenderer(exporter.RenderOptions{})
	}
	if p.ttl <= 0 {
		p.ttl = protocol.DefaultPendingTTL
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("pipeline")
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Process 处理一封邮件并发送结果
//
// 返回的 error 只表示结果邮件未能送出；处理本身的失败已转换为 TransformFailure 通知。
func (p *Pipeline) Process(ctx context.Context, msg model.InboundMessage) (Outcome, error) {
	started := p.now()
	logID := p.openLog(ctx, msg, started)

	out := p.run(ctx, msg)
	sendErr := p.deliver(ctx, msg, out)

	p.closeLog(ctx, logID, msg, out, sendErr, started)
	fields := []zap.Field{
		zap.String("id", msg.ID),
		zap.String("from", msg.From),
		zap.String("kind", string(out.Kind)),
		zap.Int("rows", out.Rows),
		zap.Duration("elapsed", p.now().Sub(started)),
	}
	if out.Err != nil {
		fields = append(fields, zap.Error(out.Err))
	}
	if out.Kind == notify.KindTransformFailure {
		p.logger.Error("message processing failed", fields...)
	} else {
		p.logger.Info("message processed", fields...)
	}
	return out, sendErr
}

// run 单封邮件的隔离边界：panic 与错误都转为 TransformFailure
func (p *Pipeline) run(ctx context.Context, msg model.InboundMessage) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing message", zap.String("id", msg.ID), zap.Any("panic", r), zap.Stack("stack"))
			out = Outcome{Kind: notify.KindTransformFailure, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	var err error
	out, err = p.route(ctx, msg)
	if err != nil {
		out = Outcome{Kind: notify.KindTransformFailure, Command: out.Command, Err: err}
	}
	return out
}

func (p *Pipeline) route(ctx context.Context, msg model.InboundMessage) (Outcome, error) {
	cmd := protocol.ParseCommand(msg.Subject)
	if !p.allow.Allowed(msg.From) {
		return Outcome{Kind: notify.KindUnauthorizedSender, Command: cmd, Err: protocol.ErrNotAuthorized}, nil
	}

	switch cmd {
	case protocol.CommandHelp:
		return Outcome{Kind: notify.KindHelp, Command: cmd}, nil
	case protocol.CommandAdjustColumns, protocol.CommandHere:
		return p.handleProtocol(ctx, cmd, msg)
	}

	att, ok := msg.FirstAttachment()
	if !ok || len(att.Data) == 0 {
		return Outcome{Kind: notify.KindUnsupportedCommand, Command: cmd}, nil
	}
	return p.transform(ctx, msg, att)
}

func (p *Pipeline) handleProtocol(ctx context.Context, cmd protocol.Command, msg model.InboundMessage) (Outcome, error) {
	res, err := p.machine.Handle(ctx, cmd, msg)
	if err != nil {
		return Outcome{Command: cmd}, err
	}
	out := Outcome{Command: cmd, Err: res.Reason}
	switch res.Outcome {
	case protocol.OutcomeTemplateSent:
		out.Kind = notify.KindTemplateSent
		out.Output = &model.Attachment{Filename: TemplateFileName, ContentType: xlsxContentType, Data: res.Template}
	case protocol.OutcomeTemplateUpdated:
		out.Kind = notify.KindTemplateUpdated
		out.BackupKey = res.Backup.Key
	case protocol.OutcomeTemplateRejected:
		out.Kind = notify.KindValidationError
	case protocol.OutcomeHereWithoutRequest:
		out.Kind = notify.KindUnsupportedCommand
		out.Detail = hereWithoutRequestDetail
	case protocol.OutcomeUnauthorized:
		out.Kind = notify.KindUnauthorizedSender
	default:
		return out, fmt.Errorf("unexpected protocol outcome %q", res.Outcome)
	}
	return out, nil
}

func (p *Pipeline) transform(ctx context.Context, msg model.InboundMessage, att model.Attachment) (Outcome, error) {
	if p.artifacts != nil {
		if _, err := p.artifacts.Put(ctx, artifact.KindInput, att.Filename, att.Data); err != nil {
			p.logger.Warn("store input artifact", zap.String("file", att.Filename), zap.Error(err))
		}
	}

	res, err := p.Transform(att.Data)
	if err != nil {
		return Outcome{}, err
	}

	name := exporter.OutputFileName(p.prefix, p.now())
	out := Outcome{
		Rows:   len(res.Records),
		Report: &res.Report,
		Output: &model.Attachment{Filename: name, ContentType: xlsxContentType, Data: res.Output},
	}
	if p.artifacts != nil {
		handle, err := p.artifacts.Put(ctx, artifact.KindOutput, name, res.Output)
		if err != nil {
			return Outcome{}, fmt.Errorf("store output: %w", err)
		}
		out.Artifact = handle
	}

	out.Kind = notify.KindProcessed
	if !res.Report.Clean() || len(res.Report.Unparsed) > 0 {
		out.Kind = notify.KindResolutionWarning
	}
	p.logger.Info("report transformed",
		zap.String("input", att.Filename),
		zap.String("inputSize", humanize.Bytes(uint64(len(att.Data)))),
		zap.Int("rows", out.Rows),
		zap.Int("missing", len(res.Report.Missing)),
		zap.Int("extra", len(res.Report.Extra)),
		zap.String("output", name),
	)
	return out, nil
}

// Result 一次转换的产出
type Result struct {
	Raw     *parser.RawReport
	Records []model.ResolvedRecord
	Summary *model.ResolvedRecord
	Report  model.ResolutionReport
	Output  []byte
}

// Transform 读取原始报表，按当前模板解析并渲染
func (p *Pipeline) Transform(data []byte) (*Result, error) {
	return Transform(data, p.templates.GetActive(), p.synonyms.Current(), p.resolver, p.renderer)
}

// Transform 无状态版本，供命令行直接调用
func Transform(data []byte, tmpl *model.Template, syn *parser.Synonyms, resolver *parser.Resolver, renderer *exporter.Renderer) (*Result, error) {
	if tmpl == nil {
		return nil, errors.New("no active template")
	}
	raw, err := parser.ReadRawReport(bytes.NewReader(data), syn)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	records, report := resolver.ResolveReport(raw, tmpl.Schema)
	summary := resolver.ResolveSummary(raw, tmpl.Schema)
	output, err := renderer.Render(records, summary, tmpl)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}
	return &Result{Raw: raw, Records: records, Summary: summary, Report: report, Output: output}, nil
}

// deliver 发送结果邮件：请求人一封，TransformFailure 另发一封管理员告警
func (p *Pipeline) deliver(ctx context.Context, msg model.InboundMessage, out Outcome) error {
	ev := notify.Event{
		Kind:       out.Kind,
		Message:    msg,
		Rows:       out.Rows,
		Report:     out.Report,
		BackupKey:  out.BackupKey,
		Attachment: out.Output,
	}
	ev.Detail = out.Detail
	if ev.Detail == "" && out.Err != nil {
		ev.Detail = out.Err.Error()
	}
	if out.Kind == notify.KindTemplateSent {
		ev.PendingFor = p.ttl
	}

	reply, alert, err := p.notifier.Compose(ev)
	if err != nil {
		return fmt.Errorf("compose notification: %w", err)
	}
	var errs error
	if reply != nil {
		if err := p.sender.Send(ctx, *reply); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("send reply: %w", err))
		}
	}
	if alert != nil {
		if err := p.sender.Send(ctx, *alert); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("send admin alert: %w", err))
		}
	}
	return errs
}

// Drain 依次处理来源中的全部邮件，返回处理数
func (p *Pipeline) Drain(ctx context.Context, src inbound.Source) (int, error) {
	deliveries, err := src.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range deliveries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		_, sendErr := p.Process(ctx, d.Message)
		if sendErr != nil {
			if err := src.Fail(d, sendErr); err != nil {
				p.logger.Error("move failed message", zap.String("file", d.Name()), zap.Error(err))
			}
		} else if err := src.Ack(d); err != nil {
			p.logger.Error("ack message", zap.String("file", d.Name()), zap.Error(err))
		}
		n++
	}
	return n, nil
}

func (p *Pipeline) openLog(ctx context.Context, msg model.InboundMessage, started time.Time) int64 {
	if p.logs == nil {
		return 0
	}
	id, err := p.logs.CreateProcessingLog(ctx, model.ProcessingLog{
		MessageID: firstNonEmpty(msg.MessageID, msg.ID),
		Sender:    msg.From,
		Subject:   msg.Subject,
		CreatedAt: started,
	})
	if err != nil {
		p.logger.Warn("create processing log", zap.Error(err))
		return 0
	}
	return id
}

func (p *Pipeline) closeLog(ctx context.Context, id int64, msg model.InboundMessage, out Outcome, sendErr error, started time.Time) {
	if p.logs == nil || id == 0 {
		return
	}
	l := model.ProcessingLog{
		ID:          id,
		MessageID:   firstNonEmpty(msg.MessageID, msg.ID),
		Sender:      msg.From,
		Subject:     msg.Subject,
		Kind:        string(out.Kind),
		Status:      StatusCompleted,
		Rows:        out.Rows,
		Artifact:    out.Artifact,
		CreatedAt:   started,
		CompletedAt: p.now(),
	}
	if out.Report != nil {
		l.Missing = len(out.Report.Missing)
		l.Extra = len(out.Report.Extra)
	}
	switch {
	case out.Kind == notify.KindTransformFailure || sendErr != nil:
		l.Status = StatusFailed
	case out.Kind == notify.KindUnauthorizedSender:
		l.Status = StatusIgnored
	}
	if err := multierr.Combine(out.Err, sendErr); err != nil {
		l.Error = err.Error()
	}
	if err := p.logs.UpdateProcessingLog(ctx, l); err != nil {
		p.logger.Warn("update processing log", zap.Int64("id", id), zap.Error(err))
	}
}

const hereWithoutRequestDetail = `I received "Here", but there is no template update waiting for you. Send "Adjust Columns" first and I will reply with the current template.`

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
