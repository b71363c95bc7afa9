package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"magpipeline/internal/model"
	tmplstore "magpipeline/internal/service/template"
)

var (
	// ErrNoAttachment Here 邮件没有可用的表格附件
	ErrNoAttachment = errors.New("no spreadsheet attachment")
	// ErrNotAuthorized 发件人不在授权名单中
	ErrNotAuthorized = errors.New("sender not authorized")
)

// DefaultPendingTTL 等待修改模板的默认超时
const DefaultPendingTTL = 24 * time.Hour

// Outcome 协议处理结果
type Outcome string

const (
	OutcomeTemplateSent       Outcome = "template_sent"
	OutcomeTemplateUpdated    Outcome = "template_updated"
	OutcomeTemplateRejected   Outcome = "template_rejected"
	OutcomeHereWithoutRequest Outcome = "here_without_request"
	OutcomeUnauthorized       Outcome = "unauthorized"
)

// TemplateStore 协议需要的模板仓库能力
type TemplateStore interface {
	GetActive() *model.Template
	ReplaceActive(ctx context.Context, data []byte) (model.TemplateBackup, error)
}

// Result 单条指令的处理结果
type Result struct {
	Outcome   Outcome
	State     model.UpdateState
	Requester string
	Template  []byte               // TemplateSent 时附带的当前模板
	Backup    model.TemplateBackup // TemplateUpdated 时的旧模板备份
	Reason    error                // TemplateRejected 的原因
}

// Options 状态机配置
type Options struct {
	States     StateStore
	Templates  TemplateStore
	Allow      *AllowList
	PendingTTL time.Duration
	Logger     *zap.Logger
	Now        func() time.Time
}

// Machine 模板更新协议：Idle -> AwaitingModifiedTemplate -> Idle
type Machine struct {
	states    StateStore
	templates TemplateStore
	allow     *AllowList
	ttl       time.Duration
	locks     *keyedMutex
	logger    *zap.Logger
	now       func() time.Time
}

// NewMachine 创建状态机
func NewMachine(opts Options) *Machine {
	m := &Machine{
		states:    opts.States,
		templates: opts.Templates,
		allow:     opts.Allow,
		ttl:       opts.PendingTTL,
		locks:     newKeyedMutex(),
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.states == nil {
		m.states = NewMemoryStateStore(m.now)
	}
	if m.ttl <= 0 {
		m.ttl = DefaultPendingTTL
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	m.logger = m.logger.Named("protocol")
	return m
}

// Handle 处理 Adjust Columns / Here 指令
//
// 返回的 error 只表示基础设施故障（状态存储、模板写盘）；
// 校验失败等业务结果通过 Result.Outcome 表达。
func (m *Machine) Handle(ctx context.Context, cmd Command, msg model.InboundMessage) (Result, error) {
	requester := NormalizeAddress(msg.From)
	if !m.allow.Allowed(requester) {
		m.logger.Info("ignored command from unauthorized sender", zap.String("from", msg.From))
		return Result{Outcome: OutcomeUnauthorized, Requester: requester, Reason: ErrNotAuthorized}, nil
	}

	unlock := m.locks.lock(requester)
	defer unlock()

	state, err := m.current(ctx, requester)
	if err != nil {
		return Result{}, err
	}

	switch cmd {
	case CommandAdjustColumns:
		return m.sendTemplate(ctx, requester)
	case CommandHere:
		if state != model.StateAwaiting {
			return Result{Outcome: OutcomeHereWithoutRequest, State: model.StateIdle, Requester: requester}, nil
		}
		return m.acceptTemplate(ctx, requester, msg)
	default:
		return Result{}, fmt.Errorf("unsupported protocol command %q", cmd)
	}
}

// State 请求人当前状态（超时视为 Idle）
func (m *Machine) State(ctx context.Context, from string) (model.UpdateState, error) {
	requester := NormalizeAddress(from)
	unlock := m.locks.lock(requester)
	defer unlock()
	return m.current(ctx, requester)
}

func (m *Machine) current(ctx context.Context, requester string) (model.UpdateState, error) {
	p, ok, err := m.states.Get(ctx, requester)
	if err != nil {
		return "", fmt.Errorf("load protocol state: %w", err)
	}
	if !ok || p.State != model.StateAwaiting {
		return model.StateIdle, nil
	}
	if p.Expired(m.now()) {
		m.logger.Info("pending template request expired", zap.String("requester", requester), zap.Time("expiresAt", p.ExpiresAt))
		if err := m.states.Delete(ctx, requester); err != nil {
			return "", fmt.Errorf("clear expired protocol state: %w", err)
		}
		return model.StateIdle, nil
	}
	return model.StateAwaiting, nil
}

func (m *Machine) sendTemplate(ctx context.Context, requester string) (Result, error) {
	active := m.templates.GetActive()
	if active == nil {
		return Result{}, errors.New("no active template")
	}
	now := m.now()
	p := model.PendingUpdateRequest{
		Requester: requester,
		State:     model.StateAwaiting,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.states.Save(ctx, p); err != nil {
		return Result{}, fmt.Errorf("save protocol state: %w", err)
	}
	m.logger.Info("template sent for adjustment", zap.String("requester", requester), zap.String("version", active.Version))
	return Result{
		Outcome:   OutcomeTemplateSent,
		State:     model.StateAwaiting,
		Requester: requester,
		Template:  active.Bytes(),
	}, nil
}

func (m *Machine) acceptTemplate(ctx context.Context, requester string, msg model.InboundMessage) (Result, error) {
	rejected := func(reason error) (Result, error) {
		m.logger.Info("modified template rejected", zap.String("requester", requester), zap.Error(reason))
		return Result{Outcome: OutcomeTemplateRejected, State: model.StateAwaiting, Requester: requester, Reason: reason}, nil
	}

	att, ok := msg.FirstAttachment()
	if !ok || len(att.Data) == 0 {
		return rejected(ErrNoAttachment)
	}

	backup, err := m.templates.ReplaceActive(ctx, att.Data)
	if err != nil {
		if errors.Is(err, tmplstore.ErrTemplateInvalid) {
			return rejected(err)
		}
		return Result{}, fmt.Errorf("replace active template: %w", err)
	}

	if err := m.states.Delete(ctx, requester); err != nil {
		return Result{}, fmt.Errorf("clear protocol state: %w", err)
	}
	m.logger.Info("active template updated", zap.String("requester", requester), zap.String("backup", backup.Key))
	return Result{
		Outcome:   OutcomeTemplateUpdated,
		State:     model.StateIdle,
		Requester: requester,
		Backup:    backup,
	}, nil
}
