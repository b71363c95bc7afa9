package protocol

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"magpipeline/internal/exporter"
	"magpipeline/internal/model"
	tmplstore "magpipeline/internal/service/template"
)

type fakeTemplates struct {
	mu       sync.Mutex
	active   *model.Template
	replaced [][]byte
	failIO   error
}

func newFakeTemplates() *fakeTemplates {
	return &fakeTemplates{active: &model.Template{Data: []byte("v1"), Version: "v1"}}
}

func (f *fakeTemplates) GetActive() *model.Template {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeTemplates) ReplaceActive(_ context.Context, data []byte) (model.TemplateBackup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIO != nil {
		return model.TemplateBackup{}, f.failIO
	}
	if string(data) == "broken" {
		return model.TemplateBackup{}, &tmplstore.ValidationError{Reasons: []string{"template is not a readable workbook"}}
	}
	prev := f.active
	f.active = &model.Template{Data: data, Version: string(data)}
	f.replaced = append(f.replaced, data)
	return model.TemplateBackup{Key: "template_backup_" + prev.Version}, nil
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const alice = "alice@example.com"

func newTestMachine(t *testing.T, states StateStore) (*Machine, *fakeTemplates, *clock) {
	t.Helper()
	tmpl := newFakeTemplates()
	clk := &clock{now: time.Date(2025, 8, 12, 9, 0, 0, 0, time.UTC)}
	m := NewMachine(Options{
		States:     states,
		Templates:  tmpl,
		Allow:      NewAllowList([]string{"Alice <ALICE@example.com>", "bob@example.com"}),
		PendingTTL: time.Hour,
		Now:        clk.Now,
	})
	return m, tmpl, clk
}

func msg(from, subject string, attachment []byte) model.InboundMessage {
	m := model.InboundMessage{From: from, Subject: subject}
	if attachment != nil {
		m.Attachments = []model.Attachment{{Filename: "template.xlsx", Data: attachment}}
	}
	return m
}

func handle(t *testing.T, m *Machine, cmd Command, in model.InboundMessage) Result {
	t.Helper()
	res, err := m.Handle(context.Background(), cmd, in)
	if err != nil {
		t.Fatalf("handle %s: %v", cmd, err)
	}
	return res
}

func TestMachine_AdjustThenHereUpdatesTemplate(t *testing.T) {
	m, tmpl, _ := newTestMachine(t, nil)

	res := handle(t, m, CommandAdjustColumns, msg("Alice <alice@example.com>", "Adjust Columns", nil))
	require.Equal(t, OutcomeTemplateSent, res.Outcome)
	require.Equal(t, model.StateAwaiting, res.State)
	require.Equal(t, []byte("v1"), res.Template)

	res = handle(t, m, CommandHere, msg(alice, "Re: Here", []byte("v2")))
	require.Equal(t, OutcomeTemplateUpdated, res.Outcome)
	require.Equal(t, "template_backup_v1", res.Backup.Key)
	require.Equal(t, "v2", tmpl.GetActive().Version)

	state, err := m.State(context.Background(), alice)
	require.NoError(t, err)
	require.Equal(t, model.StateIdle, state)
}

func TestMachine_AdjustWhileAwaitingRestartsWait(t *testing.T) {
	m, _, clk := newTestMachine(t, nil)

	handle(t, m, CommandAdjustColumns, msg(alice, "Adjust Columns", nil))
	clk.Advance(50 * time.Minute)
	res := handle(t, m, CommandAdjustColumns, msg(alice, "Change Format", nil))
	require.Equal(t, OutcomeTemplateSent, res.Outcome)
	require.NotEmpty(t, res.Template)

	// 第二次请求重新计时，因此 50+50 分钟后仍在等待
	clk.Advance(50 * time.Minute)
	state, err := m.State(context.Background(), alice)
	require.NoError(t, err)
	require.Equal(t, model.StateAwaiting, state)
}

func TestMachine_RejectedTemplateKeepsWaitingAndRetrySucceeds(t *testing.T) {
	m, tmpl, _ := newTestMachine(t, nil)
	handle(t, m, CommandAdjustColumns, msg(alice, "Adjust Columns", nil))

	res := handle(t, m, CommandHere, msg(alice, "Here", []byte("broken")))
	require.Equal(t, OutcomeTemplateRejected, res.Outcome)
	require.Equal(t, model.StateAwaiting, res.State)
	require.ErrorIs(t, res.Reason, tmplstore.ErrTemplateInvalid)
	require.Equal(t, "v1", tmpl.GetActive().Version)
	require.Empty(t, tmpl.replaced)

	res = handle(t, m, CommandHere, msg(alice, "Here", nil))
	require.Equal(t, OutcomeTemplateRejected, res.Outcome)
	require.ErrorIs(t, res.Reason, ErrNoAttachment)

	res = handle(t, m, CommandHere, msg(alice, "Here", []byte("v2")))
	require.Equal(t, OutcomeTemplateUpdated, res.Outcome)
	require.Equal(t, "v2", tmpl.GetActive().Version)
}

func TestMachine_HereWithoutRequest(t *testing.T) {
	m, tmpl, _ := newTestMachine(t, nil)

	res := handle(t, m, CommandHere, msg(alice, "Here", []byte("v2")))
	require.Equal(t, OutcomeHereWithoutRequest, res.Outcome)
	require.Equal(t, model.StateIdle, res.State)
	require.Equal(t, "v1", tmpl.GetActive().Version)
}

func TestMachine_UnauthorizedTouchesNoState(t *testing.T) {
	states := NewMemoryStateStore(nil)
	m, tmpl, _ := newTestMachine(t, states)

	for _, cmd := range []Command{CommandAdjustColumns, CommandHere} {
		res := handle(t, m, cmd, msg("mallory@example.com", string(cmd), []byte("evil")))
		require.Equal(t, OutcomeUnauthorized, res.Outcome)
		require.ErrorIs(t, res.Reason, ErrNotAuthorized)
	}
	_, ok, err := states.Get(context.Background(), "mallory@example.com")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, "v1", tmpl.GetActive().Version)
}

func TestMachine_PendingRequestTimesOut(t *testing.T) {
	m, tmpl, clk := newTestMachine(t, nil)
	handle(t, m, CommandAdjustColumns, msg(alice, "Adjust Columns", nil))

	clk.Advance(time.Hour)
	res := handle(t, m, CommandHere, msg(alice, "Here", []byte("v2")))
	require.Equal(t, OutcomeHereWithoutRequest, res.Outcome)
	require.Equal(t, "v1", tmpl.GetActive().Version)
}

func TestMachine_StorageFailureIsReturned(t *testing.T) {
	m, tmpl, _ := newTestMachine(t, nil)
	handle(t, m, CommandAdjustColumns, msg(alice, "Adjust Columns", nil))

	tmpl.failIO = errors.New("disk full")
	_, err := m.Handle(context.Background(), CommandHere, msg(alice, "Here", []byte("v2")))
	require.Error(t, err)

	// 失败后仍在等待，可重试
	tmpl.failIO = nil
	res := handle(t, m, CommandHere, msg(alice, "Here", []byte("v2")))
	require.Equal(t, OutcomeTemplateUpdated, res.Outcome)
}

func TestMachine_RequestersAreIndependent(t *testing.T) {
	m, _, _ := newTestMachine(t, nil)

	handle(t, m, CommandAdjustColumns, msg(alice, "Adjust Columns", nil))
	res := handle(t, m, CommandHere, msg("bob@example.com", "Here", []byte("v2")))
	require.Equal(t, OutcomeHereWithoutRequest, res.Outcome)

	var wg sync.WaitGroup
	for _, from := range []string{alice, "bob@example.com"} {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(from string) {
				defer wg.Done()
				_, err := m.Handle(context.Background(), CommandAdjustColumns, msg(from, "Adjust Columns", nil))
				if err != nil {
					t.Errorf("handle: %v", err)
				}
			}(from)
		}
	}
	wg.Wait()

	for _, from := range []string{alice, "bob@example.com"} {
		state, err := m.State(context.Background(), from)
		require.NoError(t, err)
		require.Equal(t, model.StateAwaiting, state)
	}
}

func TestMachine_ConcurrentHereReplacesOnce(t *testing.T) {
	store, err := tmplstore.Open(tmplstore.Options{Dir: t.TempDir(), Layout: tmplstore.DefaultLayoutOptions()})
	require.NoError(t, err)
	m := NewMachine(Options{
		Templates: store,
		Allow:     NewAllowList([]string{alice}),
	})
	next, err := exporter.DefaultTemplateBytes(exporter.TemplateOptions{Year: 2030})
	require.NoError(t, err)

	handle(t, m, CommandAdjustColumns, msg(alice, "Adjust Columns", nil))

	const n = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[Outcome]int{}
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Handle(context.Background(), CommandHere, msg(alice, "Here", next))
			if err != nil {
				t.Errorf("handle: %v", err)
				return
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, map[Outcome]int{OutcomeTemplateUpdated: 1, OutcomeHereWithoutRequest: n - 1}, outcomes)
	backups, err := store.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	require.Equal(t, next, store.GetActive().Data)
}
