package template

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"magpipeline/internal/exporter"
	"magpipeline/internal/model"
)

type recordingIndex struct {
	mu      sync.Mutex
	backups []model.TemplateBackup
}

func (r *recordingIndex) RecordTemplateBackup(_ context.Context, b model.TemplateBackup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backups = append(r.backups, b)
	return nil
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func openTestStore(t *testing.T, now func() time.Time) (*Store, Options) {
	t.Helper()
	dir := t.TempDir()
	opts := Options{
		Dir:       filepath.Join(dir, "templates"),
		BackupDir: filepath.Join(dir, "backups"),
		Layout:    LayoutOptions{Sheet: "Pipeline", HeaderRow: 4, DataRow: 5, FirstColumn: 2, BaseYear: 2025},
		Now:       now,
	}
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s, opts
}

// candidate 在内置模板末尾追加一列
func candidate(t *testing.T, extraHeader string) []byte {
	t.Helper()
	wb, err := exporter.NewDefaultTemplateWorkbook(exporter.TemplateOptions{Year: 2025})
	if err != nil {
		t.Fatalf("build template: %v", err)
	}
	defer wb.Close()
	if extraHeader != "" {
		cols, err := wb.GetCols("Pipeline")
		require.NoError(t, err)
		cell, _ := excelize.CoordinatesToCellName(len(cols)+1, 4)
		require.NoError(t, wb.SetCellStr("Pipeline", cell, extraHeader))
	}
	buf, err := wb.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestOpen_SeedsDefaultTemplate(t *testing.T) {
	s, opts := openTestStore(t, nil)

	active := s.GetActive()
	require.NotNil(t, active)
	require.Equal(t, "Pipeline", active.Layout.Sheet)
	require.NotEmpty(t, active.Schema.Fields)
	require.FileExists(t, filepath.Join(opts.Dir, activeFileName))

	backups, err := s.ListBackups()
	require.NoError(t, err)
	require.Empty(t, backups)
}

func TestOpen_SeedsFromConfiguredPath(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "seed.xlsx")
	require.NoError(t, os.WriteFile(seed, candidate(t, "Notes"), 0644))

	dir := t.TempDir()
	s, err := Open(Options{Dir: dir, SeedPath: seed, Layout: DefaultLayoutOptions()})
	require.NoError(t, err)

	_, ok := s.GetActive().Schema.Field("Notes")
	require.True(t, ok)
}

func TestReplaceActive_WritesBackupAndSwaps(t *testing.T) {
	idx := &recordingIndex{}
	dir := t.TempDir()
	s, err := Open(Options{Dir: dir, Index: idx, Layout: DefaultLayoutOptions(), Now: fixedClock(time.Date(2025, 8, 12, 15, 54, 19, 0, time.Local))})
	require.NoError(t, err)
	before := s.GetActive()

	handle, err := s.ReplaceActive(context.Background(), candidate(t, "Notes"))
	require.NoError(t, err)
	require.Equal(t, "template_backup_20250812_155419", handle.Key)
	require.Equal(t, int64(len(before.Data)), handle.Size)

	after := s.GetActive()
	require.NotEqual(t, before.Version, after.Version)
	_, ok := after.Schema.Field("Notes")
	require.True(t, ok)

	saved, err := s.GetBackup(handle.Key)
	require.NoError(t, err)
	require.Equal(t, before.Data, saved)

	onDisk, err := os.ReadFile(filepath.Join(dir, activeFileName))
	require.NoError(t, err)
	require.Equal(t, after.Data, onDisk)
	require.NoFileExists(t, filepath.Join(dir, activeFileName+".tmp"))

	require.Len(t, idx.backups, 1)
	require.Equal(t, handle.Key, idx.backups[0].Key)
}

func TestReplaceActive_FailedWriteLeavesNoBackup(t *testing.T) {
	s, opts := openTestStore(t, nil)
	before := s.GetActive()

	blocker := filepath.Join(opts.Dir, activeFileName+".tmp")
	require.NoError(t, os.Mkdir(blocker, 0755))

	_, err := s.ReplaceActive(context.Background(), candidate(t, "Notes"))
	require.Error(t, err)
	require.Equal(t, before.Version, s.GetActive().Version)
	backups, err := s.ListBackups()
	require.NoError(t, err)
	require.Empty(t, backups)

	require.NoError(t, os.Remove(blocker))
	_, err = s.ReplaceActive(context.Background(), candidate(t, "Notes"))
	require.NoError(t, err)
	backups, err = s.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 1)
}

func TestReplaceActive_InvalidCandidateChangesNothing(t *testing.T) {
	s, _ := openTestStore(t, nil)
	before := s.GetActive()

	_, err := s.ReplaceActive(context.Background(), []byte("not a workbook"))
	if !errors.Is(err, ErrTemplateInvalid) {
		t.Fatalf("expected ErrTemplateInvalid, got %v", err)
	}
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	require.NotEmpty(t, verr.Reasons)

	require.Same(t, before, s.GetActive())
	backups, err := s.ListBackups()
	require.NoError(t, err)
	require.Empty(t, backups)
}

func TestValidate_Rejections(t *testing.T) {
	s, _ := openTestStore(t, nil)

	build := func(headers ...string) []byte {
		wb := excelize.NewFile()
		defer wb.Close()
		require.NoError(t, wb.SetSheetName("Sheet1", "Pipeline"))
		for i, h := range headers {
			cell, _ := excelize.CoordinatesToCellName(i+2, 4)
			require.NoError(t, wb.SetCellStr("Pipeline", cell, h))
		}
		buf, err := wb.WriteToBuffer()
		require.NoError(t, err)
		return buf.Bytes()
	}

	cases := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "duplicate after normalization", data: build("Stage", "Opportunity Name", "opportunity-name")},
		{name: "calendar only", data: build("Q1 2025", "Q2 2025")},
		{name: "no header", data: build()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Validate(tc.data)
			if !errors.Is(err, ErrTemplateInvalid) {
				t.Fatalf("expected ErrTemplateInvalid, got %v", err)
			}
		})
	}

	wb := excelize.NewFile()
	defer wb.Close()
	_, err := wb.NewSheet("Other")
	require.NoError(t, err)
	buf, err := wb.WriteToBuffer()
	require.NoError(t, err)
	_, err = s.Validate(buf.Bytes())
	require.ErrorIs(t, err, ErrTemplateInvalid, "multi-sheet workbook without the template sheet")
}

func TestReplaceActive_BackupKeysStrictlyIncrease(t *testing.T) {
	clock := time.Date(2025, 8, 12, 15, 22, 30, 0, time.Local)
	var mu sync.Mutex
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}
	s, opts := openTestStore(t, now)

	var keys []string
	for i := 0; i < 3; i++ {
		h, err := s.ReplaceActive(context.Background(), candidate(t, "Notes"+string(rune('A'+i))))
		require.NoError(t, err)
		keys = append(keys, h.Key)
	}
	require.Equal(t, []string{
		"template_backup_20250812_152230",
		"template_backup_20250812_152230_001",
		"template_backup_20250812_152230_002",
	}, keys)

	// 时钟回拨仍然递增
	mu.Lock()
	clock = clock.Add(-time.Hour)
	mu.Unlock()
	h, err := s.ReplaceActive(context.Background(), candidate(t, "Rollback"))
	require.NoError(t, err)
	require.Equal(t, "template_backup_20250812_152230_003", h.Key)

	// 重新打开后继续递增
	reopened, err := Open(opts)
	require.NoError(t, err)
	h, err = reopened.ReplaceActive(context.Background(), candidate(t, "Reopened"))
	require.NoError(t, err)
	require.Equal(t, "template_backup_20250812_152230_004", h.Key)

	backups, err := reopened.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 5)
	for i := 1; i < len(backups); i++ {
		require.True(t, lessBackup(backups[i-1].Key, backups[i].Key), "%s before %s", backups[i-1].Key, backups[i].Key)
	}
}

func TestReplaceActive_ConcurrentReadersSeeWholeTemplates(t *testing.T) {
	s, _ := openTestStore(t, nil)
	candidates := [][]byte{candidate(t, "NotesA"), candidate(t, "NotesB"), candidate(t, "NotesC")}

	stop := make(chan struct{})
	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				tmpl := s.GetActive()
				sum := sha256.Sum256(tmpl.Data)
				if hex.EncodeToString(sum[:]) != tmpl.Version {
					errs <- errors.New("template data does not match its version")
					return
				}
			}
		}()
	}

	for i := 0; i < 6; i++ {
		_, err := s.ReplaceActive(context.Background(), candidates[i%len(candidates)])
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestGetBackup_RejectsUnknownKeys(t *testing.T) {
	s, _ := openTestStore(t, nil)

	for _, key := range []string{"../templates/active", "template_backup_20250101_000000", ""} {
		_, err := s.GetBackup(key)
		require.ErrorIs(t, err, ErrBackupNotFound, key)
	}
}

func TestRefresh_RederivesSchema(t *testing.T) {
	s, _ := openTestStore(t, nil)
	before := s.GetActive()

	require.NoError(t, s.Refresh())
	after := s.GetActive()
	require.NotSame(t, before, after)
	require.Equal(t, before.Version, after.Version)
}
