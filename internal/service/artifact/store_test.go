package artifact

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFSStore_PutGet(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	h, err := s.Put(ctx, KindOutput, "Pipeline_GanttChart_20250812_155419.xlsx", []byte("xlsx"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(h, "outputs/"))
	require.True(t, strings.HasSuffix(h, "_Pipeline_GanttChart_20250812_155419.xlsx"))

	data, err := s.Get(ctx, h)
	require.NoError(t, err)
	require.Equal(t, []byte("xlsx"), data)

	h2, err := s.Put(ctx, KindOutput, "Pipeline_GanttChart_20250812_155419.xlsx", []byte("other"))
	require.NoError(t, err)
	require.NotEqual(t, h, h2)
}

func TestFSStore_RejectsBadInput(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Put(ctx, "secrets", "a.xlsx", nil)
	require.Error(t, err)

	h, err := s.Put(ctx, KindInput, "../../etc/passwd", []byte("x"))
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(h, "_passwd"))

	for _, handle := range []string{"inputs/../outputs/x", "outputs/", "nope", "inputs/missing.xlsx"} {
		_, err := s.Get(ctx, handle)
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("Get(%q) = %v, want ErrNotFound", handle, err)
		}
	}
}
