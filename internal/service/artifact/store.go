package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Kind 产物类别（对应 data 下的子目录）
type Kind string

const (
	KindInput  Kind = "inputs"
	KindOutput Kind = "outputs"
)

// ErrNotFound 产物不存在
var ErrNotFound = errors.New("artifact not found")

// Store 产物存储
type Store interface {
	Put(ctx context.Context, kind Kind, name string, data []byte) (string, error)
	Get(ctx context.Context, handle string) ([]byte, error)
}

// FSStore 文件系统实现：句柄为 "<kind>/<id>_<name>"
type FSStore struct {
	root string
}

// NewFSStore 创建文件存储
func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("artifact root is empty")
	}
	for _, k := range []Kind{KindInput, KindOutput} {
		if err := os.MkdirAll(filepath.Join(root, string(k)), 0755); err != nil {
			return nil, fmt.Errorf("create artifact dir: %w", err)
		}
	}
	return &FSStore{root: root}, nil
}

// Put 写入产物，返回句柄
func (s *FSStore) Put(_ context.Context, kind Kind, name string, data []byte) (string, error) {
	if kind != KindInput && kind != KindOutput {
		return "", fmt.Errorf("unknown artifact kind %q", kind)
	}
	base := sanitizeName(name)
	handle := string(kind) + "/" + uuid.NewString()[:8] + "_" + base
	path := filepath.Join(s.root, filepath.FromSlash(handle))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return handle, nil
}

// Get 按句柄读取
func (s *FSStore) Get(_ context.Context, handle string) ([]byte, error) {
	path, err := s.Path(handle)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, handle)
		}
		return nil, err
	}
	return data, nil
}

// Path 句柄对应的文件路径；拒绝越出存储根目录的句柄
func (s *FSStore) Path(handle string) (string, error) {
	kind, name, ok := strings.Cut(handle, "/")
	if !ok || (Kind(kind) != KindInput && Kind(kind) != KindOutput) || name == "" || name != sanitizeName(name) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, handle)
	}
	return filepath.Join(s.root, kind, name), nil
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." {
		return "artifact"
	}
	return name
}
