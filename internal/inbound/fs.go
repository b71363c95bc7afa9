package inbound

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"magpipeline/internal/model"
)

func ensureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// writeMessageAtomic 先写 .part 并落盘再改名；Fetch 只识别 .json/.eml，不会读到半个文件
func writeMessageAtomic(path string, msg model.InboundMessage) error {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return err
	}
	data, err := json.MarshalIndent(msg, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func requireDir(dir string) error {
	if dir == "" {
		return errors.New("inbox dir is empty")
	}
	return nil
}
