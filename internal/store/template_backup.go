package store

import (
	"context"
	"fmt"

	"magpipeline/internal/model"
)

// RecordTemplateBackup 登记模板备份
func (s *Store) RecordTemplateBackup(ctx context.Context, b model.TemplateBackup) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO template_backups (key, path, size, sha256, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, b.Key, b.Path, b.Size, b.SHA256, formatTime(b.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to record template backup: %w", err)
	}
	return nil
}

// ListTemplateBackups 按键升序（即创建顺序）返回备份登记
func (s *Store) ListTemplateBackups(ctx context.Context) ([]model.TemplateBackup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, path, size, sha256, created_at FROM template_backups ORDER BY key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list template backups: %w", err)
	}
	defer rows.Close()

	out := []model.TemplateBackup{}
	for rows.Next() {
		var b model.TemplateBackup
		var createdAt string
		if err := rows.Scan(&b.Key, &b.Path, &b.Size, &b.SHA256, &createdAt); err != nil {
			return nil, err
		}
		b.CreatedAt = parseTime(createdAt)
		out = append(out, b)
	}
	return out, rows.Err()
}
