package store

import (
	"context"
	"fmt"

	"magpipeline/internal/model"
)

// CreateProcessingLog 创建处理记录，返回 id
func (s *Store) CreateProcessingLog(ctx context.Context, l model.ProcessingLog) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processing_logs (message_id, sender, subject, kind, status, created_at)
		VALUES (?, ?, ?, ?, 'processing', ?)
	`, l.MessageID, l.Sender, l.Subject, l.Kind, formatTime(l.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to create processing log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get processing log id: %w", err)
	}
	return id, nil
}

// UpdateProcessingLog 完成处理记录
func (s *Store) UpdateProcessingLog(ctx context.Context, l model.ProcessingLog) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE processing_logs SET
			kind = ?,
			status = ?,
			row_count = ?,
			missing = ?,
			extra = ?,
			artifact = ?,
			error_message = ?,
			completed_at = ?
		WHERE id = ?
	`, l.Kind, l.Status, l.Rows, l.Missing, l.Extra, l.Artifact, l.Error, formatTime(l.CompletedAt), l.ID)
	if err != nil {
		return fmt.Errorf("failed to update processing log: %w", err)
	}
	return nil
}

// ListProcessingLogs 最近的处理记录（新在前）
func (s *Store) ListProcessingLogs(ctx context.Context, limit int) ([]model.ProcessingLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, sender, subject, kind, status, row_count, missing, extra, artifact, error_message, created_at, completed_at
		FROM processing_logs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list processing logs: %w", err)
	}
	defer rows.Close()

	out := []model.ProcessingLog{}
	for rows.Next() {
		var l model.ProcessingLog
		var createdAt, completedAt string
		if err := rows.Scan(&l.ID, &l.MessageID, &l.Sender, &l.Subject, &l.Kind, &l.Status,
			&l.Rows, &l.Missing, &l.Extra, &l.Artifact, &l.Error, &createdAt, &completedAt); err != nil {
			return nil, err
		}
		l.CreatedAt = parseTime(createdAt)
		l.CompletedAt = parseTime(completedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}
