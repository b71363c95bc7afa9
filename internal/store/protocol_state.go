package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"magpipeline/internal/model"
)

// GetProtocolState 读取请求人的模板更新会话
func (s *Store) GetProtocolState(ctx context.Context, requester string) (model.PendingUpdateRequest, bool, error) {
	var state, updatedAt, expiresAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT state, updated_at, expires_at FROM protocol_states WHERE requester = ?
	`, requester).Scan(&state, &updatedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PendingUpdateRequest{}, false, nil
		}
		return model.PendingUpdateRequest{}, false, fmt.Errorf("failed to get protocol state: %w", err)
	}
	return model.PendingUpdateRequest{
		Requester: requester,
		State:     model.UpdateState(state),
		UpdatedAt: parseTime(updatedAt),
		ExpiresAt: parseTime(expiresAt),
	}, true, nil
}

// SaveProtocolState 写入（覆盖）请求人的模板更新会话
func (s *Store) SaveProtocolState(ctx context.Context, p model.PendingUpdateRequest) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO protocol_states (requester, state, updated_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(requester) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`, p.Requester, string(p.State), formatTime(p.UpdatedAt), formatTime(p.ExpiresAt))
	if err != nil {
		return fmt.Errorf("failed to save protocol state: %w", err)
	}
	return nil
}

// DeleteProtocolState 清除会话（回到 Idle）
func (s *Store) DeleteProtocolState(ctx context.Context, requester string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM protocol_states WHERE requester = ?`, requester); err != nil {
		return fmt.Errorf("failed to delete protocol state: %w", err)
	}
	return nil
}
