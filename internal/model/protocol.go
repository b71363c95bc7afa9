package model

import "time"

// UpdateState 模板更新会话状态
type UpdateState string

const (
	StateIdle     UpdateState = "idle"
	StateAwaiting UpdateState = "awaiting_modified_template"
)

// PendingUpdateRequest 某个请求人进行中的模板更新会话
type PendingUpdateRequest struct {
	Requester string      `json:"requester"`
	State     UpdateState `json:"state"`
	UpdatedAt time.Time   `json:"updatedAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

// Expired 会话是否已超时
func (p PendingUpdateRequest) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// ProcessingLog 单封邮件的处理记录
type ProcessingLog struct {
	ID          int64     `json:"id"`
	MessageID   string    `json:"messageId"`
	Sender      string    `json:"sender"`
	Subject     string    `json:"subject"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Rows        int       `json:"rows"`
	Missing     int       `json:"missing"`
	Extra       int       `json:"extra"`
	Artifact    string    `json:"artifact,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}
