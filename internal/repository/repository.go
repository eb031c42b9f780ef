// Package repository persists dialog state for the chat channel across
// restarts, with redis as primary and an in-memory fallback.
package repository

import (
	"context"
	"time"

	"casitas/internal/session"
)

// DialogState is the serializable snapshot of one requester's dialog.
type DialogState struct {
	RequesterID int64         `json:"requester_id"`
	State       session.State `json:"state"`
	Data        session.Data  `json:"data"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// StateRepository stores dialog state snapshots.
type StateRepository interface {
	GetState(ctx context.Context, requesterID int64) (*DialogState, error)
	SetState(ctx context.Context, state *DialogState) error
	ClearState(ctx context.Context, requesterID int64) error
}
