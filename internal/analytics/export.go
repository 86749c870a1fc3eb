package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/pkg/storage"
)

// Exports locates settlement exports written by the worker.
type Exports interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	GeneratePresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	ReportsBucket() string
	PresignExpire() time.Duration
}

// SettlementLink is a time-limited download link to a session's settlement export.
type SettlementLink struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SetExports enables settlement download links.
func (r *Reporter) SetExports(e Exports) {
	r.exports = e
}

// SettlementLink returns a download link to an ended session's export once the worker wrote it.
func (r *Reporter) SettlementLink(ctx context.Context, teacherID, sessionID uuid.UUID) (*SettlementLink, error) {
	if r.exports == nil {
		return nil, apperr.ErrNotFound.With("settlement exports are not configured")
	}
	sess, err := r.owned(ctx, teacherID, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Ended() || sess.EndedAt == nil {
		return nil, apperr.ErrNotFound.With("session has not ended")
	}
	bucket := r.exports.ReportsBucket()
	key := storage.SettlementKey(sess.ID.String(), *sess.EndedAt)
	ok, err := r.exports.Exists(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("check settlement export: %w", err)
	}
	if !ok {
		return nil, apperr.ErrNotFound.With("settlement export not ready")
	}
	expires := r.exports.PresignExpire()
	url, err := r.exports.GeneratePresignedDownloadURL(ctx, bucket, key, expires)
	if err != nil {
		return nil, err
	}
	return &SettlementLink{Key: key, URL: url, ExpiresAt: time.Now().Add(expires)}, nil
}
