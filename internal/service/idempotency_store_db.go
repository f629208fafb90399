package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/draftpulse/contest-payments/internal/domain"
)

// DBIdempotencyStore keeps idempotency state in the relational store. It is
// the fallback when Redis is disabled; expired rows are reaped by
// CleanupExpired rather than a TTL.
type DBIdempotencyStore struct {
	db *gorm.DB
}

func NewDBIdempotencyStore(db *gorm.DB) *DBIdempotencyStore {
	return &DBIdempotencyStore{db: db}
}

func (s *DBIdempotencyStore) Begin(ctx context.Context, scope, key, fingerprint string, ttl time.Duration) (IdempotencyBeginResult, error) {
	now := time.Now().UTC()
	var result IdempotencyBeginResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec domain.IdempotencyRecord
		err := tx.Where("scope = ? AND idempotency_key = ?", scope, key).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			rec = domain.IdempotencyRecord{
				Scope:           scope,
				IdempotencyKey:  key,
				FingerprintHash: fingerprint,
				Status:          "new",
				ExpiresAt:       now.Add(ttl),
			}
			if cerr := tx.Create(&rec).Error; cerr != nil {
				if isUniqueViolationErr(cerr) {
					result = IdempotencyBeginResult{State: IdempotencyStateInProgress}
					return nil
				}
				return cerr
			}
			result = IdempotencyBeginResult{State: IdempotencyStateNew}
			return nil
		}
		if err != nil {
			return err
		}

		if now.After(rec.ExpiresAt) {
			updates := map[string]any{
				"fingerprint_hash": fingerprint,
				"status":           "new",
				"response_status":  0,
				"response_body":    []byte(nil),
				"content_type":     "",
				"expires_at":       now.Add(ttl),
			}
			if uerr := tx.Model(&rec).Updates(updates).Error; uerr != nil {
				return uerr
			}
			result = IdempotencyBeginResult{State: IdempotencyStateNew}
			return nil
		}
		if rec.FingerprintHash != fingerprint {
			result = IdempotencyBeginResult{State: IdempotencyStateConflict}
			return nil
		}
		if rec.Status == "completed" {
			result = IdempotencyBeginResult{
				State: IdempotencyStateReplay,
				Cached: &CachedHTTPResponse{
					StatusCode:  rec.ResponseStatus,
					ContentType: rec.ContentType,
					Body:        rec.ResponseBody,
				},
			}
			return nil
		}
		result = IdempotencyBeginResult{State: IdempotencyStateInProgress}
		return nil
	})
	if err != nil {
		return IdempotencyBeginResult{}, err
	}
	return result, nil
}

func (s *DBIdempotencyStore) Complete(ctx context.Context, scope, key, fingerprint string, response CachedHTTPResponse, ttl time.Duration) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).
		Model(&domain.IdempotencyRecord{}).
		Where("scope = ? AND idempotency_key = ? AND fingerprint_hash = ?", scope, key, fingerprint).
		Updates(map[string]any{
			"status":          "completed",
			"response_status": response.StatusCode,
			"response_body":   response.Body,
			"content_type":    response.ContentType,
			"expires_at":      now.Add(ttl),
		}).Error
}

// CleanupExpired deletes at most batchSize rows that expired before cutoff
// and returns how many were removed.
func (s *DBIdempotencyStore) CleanupExpired(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	var ids []uint
	err := s.db.WithContext(ctx).
		Model(&domain.IdempotencyRecord{}).
		Where("expires_at < ?", cutoff).
		Order("id asc").
		Limit(batchSize).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Delete(&domain.IdempotencyRecord{}, ids)
	return res.RowsAffected, res.Error
}

func isUniqueViolationErr(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "constraint failed")
}
