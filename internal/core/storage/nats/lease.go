package nats

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/catalog/internal/core/kv"
	"github.com/syntrixbase/catalog/internal/core/meta"
)

var _ kv.Leaser = (*KV)(nil)

// AcquireLease creates the lease key, or overwrites it at the revision it was
// read at when the stored lease is ours or expired. Losing either race means
// another node holds the lease.
func (s *KV) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()
	value, err := json.Marshal(kv.Lease{Holder: holder, Expires: now.Add(ttl).UnixMicro()})
	if err != nil {
		return false, err
	}
	bucketKey := EncodeKey(key)

	entry, err := s.bucket.Get(ctx, bucketKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		if _, err := s.bucket.Create(ctx, bucketKey, value); err != nil {
			if isRevisionConflict(err) {
				return false, nil
			}
			return false, meta.WrapBackend(backendName, "acquire_lease", err)
		}
		return true, nil
	}
	if err != nil {
		return false, meta.WrapBackend(backendName, "acquire_lease", err)
	}

	var cur kv.Lease
	if err := json.Unmarshal(entry.Value(), &cur); err != nil {
		s.logger.Warn("Overwriting unreadable lease", "key", key, "error", err)
	} else if !cur.Available(holder, now) {
		return false, nil
	}
	if _, err := s.bucket.Update(ctx, bucketKey, value, entry.Revision()); err != nil {
		if isRevisionConflict(err) {
			return false, nil
		}
		return false, meta.WrapBackend(backendName, "acquire_lease", err)
	}
	return true, nil
}

// ReleaseLease deletes the lease key at the revision holder wrote, so a lease
// taken over after expiry is left alone.
func (s *KV) ReleaseLease(ctx context.Context, key, holder string) error {
	bucketKey := EncodeKey(key)
	entry, err := s.bucket.Get(ctx, bucketKey)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return meta.WrapBackend(backendName, "release_lease", err)
	}
	var cur kv.Lease
	if err := json.Unmarshal(entry.Value(), &cur); err != nil || cur.Holder != holder {
		return nil
	}
	err = s.bucket.Delete(ctx, bucketKey, jetstream.LastRevision(entry.Revision()))
	if err != nil && !isRevisionConflict(err) {
		return meta.WrapBackend(backendName, "release_lease", err)
	}
	return nil
}

// isRevisionConflict reports a failed compare-and-set on the key revision.
func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}
