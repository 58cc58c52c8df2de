package kv

import (
	"context"
	"time"
)

// Lease is the value stored under a lease key.
type Lease struct {
	Holder string `json:"holder"`
	// Expires is in unix microseconds.
	Expires int64 `json:"expires"`
}

// Available reports whether holder may take or renew the lease at now.
func (l Lease) Available(holder string, now time.Time) bool {
	return l.Holder == holder || now.UnixMicro() >= l.Expires
}

// Leaser grants exclusive, expiring ownership of a key. Coordinators shared by
// several nodes implement it with a compare-and-set on the key revision.
type Leaser interface {
	// AcquireLease takes or renews key for holder until ttl elapses. It
	// returns false, without error, while another holder owns a live lease.
	AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	// ReleaseLease drops key if holder still owns it.
	ReleaseLease(ctx context.Context, key, holder string) error
}

var _ Leaser = (*Store)(nil)

// AcquireLease uses the backend's leases when it has them. Otherwise leases
// live in this Store and only exclude callers sharing it, which is every
// caller in local mode.
func (s *Store) AcquireLease(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	if l, ok := s.backend.(Leaser); ok {
		ok, err := l.AcquireLease(ctx, key, holder, ttl)
		s.observe("acquire_lease", err)
		return ok, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()
	now := time.Now()
	if cur, ok := s.leases[key]; ok && !cur.Available(holder, now) {
		return false, nil
	}
	s.leases[key] = Lease{Holder: holder, Expires: now.Add(ttl).UnixMicro()}
	return true, nil
}

func (s *Store) ReleaseLease(ctx context.Context, key, holder string) error {
	if l, ok := s.backend.(Leaser); ok {
		err := l.ReleaseLease(ctx, key, holder)
		s.observe("release_lease", err)
		return err
	}

	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()
	if cur, ok := s.leases[key]; ok && cur.Holder == holder {
		delete(s.leases, key)
	}
	return nil
}
