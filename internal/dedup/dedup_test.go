package dedup

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeDedupStore struct {
	seen map[string]time.Time
	err  error
}

func (f *fakeDedupStore) Insert(_ context.Context, key, messageID string, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	k := key + "|" + messageID
	if exp, ok := f.seen[k]; ok && time.Now().Before(exp) {
		return false, nil
	}
	f.seen[k] = time.Now().Add(ttl)
	return true, nil
}

func (f *fakeDedupStore) PurgeExpired(context.Context) (int64, error) { return 0, nil }

func TestIsDuplicate(t *testing.T) {
	st := &fakeDedupStore{seen: make(map[string]time.Time)}
	d := New(st, 120*time.Second)
	ctx := context.Background()

	dup, err := d.IsDuplicate(ctx, "wamid.1", "919876543210")
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("first delivery reported as duplicate")
	}

	dup, err = d.IsDuplicate(ctx, "wamid.1", "919876543210")
	if err != nil {
		t.Fatal(err)
	}
	if !dup {
		t.Error("second delivery not reported as duplicate")
	}

	// Same id under a different conversation key is not a duplicate.
	dup, err = d.IsDuplicate(ctx, "wamid.1", "918888888888")
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("different conversation key reported as duplicate")
	}
}

func TestIsDuplicate_StoreError(t *testing.T) {
	wantErr := errors.New("connection refused")
	d := New(&fakeDedupStore{err: wantErr}, time.Minute)

	_, err := d.IsDuplicate(context.Background(), "wamid.1", "1")
	if !errors.Is(err, wantErr) {
		t.Errorf("error = %v, want wrapped %v", err, wantErr)
	}
}
