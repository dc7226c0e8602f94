package tokenstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/pbkdf2"

	"redactgw/internal/redact"
)

// fakeRedis is a minimal in-memory stand-in for redisCmdable, grounded on
// the same narrow-interface-over-go-redis style used elsewhere in the
// example pack's rate limiter. It is sufficient to exercise redisBackend's
// encryption and TTL-preservation logic without a live Redis server.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Time
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Time{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := goredis.NewStringCmd(context.Background())
	if exp, ok := f.ttls[key]; ok && time.Now().After(exp) {
		delete(f.values, key)
		delete(f.ttls, key)
	}
	v, ok := f.values[key]
	if !ok {
		cmd.SetErr(goredis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (f *fakeRedis) SetEX(_ context.Context, key string, value interface{}, ttl time.Duration) *goredis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value.(string)
	f.ttls[key] = time.Now().Add(ttl)
	cmd := goredis.NewStatusCmd(context.Background())
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) TTL(_ context.Context, key string) *goredis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := goredis.NewDurationCmd(context.Background(), time.Second)
	if exp, ok := f.ttls[key]; ok {
		cmd.SetVal(time.Until(exp))
	} else {
		cmd.SetVal(-2 * time.Second)
	}
	return cmd
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := goredis.NewIntCmd(context.Background())
	n := int64(0)
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			delete(f.ttls, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeRedis) Close() error { return nil }

func newTestRedisBackend(t *testing.T) *redisBackend {
	t.Helper()
	key := pbkdf2.Key([]byte("test-passphrase"), pbkdfSalt, pbkdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatal(err)
	}
	return &redisBackend{client: newFakeRedis(), aead: aead}
}

func TestRedisBackend_CreatePutGet(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	handle, err := b.Create(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Put(ctx, handle, "«token:PII:ab12»", Entry{Raw: "john@x.io", Category: redact.CategoryPII}); err != nil {
		t.Fatal(err)
	}

	entry, ok, err := b.Get(ctx, handle, "«token:PII:ab12»")
	if err != nil || !ok || entry.Raw != "john@x.io" {
		t.Errorf("Get: got (%+v, %v, %v)", entry, ok, err)
	}
}

func TestRedisBackend_RecordIsEncryptedAtRest(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	handle, err := b.Create(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Put(ctx, handle, "p", Entry{Raw: "very-secret-raw-value", Category: redact.CategoryPII}); err != nil {
		t.Fatal(err)
	}

	raw := b.client.(*fakeRedis).values[recordKey(handle)]
	if containsSubstring(raw, "very-secret-raw-value") {
		t.Error("raw value found unencrypted in backing store")
	}
}

func containsSubstring(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func TestRedisBackend_PutPreservesRemainingTTL(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	handle, err := b.Create(ctx, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	fr := b.client.(*fakeRedis)
	before := fr.ttls[recordKey(handle)]

	if err := b.Put(ctx, handle, "p", Entry{Raw: "x", Category: redact.CategoryPII}); err != nil {
		t.Fatal(err)
	}
	after := fr.ttls[recordKey(handle)]

	delta := after.Sub(before)
	if delta > 2*time.Second || delta < -2*time.Second {
		t.Errorf("TTL drifted by %v across Put, want ~unchanged", delta)
	}
}

func TestRedisBackend_UnknownHandleBehavesEmpty(t *testing.T) {
	b := newTestRedisBackend(t)
	all, err := b.All(context.Background(), "nonexistent")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 0 {
		t.Errorf("got %+v, want empty", all)
	}
}

func TestRedisBackend_PutOnUnknownHandleErrors(t *testing.T) {
	b := newTestRedisBackend(t)
	err := b.Put(context.Background(), "nonexistent", "p", Entry{Raw: "x", Category: redact.CategoryPII})
	if err != ErrHandleNotFound {
		t.Errorf("got %v, want ErrHandleNotFound", err)
	}
}
