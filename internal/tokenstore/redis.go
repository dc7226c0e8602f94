package tokenstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/crypto/pbkdf2"
)

// pbkdfSalt and pbkdfIterations are fixed so the same passphrase always
// derives the same key across process restarts; changing either value
// invalidates every record already written to Redis.
var pbkdfSalt = []byte("redactgw-tokenmap-salt-v1")

const pbkdfIterations = 100_000

// redisCmdable is the slice of the go-redis client this backend needs. The
// narrow interface (rather than depending on *redis.Client directly) keeps
// the backend testable against a fake without pulling in a full miniredis
// dependency.
type redisCmdable interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	SetEX(ctx context.Context, key string, value interface{}, ttl time.Duration) *goredis.StatusCmd
	TTL(ctx context.Context, key string) *goredis.DurationCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Close() error
}

// redisBackend is the remote, encrypted TokenMap backend. Each handle is one
// Redis record at key "tokenmap:{handle}", holding AES-256-GCM-encrypted
// JSON: a 12-byte random nonce, the ciphertext, and a 16-byte tag, in that
// order. TTL is enforced natively by Redis; Put preserves the remaining TTL
// on re-encrypt-and-write.
type redisBackend struct {
	client redisCmdable
	aead   cipher.AEAD
}

// NewRedisBackend connects to Redis at addr and derives the AES-256-GCM key
// from passphrase via PBKDF2-HMAC-SHA256.
func NewRedisBackend(addr, password string, db int, passphrase string) (Backend, error) {
	if passphrase == "" {
		return nil, errors.New("tokenstore: redis backend requires a non-empty encryption passphrase")
	}
	key := pbkdf2.Key([]byte(passphrase), pbkdfSalt, pbkdfIterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: derive AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("tokenstore: derive GCM AEAD: %w", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	return &redisBackend{client: client, aead: aead}, nil
}

func recordKey(handle string) string { return "tokenmap:" + handle }

func (b *redisBackend) encrypt(rec mirrorRecord) (string, error) {
	plaintext, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, b.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := b.aead.Seal(nonce, nonce, plaintext, nil)
	return string(sealed), nil
}

func (b *redisBackend) decrypt(raw string) (mirrorRecord, error) {
	data := []byte(raw)
	nonceSize := b.aead.NonceSize()
	if len(data) < nonceSize {
		return mirrorRecord{}, errors.New("tokenstore: corrupt record (too short)")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := b.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return mirrorRecord{}, fmt.Errorf("tokenstore: decrypt record: %w", err)
	}
	var rec mirrorRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return mirrorRecord{}, err
	}
	return rec, nil
}

func (b *redisBackend) Create(ctx context.Context, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	handle, err := NewHandle()
	if err != nil {
		return "", err
	}
	sealed, err := b.encrypt(mirrorRecord{KV: map[string]Entry{}, Created: time.Now(), TTLSecs: ttl.Seconds()})
	if err != nil {
		return "", err
	}
	if err := b.client.SetEX(ctx, recordKey(handle), sealed, ttl).Err(); err != nil {
		return "", fmt.Errorf("tokenstore: create handle: %w", err)
	}
	return handle, nil
}

func (b *redisBackend) Put(ctx context.Context, handle, placeholder string, entry Entry) error {
	key := recordKey(handle)
	raw, err := b.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return ErrHandleNotFound
	}
	if err != nil {
		return fmt.Errorf("tokenstore: read handle: %w", err)
	}
	rec, err := b.decrypt(raw)
	if err != nil {
		return err
	}

	remaining, err := b.client.TTL(ctx, key).Result()
	if err != nil || remaining <= 0 {
		remaining = DefaultTTL
	}

	if rec.KV == nil {
		rec.KV = map[string]Entry{}
	}
	rec.KV[placeholder] = entry

	sealed, err := b.encrypt(rec)
	if err != nil {
		return err
	}
	if err := b.client.SetEX(ctx, key, sealed, remaining).Err(); err != nil {
		return fmt.Errorf("tokenstore: write handle: %w", err)
	}
	return nil
}

func (b *redisBackend) Get(ctx context.Context, handle, placeholder string) (Entry, bool, error) {
	all, err := b.loadHandle(ctx, handle)
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := all[placeholder]
	return entry, ok, nil
}

func (b *redisBackend) All(ctx context.Context, handle string) (map[string]Entry, error) {
	return b.loadHandle(ctx, handle)
}

func (b *redisBackend) loadHandle(ctx context.Context, handle string) (map[string]Entry, error) {
	raw, err := b.client.Get(ctx, recordKey(handle)).Result()
	if errors.Is(err, goredis.Nil) {
		return map[string]Entry{}, nil // expired or unknown: behaves as empty
	}
	if err != nil {
		return nil, fmt.Errorf("tokenstore: read handle: %w", err)
	}
	rec, err := b.decrypt(raw)
	if err != nil {
		return nil, err
	}
	if rec.KV == nil {
		return map[string]Entry{}, nil
	}
	return rec.KV, nil
}

// Cleanup is a no-op: Redis enforces TTL natively via SETEX.
func (b *redisBackend) Cleanup(_ context.Context) error { return nil }

func (b *redisBackend) Close() error { return b.client.Close() }
