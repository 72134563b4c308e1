package credential

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

func TestCipherRoundTrip(t *testing.T) {
	c := testCipher(t)
	plaintext := []byte(`{"user":"ada","password":"s3cret"}`)

	encrypted, err := c.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotContains(t, string(encrypted), "s3cret")

	decrypted, err := c.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestCipherRandomIV(t *testing.T) {
	c := testCipher(t)
	a, err := c.Encrypt([]byte("same input"))
	require.NoError(t, err)
	b, err := c.Encrypt([]byte("same input"))
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a, b))
}

func TestCipherRejectsMalformed(t *testing.T) {
	c := testCipher(t)
	_, err := c.Decrypt([]byte("short"))
	assert.Error(t, err)

	encrypted, err := c.Encrypt([]byte("payload"))
	require.NoError(t, err)
	encrypted[len(encrypted)-1] ^= 0xff
	_, err = c.Decrypt(encrypted)
	assert.Error(t, err)
}

func TestNewCipherFromHex(t *testing.T) {
	_, err := NewCipherFromHex("not-hex")
	assert.Error(t, err)
	_, err = NewCipherFromHex("abcd")
	assert.Error(t, err)
	_, err = NewCipherFromHex("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	assert.NoError(t, err)
}

type fakeStore struct {
	records map[string]*Record
	loads   int
}

func (s *fakeStore) LoadCredential(_ context.Context, id string) (*Record, error) {
	s.loads++
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func storeWith(t *testing.T, c *Cipher, recs ...*Record) *fakeStore {
	t.Helper()
	s := &fakeStore{records: make(map[string]*Record)}
	for _, r := range recs {
		s.records[r.ID] = r
	}
	return s
}

func encryptedRecord(t *testing.T, c *Cipher, id, credType string, data map[string]any) *Record {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	enc, err := c.Encrypt(raw)
	require.NoError(t, err)
	return &Record{ID: id, Type: credType, Name: "test " + id, EncryptedData: enc}
}

func TestResolverResolvesAndCaches(t *testing.T) {
	c := testCipher(t)
	store := storeWith(t, c, encryptedRecord(t, c, "cred-1", TypeHTTPBasicAuth,
		map[string]any{"user": "ada", "password": "pw"}))
	r := NewResolver(store, c)

	cred, err := r.Resolve(context.Background(), "cred-1", []string{TypeHTTPBasicAuth})
	require.NoError(t, err)
	assert.Equal(t, "ada", cred.String("user"))
	assert.Equal(t, "pw", cred.String("password"))

	_, err = r.Resolve(context.Background(), "cred-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, store.loads, "second resolve should hit the cache")

	r.Invalidate("cred-1")
	_, err = r.Resolve(context.Background(), "cred-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, store.loads)
}

func TestResolverTypeMismatch(t *testing.T) {
	c := testCipher(t)
	store := storeWith(t, c, encryptedRecord(t, c, "cred-1", TypeAPIKey, map[string]any{"apiKey": "k"}))
	r := NewResolver(store, c)

	_, err := r.Resolve(context.Background(), "cred-1", []string{TypeHTTPBasicAuth})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTypeMismatch)
}

func TestResolverNotFound(t *testing.T) {
	c := testCipher(t)
	r := NewResolver(storeWith(t, c), c)
	_, err := r.Resolve(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolverExpired(t *testing.T) {
	c := testCipher(t)
	rec := encryptedRecord(t, c, "cred-1", TypeAPIKey, map[string]any{"apiKey": "k"})
	past := time.Now().Add(-time.Minute)
	rec.ExpiresAt = &past
	r := NewResolver(storeWith(t, c, rec), c)

	_, err := r.Resolve(context.Background(), "cred-1", nil)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestCredentialStringCoercion(t *testing.T) {
	cred := &Credential{Data: map[string]any{"port": 8080}}
	assert.Equal(t, fmt.Sprint(8080), cred.String("port"))
	assert.Equal(t, "", cred.String("missing"))
}
