// Package credential materializes encrypted credentials on demand for nodes
// and webhook authentication. Resolution is system-scoped: the resolver does
// not enforce user ownership because it is called from trigger paths where no
// interactive user is present; ownership is enforced at the CRUD layer.
//
// Decrypted payloads never appear in logs; only credential ids and types may
// be logged.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Well-known credential type keys.
const (
	// TypeHTTPBasicAuth holds username/password for HTTP Basic webhook auth.
	TypeHTTPBasicAuth = "httpBasicAuth"
	// TypeHTTPHeaderAuth holds a header name/value pair.
	TypeHTTPHeaderAuth = "httpHeaderAuth"
	// TypeWebhookQueryAuth holds a query parameter name/value pair.
	TypeWebhookQueryAuth = "webhookQueryAuth"
	// TypeAPIKey holds a bare API key.
	TypeAPIKey = "apiKey"
	// TypeOAuth2 holds OAuth2 client configuration and tokens.
	TypeOAuth2 = "oauth2"
)

var (
	// ErrNotFound indicates no credential exists for the given id.
	ErrNotFound = errors.New("credential not found")
	// ErrTypeMismatch indicates the credential's type is not in the caller's
	// allowed-types set.
	ErrTypeMismatch = errors.New("credential type not allowed")
	// ErrExpired indicates the credential's expiry has passed.
	ErrExpired = errors.New("credential expired")
)

type (
	// Credential is a decrypted credential materialized for one use.
	Credential struct {
		// ID uniquely identifies the credential.
		ID string
		// Type is the credential type key (e.g. httpBasicAuth).
		Type string
		// Name is the human-readable credential name.
		Name string
		// Data is the decrypted payload. Never log it.
		Data map[string]any
		// OwnerID identifies the credential owner.
		OwnerID string
		// ExpiresAt, when set, invalidates the credential after this time.
		ExpiresAt *time.Time
	}

	// Record is the encrypted-at-rest form stored by the persistence layer.
	Record struct {
		// ID uniquely identifies the credential.
		ID string
		// OwnerID identifies the credential owner.
		OwnerID string
		// Type is the credential type key.
		Type string
		// Name is the human-readable credential name.
		Name string
		// EncryptedData is the IV-prefixed AES-256-CBC ciphertext of the
		// JSON payload.
		EncryptedData []byte
		// ExpiresAt, when set, invalidates the credential after this time.
		ExpiresAt *time.Time
	}

	// Store loads encrypted credential records by id. Implementations return
	// ErrNotFound (possibly wrapped) for unknown ids.
	Store interface {
		// LoadCredential retrieves the encrypted record for the given id.
		LoadCredential(ctx context.Context, id string) (*Record, error)
	}

	// Resolver decrypts and type-checks credentials on demand. Resolved
	// credentials are cached; the cache must be invalidated on credential
	// edit via Invalidate. Reads across executions safely share the cache.
	Resolver struct {
		store  Store
		cipher *Cipher

		mu    sync.RWMutex
		cache map[string]*Credential

		now func() time.Time
	}
)

// NewResolver constructs a Resolver over the given store and cipher.
func NewResolver(store Store, cipher *Cipher) *Resolver {
	return &Resolver{
		store:  store,
		cipher: cipher,
		cache:  make(map[string]*Credential),
		now:    time.Now,
	}
}

// Resolve returns the decrypted credential for the given id, failing closed
// when the credential is missing, expired, or not of an allowed type. An
// empty allowedTypes set accepts any type.
func (r *Resolver) Resolve(ctx context.Context, id string, allowedTypes []string) (*Credential, error) {
	cred, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if cred.ExpiresAt != nil && !r.now().Before(*cred.ExpiresAt) {
		return nil, fmt.Errorf("credential %s: %w", id, ErrExpired)
	}
	if len(allowedTypes) > 0 && !contains(allowedTypes, cred.Type) {
		return nil, fmt.Errorf("credential %s has type %s: %w", id, cred.Type, ErrTypeMismatch)
	}
	return cred, nil
}

// Invalidate drops the cached entry for the given id. Call it whenever a
// credential is edited or deleted.
func (r *Resolver) Invalidate(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

func (r *Resolver) load(ctx context.Context, id string) (*Credential, error) {
	r.mu.RLock()
	cached, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	rec, err := r.store.LoadCredential(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("credential %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load credential %s: %w", id, err)
	}
	plaintext, err := r.cipher.Decrypt(rec.EncryptedData)
	if err != nil {
		return nil, fmt.Errorf("decrypt credential %s: %w", id, err)
	}
	var data map[string]any
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", id, err)
	}
	cred := &Credential{
		ID:        rec.ID,
		Type:      rec.Type,
		Name:      rec.Name,
		Data:      data,
		OwnerID:   rec.OwnerID,
		ExpiresAt: rec.ExpiresAt,
	}
	r.mu.Lock()
	r.cache[id] = cred
	r.mu.Unlock()
	return cred, nil
}

// String returns the named data field as a string, or empty when absent.
// Convenience for auth validators reading configured names and values.
func (c *Credential) String(field string) string {
	if v, ok := c.Data[field]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
