package middleware_test

import (
	"context"
	"crypto/rand"
	"io"
	"testing"

	"github.com/aretw0/sagaflow/pkg/adapters/memory"
	"github.com/aretw0/sagaflow/pkg/domain"
	"github.com/aretw0/sagaflow/pkg/persistence/middleware"
	"github.com/aretw0/sagaflow/pkg/ports"
)

func generateKey(t *testing.T) []byte {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		t.Fatal(err)
	}
	return k
}

func newRecord(id string, pairs ...any) *domain.ExecutionRecord {
	return &domain.ExecutionRecord{
		ID:       id,
		SagaName: "order",
		Status:   domain.SagaPaused,
		Context:  domain.NewContext(pairs...),
		Steps:    []domain.StepRecord{{Status: domain.StepPausedOnReply, Token: "tok"}},
		User:     "alice",
	}
}

func TestEncryptionMiddleware_Contract(t *testing.T) {
	mw := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})
	ports.RunExecutionStoreContract(t, mw(memory.NewStore()))
}

func TestEncryptionMiddleware_Roundtrip(t *testing.T) {
	underlyingStore := memory.NewStore()
	key := generateKey(t)
	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key})(underlyingStore)

	ctx := context.Background()
	rec := newRecord("saga-1", "secret", "my-secret-sauce")

	// 1. Save
	if err := secureStore.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("expected version 1, got %d", rec.Version)
	}

	// 2. Verify Underlying Store directly (Should be encrypted)
	stored, err := underlyingStore.Load(ctx, "saga-1")
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	if val, ok := stored.Context.Get("secret"); ok {
		t.Fatalf("Expected secret to be hidden, found: %v", val)
	}
	if _, ok := stored.Context.Get("__encrypted__"); !ok {
		t.Fatal("Expected __encrypted__ entry in context")
	}
	if stored.User != "" || stored.Steps[0].Token != "" {
		t.Error("Expected user and tokens to stay inside the ciphertext")
	}
	if stored.Status != domain.SagaPaused || stored.Steps[0].Status != domain.StepPausedOnReply {
		t.Error("Expected statuses to stay readable")
	}

	// 3. Load via Middleware (Should be decrypted)
	loaded, err := secureStore.Load(ctx, "saga-1")
	if err != nil {
		t.Fatalf("Load via middleware failed: %v", err)
	}
	if v, _ := loaded.Context.Get("secret"); v != "my-secret-sauce" {
		t.Errorf("Expected 'my-secret-sauce', got %v", v)
	}
	if loaded.User != "alice" || loaded.Steps[0].Token != "tok" {
		t.Errorf("Expected user and token restored, got %q / %q", loaded.User, loaded.Steps[0].Token)
	}
	if loaded.Version != 1 {
		t.Errorf("Expected version 1, got %d", loaded.Version)
	}
}

func TestEncryptionMiddleware_KeyRotation(t *testing.T) {
	underlyingStore := memory.NewStore()
	oldKey := generateKey(t)
	newKey := generateKey(t)

	secureStoreOld := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: oldKey})(underlyingStore)

	ctx := context.Background()

	// 1. Save with OLD key
	if err := secureStoreOld.Save(ctx, newRecord("rotation", "data", "encrypted-with-old-key")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// 2. Load with NEW key (Active) + OLD key (Fallback)
	secureStoreNew := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
		ActiveKey:    newKey,
		FallbackKeys: [][]byte{oldKey},
	})(underlyingStore)

	loaded, err := secureStoreNew.Load(ctx, "rotation")
	if err != nil {
		t.Fatalf("Load with rotated key failed: %v", err)
	}
	if v, _ := loaded.Context.Get("data"); v != "encrypted-with-old-key" {
		t.Errorf("Decryption with fallback key failed")
	}

	// 3. Save again (now sealed with the NEW key)
	loaded.Context.Set("data", "encrypted-with-new-key")
	if err := secureStoreNew.Save(ctx, loaded); err != nil {
		t.Fatalf("Save with new key failed: %v", err)
	}

	// 4. Verify we CANNOT load with just OLD key anymore
	if _, err := secureStoreOld.Load(ctx, "rotation"); err == nil {
		t.Error("Expected failure when loading new-key encryption with old-key middleware")
	}
}

func TestEncryptionMiddleware_RejectsPlainRecords(t *testing.T) {
	underlyingStore := memory.NewStore()
	ctx := context.Background()
	if err := underlyingStore.Save(ctx, newRecord("plain", "a", 1)); err != nil {
		t.Fatal(err)
	}

	secureStore := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: generateKey(t)})(underlyingStore)
	if _, err := secureStore.Load(ctx, "plain"); err == nil {
		t.Error("Expected plain record to be rejected")
	}
}

func TestEncryptionMiddleware_InvalidKey(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic for invalid key size")
		}
	}()
	middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: []byte("short-key")})
}
