// webauthn_test.go - Tests for biometric enrollment, sign-in, and the stores.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBiometricService(t *testing.T) (*BiometricService, *fakeBackend) {
	t.Helper()
	store, err := NewCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)

	backend := newFakeBackend()
	auth := newTestAuthService(&fakeAuthBackend{})
	return NewBiometricService(DefaultConfig(), store, backend, auth, zerolog.Nop()), backend
}

func TestEnrollAndSignInRoundtrip(t *testing.T) {
	bio, backend := newTestBiometricService(t)
	ctx := context.Background()

	begin, err := bio.BeginRegistration("admin@nexus.com")
	require.NoError(t, err)
	assert.Equal(t, "localhost", begin.RelyingPartyID)
	assert.Equal(t, "required", begin.UserVerification)
	assert.Equal(t, "platform", begin.Attachment)
	assert.Equal(t, []int{-7, -257}, begin.Algorithms)

	raw, err := base64.RawURLEncoding.DecodeString(begin.Challenge)
	require.NoError(t, err)
	assert.Len(t, raw, challengeSize)

	err = bio.FinishRegistration(ctx, "admin@nexus.com", &RegisterFinishRequest{
		ChallengeID:  begin.ChallengeID,
		CredentialID: "cred-1",
		PublicKey:    "pubkey-blob",
	})
	require.NoError(t, err)

	// The backend mirror got a copy.
	require.Len(t, backend.credentials, 1)
	assert.Equal(t, "cred-1", backend.credentials[0].CredentialID)

	assertBegin, err := bio.BeginAssertion("admin@nexus.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"cred-1"}, assertBegin.AllowCredentials)

	resp, err := bio.FinishAssertion(ctx, &AssertFinishRequest{
		UserID:            "admin@nexus.com",
		ChallengeID:       assertBegin.ChallengeID,
		CredentialID:      "cred-1",
		AssertionResponse: "assertion-blob",
	})
	require.NoError(t, err)
	assert.True(t, resp.Demo)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestSignInBeforeEnrollment(t *testing.T) {
	bio, _ := newTestBiometricService(t)

	_, err := bio.BeginAssertion("admin@nexus.com")
	assert.ErrorIs(t, err, ErrNotEnrolled)
}

func TestCancelledPrompt(t *testing.T) {
	bio, _ := newTestBiometricService(t)
	ctx := context.Background()

	err := bio.FinishRegistration(ctx, "u", &RegisterFinishRequest{Cancelled: true})
	assert.ErrorIs(t, err, ErrAuthenticatorCancelled)

	_, err = bio.FinishAssertion(ctx, &AssertFinishRequest{UserID: "u", Cancelled: true})
	assert.ErrorIs(t, err, ErrAuthenticatorCancelled)
}

func TestAssertionRejectsWrongCredential(t *testing.T) {
	bio, _ := newTestBiometricService(t)
	ctx := context.Background()

	begin, err := bio.BeginRegistration("u")
	require.NoError(t, err)
	require.NoError(t, bio.FinishRegistration(ctx, "u", &RegisterFinishRequest{
		ChallengeID:  begin.ChallengeID,
		CredentialID: "cred-1",
		PublicKey:    "pk",
	}))

	assertBegin, err := bio.BeginAssertion("u")
	require.NoError(t, err)

	_, err = bio.FinishAssertion(ctx, &AssertFinishRequest{
		UserID:            "u",
		ChallengeID:       assertBegin.ChallengeID,
		CredentialID:      "cred-other",
		AssertionResponse: "blob",
	})
	assert.Error(t, err)
}

// --- Challenge store ---

func TestChallengeSingleUse(t *testing.T) {
	cs := NewChallengeStore(time.Minute)
	id, challenge, err := cs.Issue("u")
	require.NoError(t, err)
	assert.NotEmpty(t, challenge)

	require.NoError(t, cs.Consume(id, "u"))
	assert.Error(t, cs.Consume(id, "u"), "a challenge must not be reusable")
}

func TestChallengeUserBinding(t *testing.T) {
	cs := NewChallengeStore(time.Minute)
	id, _, err := cs.Issue("u")
	require.NoError(t, err)

	assert.Error(t, cs.Consume(id, "someone-else"))
	// The mismatched consume already burned it.
	assert.Error(t, cs.Consume(id, "u"))
}

func TestChallengeExpiry(t *testing.T) {
	cs := NewChallengeStore(-time.Second) // already expired at issue time
	id, _, err := cs.Issue("u")
	require.NoError(t, err)
	assert.Error(t, cs.Consume(id, "u"))
}

func TestChallengesAreUnique(t *testing.T) {
	cs := NewChallengeStore(time.Minute)
	_, a, err := cs.Issue("u")
	require.NoError(t, err)
	_, b, err := cs.Issue("u")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestChallengeStoreEvictsExpiredOnIssue(t *testing.T) {
	cs := NewChallengeStore(-time.Second) // every entry is expired at issue time
	stale, _, err := cs.Issue("u")
	require.NoError(t, err)

	// The next issue sweeps the stale entry out instead of leaking it.
	_, _, err = cs.Issue("u")
	require.NoError(t, err)

	cs.mu.Lock()
	_, ok := cs.entries[stale]
	size := len(cs.entries)
	cs.mu.Unlock()
	assert.False(t, ok, "expired challenge must be evicted from the store")
	assert.Equal(t, 1, size)
}

// --- Credential store ---

func TestCredentialStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")

	store, err := NewCredentialStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(&BiometricCredential{
		UserID:       "u",
		CredentialID: "cred-1",
		PublicKey:    "pk",
		CreatedAt:    time.Now().UTC(),
	}))
	require.NoError(t, store.Close())

	reopened, err := NewCredentialStore(path)
	require.NoError(t, err)
	cred, err := reopened.Get("u")
	require.NoError(t, err)
	assert.Equal(t, "cred-1", cred.CredentialID)
}

func TestCredentialStoreConcurrentPuts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	store, err := NewCredentialStore(path)
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Put(&BiometricCredential{
				UserID:       fmt.Sprintf("user-%02d", i),
				CredentialID: fmt.Sprintf("cred-%02d", i),
				PublicKey:    "pk",
			}))
		}(i)
	}
	wg.Wait()

	// The file must still be one well-formed snapshot holding every write.
	reopened, err := NewCredentialStore(path)
	require.NoError(t, err)
	for i := 0; i < writers; i++ {
		cred, err := reopened.Get(fmt.Sprintf("user-%02d", i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("cred-%02d", i), cred.CredentialID)
	}
}

func TestCredentialStoreReplacesEnrollment(t *testing.T) {
	store, err := NewCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)

	require.NoError(t, store.Put(&BiometricCredential{UserID: "u", CredentialID: "old"}))
	require.NoError(t, store.Put(&BiometricCredential{UserID: "u", CredentialID: "new"}))

	cred, err := store.Get("u")
	require.NoError(t, err)
	assert.Equal(t, "new", cred.CredentialID)

	_, err = store.Get("unknown")
	assert.Error(t, err)
}
