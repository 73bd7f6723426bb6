// internal/security/webauthn.go - Platform-authenticator credential flows.
//
// This file implements biometric credential enrollment and sign-in. The
// service only marshals challenges and opaque credential blobs; assertion
// responses are accepted without signature verification, so a successful
// biometric sign-in yields the same locally signed demo session as the
// password bypass. The local JSON credential store is authoritative for
// login-time lookup; the backend mirror is best-effort and never read back.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Authenticator policy constants, mirrored into every challenge response.
const (
	challengeSize        = 32
	challengeTTL         = 60 * time.Second
	userVerificationMode = "required"
	platformAttachment   = "platform"
)

// Accepted credential algorithms: ES256 and RS256.
var acceptedAlgorithms = []int{-7, -257}

// ErrAuthenticatorCancelled marks a user-cancelled authenticator prompt.
// Cancellation differs from other failures only in message text.
var ErrAuthenticatorCancelled = errors.New("biometric prompt was cancelled")

// ErrNotEnrolled is returned when biometric sign-in is attempted before any
// credential has been enrolled.
var ErrNotEnrolled = errors.New("no biometric credential enrolled, enroll one from the admin console first")

// BiometricService implements credential enrollment and assertion-based
// sign-in.
type BiometricService struct {
	creds      *CredentialStore
	challenges *ChallengeStore
	backend    Backend
	auth       *AuthService
	rpID       string
	rpName     string
	logger     zerolog.Logger
}

// NewBiometricService creates a new BiometricService. The relying-party id
// and name are derived from the service's public origin.
func NewBiometricService(cfg *Config, creds *CredentialStore, backend Backend, auth *AuthService, logger zerolog.Logger) *BiometricService {
	rpID := "localhost"
	if u, err := url.Parse(cfg.PublicBaseURL); err == nil && u.Hostname() != "" {
		rpID = u.Hostname()
	}
	return &BiometricService{
		creds:      creds,
		challenges: NewChallengeStore(challengeTTL),
		backend:    backend,
		auth:       auth,
		rpID:       rpID,
		rpName:     rpID,
		logger:     logger.With().Str("component", "webauthn").Logger(),
	}
}

// BeginRegistration issues a fresh enrollment challenge for the signed-in
// user.
func (bs *BiometricService) BeginRegistration(userID string) (*ChallengeResponse, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	id, challenge, err := bs.challenges.Issue(userID)
	if err != nil {
		return nil, err
	}
	return &ChallengeResponse{
		ChallengeID:      id,
		Challenge:        challenge,
		RelyingPartyID:   bs.rpID,
		RelyingPartyName: bs.rpName,
		UserID:           userID,
		TimeoutMillis:    int(challengeTTL / time.Millisecond),
		UserVerification: userVerificationMode,
		Attachment:       platformAttachment,
		Algorithms:       acceptedAlgorithms,
	}, nil
}

// FinishRegistration persists the credential produced by the platform
// authenticator: locally as the authoritative record, then best-effort to the
// backend mirror. The user identity comes from the caller's resolved session,
// never from the request body.
func (bs *BiometricService) FinishRegistration(ctx context.Context, userID string, req *RegisterFinishRequest) error {
	if req.Cancelled {
		return ErrAuthenticatorCancelled
	}
	if err := bs.challenges.Consume(req.ChallengeID, userID); err != nil {
		return err
	}
	if req.CredentialID == "" || req.PublicKey == "" {
		return fmt.Errorf("credential id and public key are required")
	}

	cred := &BiometricCredential{
		UserID:       userID,
		CredentialID: req.CredentialID,
		PublicKey:    req.PublicKey,
		CreatedAt:    time.Now().UTC(),
	}
	if err := bs.creds.Put(cred); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	if err := bs.backend.InsertCredential(ctx, cred); err != nil {
		// Mirror only; the local record is what login reads.
		bs.logger.Warn().Err(err).Str("user", userID).Msg("credential backend mirror failed")
	}
	return nil
}

// BeginAssertion issues a sign-in challenge scoped to the user's enrolled
// credential.
func (bs *BiometricService) BeginAssertion(userID string) (*ChallengeResponse, error) {
	cred, err := bs.creds.Get(userID)
	if err != nil {
		return nil, ErrNotEnrolled
	}
	id, challenge, err := bs.challenges.Issue(userID)
	if err != nil {
		return nil, err
	}
	return &ChallengeResponse{
		ChallengeID:      id,
		Challenge:        challenge,
		RelyingPartyID:   bs.rpID,
		RelyingPartyName: bs.rpName,
		TimeoutMillis:    int(challengeTTL / time.Millisecond),
		UserVerification: userVerificationMode,
		AllowCredentials: []string{cred.CredentialID},
	}, nil
}

// FinishAssertion treats any well-formed assertion for the enrolled
// credential as successful authentication and issues a demo session. No
// server-side signature verification takes place.
func (bs *BiometricService) FinishAssertion(ctx context.Context, req *AssertFinishRequest) (*LoginResponse, error) {
	if req.Cancelled {
		return nil, ErrAuthenticatorCancelled
	}
	if err := bs.challenges.Consume(req.ChallengeID, req.UserID); err != nil {
		return nil, err
	}
	cred, err := bs.creds.Get(req.UserID)
	if err != nil {
		return nil, ErrNotEnrolled
	}
	if req.CredentialID != cred.CredentialID {
		return nil, fmt.Errorf("assertion used an unknown credential")
	}
	if req.AssertionResponse == "" {
		return nil, fmt.Errorf("biometric authentication failed")
	}
	return bs.auth.DemoSession(req.UserID)
}

// --- Challenge store ---

type challengeEntry struct {
	userID  string
	expires time.Time
}

// ChallengeStore holds issued authenticator challenges. Challenges are
// single-use and expire after the authenticator timeout.
type ChallengeStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*challengeEntry
}

// NewChallengeStore creates a new ChallengeStore instance.
func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	return &ChallengeStore{
		ttl:     ttl,
		entries: make(map[string]*challengeEntry),
	}
}

// Issue generates a cryptographically random challenge bound to a user and
// returns its id and base64url value. Expired entries are evicted here, so
// abandoned begin calls do not accumulate.
func (cs *ChallengeStore) Issue(userID string) (string, string, error) {
	buf := make([]byte, challengeSize)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("failed to generate challenge: %w", err)
	}

	id := uuid.NewString()
	cs.mu.Lock()
	now := time.Now()
	for key, entry := range cs.entries {
		if now.After(entry.expires) {
			delete(cs.entries, key)
		}
	}
	cs.entries[id] = &challengeEntry{userID: userID, expires: now.Add(cs.ttl)}
	cs.mu.Unlock()

	return id, base64.RawURLEncoding.EncodeToString(buf), nil
}

// Consume validates and removes a previously issued challenge.
func (cs *ChallengeStore) Consume(id, userID string) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	entry, ok := cs.entries[id]
	if !ok {
		return fmt.Errorf("unknown or already used challenge")
	}
	delete(cs.entries, id)

	if entry.userID != userID {
		return fmt.Errorf("challenge was issued for a different user")
	}
	if time.Now().After(entry.expires) {
		return fmt.Errorf("challenge expired")
	}
	return nil
}

// --- Credential store ---

// CredentialStore is a JSON file-backed store of biometric credentials, one
// per user. It is the authoritative record for login-time lookup.
type CredentialStore struct {
	filepath string
	creds    map[string]*BiometricCredential
	mu       sync.RWMutex // Mutex for read/write operations
}

// NewCredentialStore creates a new CredentialStore instance.
func NewCredentialStore(path string) (*CredentialStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create credential store directory: %w", err)
		}
	}
	cs := &CredentialStore{
		filepath: path,
		creds:    make(map[string]*BiometricCredential),
	}
	if err := cs.load(); err != nil {
		return nil, err
	}
	return cs, nil
}

// Get retrieves the credential enrolled for a user.
func (cs *CredentialStore) Get(userID string) (*BiometricCredential, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	cred, ok := cs.creds[userID]
	if !ok {
		return nil, fmt.Errorf("no credential for user: %s", userID)
	}
	return cred, nil
}

// Put stores a user's credential, replacing any previous enrollment. The lock
// is held across the file write so concurrent enrollments cannot interleave
// two rewrites of the store file.
func (cs *CredentialStore) Put(cred *BiometricCredential) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.creds[cred.UserID] = cred
	return cs.save()
}

// Close closes the store (no action needed for a JSON file).
func (cs *CredentialStore) Close() error {
	return nil
}

// load reads credentials from the JSON file.
func (cs *CredentialStore) load() error {
	if _, err := os.Stat(cs.filepath); os.IsNotExist(err) {
		return nil // File doesn't exist, assume empty store
	}

	file, err := os.Open(cs.filepath)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	defer file.Close()

	var creds []*BiometricCredential
	if err := json.NewDecoder(file).Decode(&creds); err != nil {
		return fmt.Errorf("failed to decode credential store: %w", err)
	}

	cs.creds = make(map[string]*BiometricCredential)
	for _, c := range creds {
		cs.creds[c.UserID] = c
	}
	return nil
}

// save writes credentials to the JSON file. The caller must hold cs.mu.
func (cs *CredentialStore) save() error {
	creds := make([]*BiometricCredential, 0, len(cs.creds))
	for _, c := range cs.creds {
		creds = append(creds, c)
	}

	file, err := os.Create(cs.filepath)
	if err != nil {
		return fmt.Errorf("failed to open credential store for writing: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(creds); err != nil {
		return fmt.Errorf("failed to encode credential store: %w", err)
	}
	return nil
}

// --- HTTP handlers ---

// enrollmentUser is the identity a session enrolls credentials under; it is
// also what the user types into the biometric sign-in form later.
func enrollmentUser(session *Session) string {
	if session.Email != "" {
		return session.Email
	}
	return session.UserID
}

func handleWebAuthnRegisterBegin(bio *BiometricService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := SessionFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "Session required")
			return
		}
		resp, err := bio.BeginRegistration(enrollmentUser(session))
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

func handleWebAuthnRegisterFinish(bio *BiometricService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := SessionFromContext(r.Context())
		if !ok {
			respondError(w, http.StatusUnauthorized, "Session required")
			return
		}
		var req RegisterFinishRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			return
		}
		if err := bio.FinishRegistration(r.Context(), enrollmentUser(session), &req); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusCreated, map[string]string{"message": "Biometric credential enrolled"})
	}
}

func handleWebAuthnLoginBegin(bio *BiometricService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AssertBeginRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			return
		}
		resp, err := bio.BeginAssertion(req.UserID)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, ErrNotEnrolled) {
				status = http.StatusNotFound
			}
			respondError(w, status, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

func handleWebAuthnLoginFinish(bio *BiometricService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AssertFinishRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			return
		}
		resp, err := bio.FinishAssertion(r.Context(), &req)
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}
}
