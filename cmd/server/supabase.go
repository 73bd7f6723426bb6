// internal/gateway/supabase.go - Backend gateway over the managed Supabase backend.
//
// This file defines the Backend and AuthBackend interfaces and the
// SupabaseGateway implementation, which wraps the backend's PostgREST table
// API, GoTrue auth API, and object storage API behind typed calls. All
// persistent state lives behind these interfaces; this service holds none.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Sentinel errors for backend failure classification.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrTableNotFound indicates the backend schema has not been provisioned.
	// Read paths degrade to the sample dataset when they see this.
	ErrTableNotFound = errors.New("backend table not found, run the setup script")
	// ErrFunctionNotFound indicates a backend RPC function is absent.
	ErrFunctionNotFound = errors.New("backend function not found")
	// ErrBackendNotConfigured indicates no backend URL/key was configured.
	ErrBackendNotConfigured = errors.New("backend not configured")
)

// Backend is the structured-data and blob-storage surface consumed by the
// store service. It is an interface so tests can substitute a fake.
type Backend interface {
	ListListings(ctx context.Context, onlyPublished bool) ([]*Listing, error)
	GetListing(ctx context.Context, id string) (*Listing, error)
	InsertListing(ctx context.Context, l *Listing) error
	UpdateListing(ctx context.Context, id string, fields map[string]interface{}) error
	DeleteListing(ctx context.Context, id string) error
	IncrementDownloads(ctx context.Context, id string) (int64, error)

	ListVersions(ctx context.Context, listingID string) ([]*VersionRecord, error)
	InsertVersion(ctx context.Context, v *VersionRecord) error
	DeleteVersionsForListing(ctx context.Context, listingID string) error

	ListReviews(ctx context.Context, listingID string) ([]*Review, error)
	DeleteReviewsForListing(ctx context.Context, listingID string) error

	GetSettings(ctx context.Context) (*StoreSettings, error)
	UpsertSettings(ctx context.Context, s *StoreSettings) error

	InsertCredential(ctx context.Context, c *BiometricCredential) error

	UploadObject(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Configured() bool
}

// AuthBackend is the authentication surface consumed by the auth service.
type AuthBackend interface {
	SignInWithPassword(ctx context.Context, email, password string) (*AuthSession, error)
	GetUser(ctx context.Context, accessToken string) (*AuthUser, error)
	SignOut(ctx context.Context, accessToken string) error
	OAuthAuthorizeURL(provider, redirectTo string) string
}

// AuthSession is a backend-issued session.
type AuthSession struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	User         AuthUser `json:"user"`
}

// AuthUser is the backend's view of an authenticated user.
type AuthUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Logical table names in the backend's structured-data store.
const (
	tableListings    = "listings"
	tableVersions    = "app_versions"
	tableReviews     = "reviews"
	tableSettings    = "store_settings"
	tableCredentials = "webauthn_credentials"
)

// SupabaseGateway implements Backend and AuthBackend against a Supabase
// project's REST surface.
type SupabaseGateway struct {
	baseURL string
	anonKey string
	bucket  string
	client  *http.Client
	logger  zerolog.Logger
}

// NewSupabaseGateway creates a gateway for the configured backend. An empty
// URL or key yields a gateway that reports itself unconfigured; every call
// then fails with ErrBackendNotConfigured so read paths can degrade.
func NewSupabaseGateway(cfg *Config, logger zerolog.Logger) *SupabaseGateway {
	return &SupabaseGateway{
		baseURL: cfg.SupabaseURL,
		anonKey: cfg.SupabaseAnonKey,
		bucket:  cfg.StorageBucket,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger.With().Str("component", "gateway").Logger(),
	}
}

// Configured reports whether a backend URL and key are present.
func (g *SupabaseGateway) Configured() bool {
	return g.baseURL != "" && g.anonKey != ""
}

// --- Listings ---

func (g *SupabaseGateway) ListListings(ctx context.Context, onlyPublished bool) ([]*Listing, error) {
	query := "select=*&order=created_at.desc"
	if onlyPublished {
		query += "&status=eq." + StatusPublished
	}
	var listings []*Listing
	if err := g.selectRows(ctx, tableListings, query, &listings); err != nil {
		return nil, err
	}
	return listings, nil
}

func (g *SupabaseGateway) GetListing(ctx context.Context, id string) (*Listing, error) {
	var listing Listing
	if err := g.selectOne(ctx, tableListings, "select=*&id=eq."+url.QueryEscape(id), &listing); err != nil {
		return nil, err
	}
	return &listing, nil
}

func (g *SupabaseGateway) InsertListing(ctx context.Context, l *Listing) error {
	return g.insert(ctx, tableListings, l)
}

func (g *SupabaseGateway) UpdateListing(ctx context.Context, id string, fields map[string]interface{}) error {
	return g.update(ctx, tableListings, "id=eq."+url.QueryEscape(id), fields)
}

func (g *SupabaseGateway) DeleteListing(ctx context.Context, id string) error {
	return g.delete(ctx, tableListings, "id=eq."+url.QueryEscape(id))
}

// IncrementDownloads increments a listing's download counter by one and
// returns the new count. The atomic backend function is tried first; when the
// backend does not define it, the legacy read-modify-write is used, which is
// last-write-wins under concurrent downloads.
func (g *SupabaseGateway) IncrementDownloads(ctx context.Context, id string) (int64, error) {
	raw, err := g.rpc(ctx, "increment_downloads", map[string]interface{}{"listing_id": id})
	if err == nil {
		return gjson.ParseBytes(raw).Int(), nil
	}
	if !errors.Is(err, ErrFunctionNotFound) {
		return 0, err
	}

	listing, err := g.GetListing(ctx, id)
	if err != nil {
		return 0, err
	}
	count := listing.Downloads + 1
	if err := g.UpdateListing(ctx, id, map[string]interface{}{"downloads": count}); err != nil {
		return 0, err
	}
	return count, nil
}

// --- Version records ---

func (g *SupabaseGateway) ListVersions(ctx context.Context, listingID string) ([]*VersionRecord, error) {
	query := "select=*&listing_id=eq." + url.QueryEscape(listingID) + "&order=created_at.desc"
	var versions []*VersionRecord
	if err := g.selectRows(ctx, tableVersions, query, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func (g *SupabaseGateway) InsertVersion(ctx context.Context, v *VersionRecord) error {
	return g.insert(ctx, tableVersions, v)
}

func (g *SupabaseGateway) DeleteVersionsForListing(ctx context.Context, listingID string) error {
	return g.delete(ctx, tableVersions, "listing_id=eq."+url.QueryEscape(listingID))
}

// --- Reviews ---

func (g *SupabaseGateway) ListReviews(ctx context.Context, listingID string) ([]*Review, error) {
	query := "select=*&listing_id=eq." + url.QueryEscape(listingID) + "&order=created_at.desc"
	var reviews []*Review
	if err := g.selectRows(ctx, tableReviews, query, &reviews); err != nil {
		return nil, err
	}
	return reviews, nil
}

func (g *SupabaseGateway) DeleteReviewsForListing(ctx context.Context, listingID string) error {
	return g.delete(ctx, tableReviews, "listing_id=eq."+url.QueryEscape(listingID))
}

// --- Store settings ---

func (g *SupabaseGateway) GetSettings(ctx context.Context) (*StoreSettings, error) {
	var settings StoreSettings
	if err := g.selectOne(ctx, tableSettings, "select=*&id=eq."+SettingsID, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (g *SupabaseGateway) UpsertSettings(ctx context.Context, s *StoreSettings) error {
	s.ID = SettingsID
	return g.upsert(ctx, tableSettings, s)
}

// --- Biometric credentials ---

func (g *SupabaseGateway) InsertCredential(ctx context.Context, c *BiometricCredential) error {
	return g.insert(ctx, tableCredentials, c)
}

// --- Blob storage ---

// UploadObject uploads data to the configured bucket and returns the public URL.
func (g *SupabaseGateway) UploadObject(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if !g.Configured() {
		return "", ErrBackendNotConfigured
	}
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", g.baseURL, g.bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	g.setAuthHeaders(req)
	req.Header.Set("Content-Type", contentType)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("storage upload failed: %s", string(body))
	}
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", g.baseURL, g.bucket, path), nil
}

// --- Auth sub-interface ---

func (g *SupabaseGateway) SignInWithPassword(ctx context.Context, email, password string) (*AuthSession, error) {
	if !g.Configured() {
		return nil, ErrBackendNotConfigured
	}
	payload, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	tokenURL := g.baseURL + "/auth/v1/token?grant_type=password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	g.setAuthHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("sign-in failed: %s", gjson.GetBytes(body, "error_description").String())
	}

	var session AuthSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode error: %w", err)
	}
	return &session, nil
}

func (g *SupabaseGateway) GetUser(ctx context.Context, accessToken string) (*AuthUser, error) {
	if !g.Configured() {
		return nil, ErrBackendNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", g.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("invalid session: status %d", resp.StatusCode)
	}

	var user AuthUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decode error: %w", err)
	}
	return &user, nil
}

func (g *SupabaseGateway) SignOut(ctx context.Context, accessToken string) error {
	if !g.Configured() {
		return ErrBackendNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/auth/v1/logout", nil)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", g.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sign-out failed: status %d", resp.StatusCode)
	}
	return nil
}

// OAuthAuthorizeURL builds the backend's OAuth authorize URL for a provider.
// The identity-provider dance itself is entirely the backend's concern.
func (g *SupabaseGateway) OAuthAuthorizeURL(provider, redirectTo string) string {
	return fmt.Sprintf("%s/auth/v1/authorize?provider=%s&redirect_to=%s",
		g.baseURL, url.QueryEscape(provider), url.QueryEscape(redirectTo))
}

// --- PostgREST plumbing ---

func (g *SupabaseGateway) restURL(table string) string {
	return fmt.Sprintf("%s/rest/v1/%s", g.baseURL, table)
}

func (g *SupabaseGateway) setAuthHeaders(req *http.Request) {
	req.Header.Set("apikey", g.anonKey)
	req.Header.Set("Authorization", "Bearer "+g.anonKey)
}

// selectRows performs a GET on a table with an encoded query string and
// decodes the resulting JSON array into dest.
func (g *SupabaseGateway) selectRows(ctx context.Context, table, query string, dest interface{}) error {
	if !g.Configured() {
		return ErrBackendNotConfigured
	}
	reqURL := g.restURL(table)
	if query != "" {
		reqURL += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	g.setAuthHeaders(req)
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return g.classify(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}

// selectOne performs a GET expecting exactly one row, using the PostgREST
// singular-object representation. A 406 means zero (or multiple) rows.
func (g *SupabaseGateway) selectOne(ctx context.Context, table, query string, dest interface{}) error {
	if !g.Configured() {
		return ErrBackendNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.restURL(table)+"?"+query, nil)
	if err != nil {
		return err
	}
	g.setAuthHeaders(req)
	req.Header.Set("Accept", "application/vnd.pgrst.object+json")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotAcceptable {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		return g.classify(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode error: %w", err)
	}
	return nil
}

func (g *SupabaseGateway) insert(ctx context.Context, table string, body interface{}) error {
	return g.write(ctx, http.MethodPost, table, "", body, "return=minimal")
}

func (g *SupabaseGateway) update(ctx context.Context, table, filter string, body interface{}) error {
	return g.write(ctx, http.MethodPatch, table, filter, body, "return=minimal")
}

func (g *SupabaseGateway) upsert(ctx context.Context, table string, body interface{}) error {
	return g.write(ctx, http.MethodPost, table, "", body, "resolution=merge-duplicates,return=minimal")
}

func (g *SupabaseGateway) delete(ctx context.Context, table, filter string) error {
	return g.write(ctx, http.MethodDelete, table, filter, nil, "")
}

func (g *SupabaseGateway) write(ctx context.Context, method, table, filter string, body interface{}, prefer string) error {
	if !g.Configured() {
		return ErrBackendNotConfigured
	}
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		payload = bytes.NewReader(data)
	}
	reqURL := g.restURL(table)
	if filter != "" {
		reqURL += "?" + filter
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, payload)
	if err != nil {
		return err
	}
	g.setAuthHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return g.classify(resp)
	}
	return nil
}

// rpc calls a backend database function and returns the raw JSON result.
func (g *SupabaseGateway) rpc(ctx context.Context, function string, params map[string]interface{}) (json.RawMessage, error) {
	if !g.Configured() {
		return nil, ErrBackendNotConfigured
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal error: %w", err)
	}
	rpcURL := fmt.Sprintf("%s/rest/v1/rpc/%s", g.baseURL, function)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	g.setAuthHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, classifyBody(resp.StatusCode, body)
	}
	return body, nil
}

// classify drains the response body and maps PostgREST error codes onto the
// gateway's sentinel errors.
func (g *SupabaseGateway) classify(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	err := classifyBody(resp.StatusCode, body)
	g.logger.Debug().Int("status", resp.StatusCode).Err(err).Msg("backend call failed")
	return err
}

func classifyBody(status int, body []byte) error {
	code := gjson.GetBytes(body, "code").String()
	switch code {
	case "PGRST205", "42P01":
		// Table missing from the schema cache / undefined table.
		return fmt.Errorf("%w (code %s)", ErrTableNotFound, code)
	case "PGRST202":
		return fmt.Errorf("%w (code %s)", ErrFunctionNotFound, code)
	case "PGRST116":
		return ErrNotFound
	}
	message := gjson.GetBytes(body, "message").String()
	if message == "" {
		message = string(body)
	}
	return fmt.Errorf("backend error (status %d): %s", status, message)
}
