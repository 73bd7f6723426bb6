// internal/model/model.go - Data models and request/response structs.
//
// This file defines the data structures (structs) used throughout the application,
// including models for store listings, version records, reviews, settings,
// biometric credentials, and API request/response formats.
package main

import "time"

// Listing lifecycle states. Transitions between them are admin-initiated only.
const (
	StatusPending   = "pending"
	StatusPublished = "published"
	StatusRejected  = "rejected"
)

// CategoryAll is the sentinel category that disables category filtering.
const CategoryAll = "All"

// ListingCategories is the fixed set of categories a listing may belong to.
var ListingCategories = []string{
	"Games",
	"Tools",
	"Productivity",
	"Social",
	"Entertainment",
	"Education",
}

// Listing represents a distributable application entry in the store catalog.
type Listing struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	IconURL     string    `json:"icon_url"`
	PackageURL  string    `json:"package_url"`
	Screenshots []string  `json:"screenshots"`
	Rating      float64   `json:"rating"`
	Downloads   int64     `json:"downloads"` // only ever increases
	Developer   string    `json:"developer"`
	Version     string    `json:"version"` // free-form label, not semantically parsed
	Size        string    `json:"size"`    // free-form label, e.g. "12 MB"
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// VersionRecord is an immutable historical entry describing one release of a
// Listing. The history is append-only; a rollback copies fields onto the
// parent listing but never mutates or deletes a record.
type VersionRecord struct {
	ID           string    `json:"id"`
	ListingID    string    `json:"listing_id"`
	Version      string    `json:"version"`
	ReleaseNotes string    `json:"release_notes"`
	PackageURL   string    `json:"package_url"`
	CreatedAt    time.Time `json:"created_at"`
}

// VersionEntry is a VersionRecord annotated for the version-history view.
// The newest record is flagged current and is not eligible for rollback.
type VersionEntry struct {
	VersionRecord
	Current bool `json:"current"`
}

// Review represents a user review of a listing. Reviews are read-only in this
// system; no authoring flow exists.
type Review struct {
	ID        string    `json:"id"`
	ListingID string    `json:"listing_id"`
	Reviewer  string    `json:"reviewer"`
	Rating    int       `json:"rating"` // 0-5
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// SettingsID is the fixed identifier of the singleton store settings row.
const SettingsID = "main"

// StoreSettings is the singleton store-wide configuration record.
type StoreSettings struct {
	ID              string `json:"id"`
	StoreName       string `json:"store_name"`
	ContactEmail    string `json:"contact_email"`
	MaintenanceMode bool   `json:"maintenance_mode"`
}

// BiometricCredential associates an opaque platform-authenticator credential
// with a user. The local credential store is authoritative for login-time
// lookup; the backend mirror is best-effort and never read back.
type BiometricCredential struct {
	UserID       string    `json:"user_id"`
	CredentialID string    `json:"credential_id"`
	PublicKey    string    `json:"public_key"`
	CreatedAt    time.Time `json:"created_at"`
}

// Data source states for read responses. Sample means the backend was
// unreachable and the built-in sample set was substituted.
const (
	SourceLive   = "live"
	SourceSample = "sample"
)

// --- Request and Response structs for API endpoints ---

// DirectoryResponse is the public listing directory payload.
type DirectoryResponse struct {
	Listings      []*Listing     `json:"listings"`
	Settings      *StoreSettings `json:"settings"`
	Source        string         `json:"source"`
	SetupRequired bool           `json:"setup_required"`
}

// ListingDetailResponse is the public listing detail payload.
type ListingDetailResponse struct {
	Listing *Listing  `json:"listing"`
	Reviews []*Review `json:"reviews"`
}

// DownloadResponse is returned after a download counter increment.
type DownloadResponse struct {
	PackageURL string `json:"package_url"`
	Downloads  int64  `json:"downloads"`
}

// ShareResponse carries the canonical share URL for a listing.
type ShareResponse struct {
	URL string `json:"url"`
}

// StatusChangeRequest is the request body for a listing status transition.
type StatusChangeRequest struct {
	Status string `json:"status"`
}

// DeleteListingRequest is the request body for deleting a listing.
// Deletion is destructive and must be explicitly confirmed.
type DeleteListingRequest struct {
	Confirm bool `json:"confirm"`
}

// RollbackRequest is the request body for rolling a listing back to a
// historical version record.
type RollbackRequest struct {
	VersionID string `json:"version_id"`
	Confirm   bool   `json:"confirm"`
}

// SubmitListingResponse is returned from listing create/update. When the
// listing write succeeded but the version record append failed, the listing is
// present and VersionRecordError describes the partial failure.
type SubmitListingResponse struct {
	Listing            *Listing `json:"listing"`
	VersionRecordError string   `json:"version_record_error,omitempty"`
}

// LoginRequest is the request body for password sign-in.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful sign-in of any kind.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Demo        bool   `json:"demo"`
	Email       string `json:"email"`
}

// RegisterFinishRequest completes a biometric credential enrollment with the
// opaque blobs produced by the platform authenticator. The enrolled identity
// comes from the session, so the body carries none.
type RegisterFinishRequest struct {
	ChallengeID  string `json:"challenge_id"`
	CredentialID string `json:"credential_id"`
	PublicKey    string `json:"public_key"`
	Cancelled    bool   `json:"cancelled"`
}

// AssertBeginRequest starts a biometric sign-in.
type AssertBeginRequest struct {
	UserID string `json:"user_id"`
}

// AssertFinishRequest completes a biometric sign-in. The assertion blob is
// not signature-verified; any well-formed response for the enrolled
// credential is accepted.
type AssertFinishRequest struct {
	UserID            string `json:"user_id"`
	ChallengeID       string `json:"challenge_id"`
	CredentialID      string `json:"credential_id"`
	AssertionResponse string `json:"assertion_response"`
	Cancelled         bool   `json:"cancelled"`
}

// ChallengeResponse carries an issued authenticator challenge plus the
// creation/assertion options the platform authenticator expects.
type ChallengeResponse struct {
	ChallengeID      string   `json:"challenge_id"`
	Challenge        string   `json:"challenge"` // base64url, 32 random bytes
	RelyingPartyID   string   `json:"rp_id"`
	RelyingPartyName string   `json:"rp_name"`
	UserID           string   `json:"user_id,omitempty"`
	TimeoutMillis    int      `json:"timeout"`
	UserVerification string   `json:"user_verification"`
	Attachment       string   `json:"authenticator_attachment,omitempty"`
	Algorithms       []int    `json:"pub_key_cred_params,omitempty"`
	AllowCredentials []string `json:"allow_credentials,omitempty"`
}

// ValidCategory reports whether category is one of the fixed listing categories.
func ValidCategory(category string) bool {
	for _, c := range ListingCategories {
		if c == category {
			return true
		}
	}
	return false
}

// ValidStatus reports whether status is a recognized listing lifecycle state.
func ValidStatus(status string) bool {
	return status == StatusPending || status == StatusPublished || status == StatusRejected
}
