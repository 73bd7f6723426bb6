// internal/service/service.go - Business logic and service layer.
//
// This file implements the store's business logic: the public directory and
// detail reads, the admin listing workflow (create/update with asset uploads,
// status transitions, delete, version history and rollback), and the settings
// singleton. All state lives in the external backend; the service orchestrates
// backend calls and applies the store's rules on the way through.
package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrRollbackCurrent is returned when a rollback targets the newest version
// record, which is always the current one.
var ErrRollbackCurrent = errors.New("cannot roll back to the current version")

// DefaultReleaseNotes is used when a submission leaves release notes blank.
const DefaultReleaseNotes = "Initial release"

// ListingNotifier mirrors listing mutations to an external collaborator.
// Implementations are fire-and-forget; callers never observe failures.
type ListingNotifier interface {
	Notify(listing *Listing, action string)
}

// StoreService coordinates backend calls for the storefront and admin console.
type StoreService struct {
	cfg      *Config
	backend  Backend
	notifier ListingNotifier
	logger   zerolog.Logger
}

// NewStoreService creates a new StoreService instance.
func NewStoreService(cfg *Config, backend Backend, notifier ListingNotifier, logger zerolog.Logger) *StoreService {
	return &StoreService{
		cfg:      cfg,
		backend:  backend,
		notifier: notifier,
		logger:   logger.With().Str("component", "store").Logger(),
	}
}

// UploadFile is an in-memory file attachment from a multipart submission.
type UploadFile struct {
	Name        string
	Data        []byte
	ContentType string
}

// ListingSubmission carries the fields and optional attachments of the admin
// create/edit form. An empty ID means create.
type ListingSubmission struct {
	ID             string
	Name           string
	Description    string
	Category       string
	Developer      string
	Version        string
	Size           string
	ReleaseNotes   string
	IconURL        string
	PackageURL     string
	ScreenshotURLs []string
	Icon           *UploadFile
	Package        *UploadFile
	Screenshots    []*UploadFile
}

// SubmitOutcome is the result of a listing create/update. VersionRecordErr is
// non-nil when the listing write succeeded but the version record append
// failed; the listing write is not rolled back in that case.
type SubmitOutcome struct {
	Listing          *Listing
	VersionRecordErr error
}

// --- Public reads ---

// PublicDirectory returns published listings filtered by search text and
// category, newest first, together with the store settings. When the backend
// read fails the built-in sample set is substituted and the response states so
// explicitly; a missing-table failure additionally flags that setup is needed.
func (s *StoreService) PublicDirectory(ctx context.Context, search, category string) *DirectoryResponse {
	resp := &DirectoryResponse{Source: SourceLive}

	listings, err := s.backend.ListListings(ctx, true)
	if err != nil {
		s.logger.Warn().Err(err).Msg("listing fetch failed, serving sample data")
		resp.Source = SourceSample
		resp.SetupRequired = errors.Is(err, ErrTableNotFound)
		listings = SampleListings()
	}
	resp.Listings = filterDirectory(listings, search, category)
	resp.Settings = s.settingsOrDefault(ctx)
	return resp
}

// AdminDirectory returns listings across all statuses filtered by search text
// (matched against name and developer) and category.
func (s *StoreService) AdminDirectory(ctx context.Context, search, category string) *DirectoryResponse {
	resp := &DirectoryResponse{Source: SourceLive}

	listings, err := s.backend.ListListings(ctx, false)
	if err != nil {
		s.logger.Warn().Err(err).Msg("admin listing fetch failed, serving sample data")
		resp.Source = SourceSample
		resp.SetupRequired = errors.Is(err, ErrTableNotFound)
		listings = SampleListings()
	}
	resp.Listings = filterAdmin(listings, search, category)
	resp.Settings = s.settingsOrDefault(ctx)
	return resp
}

// ListingDetail returns one listing and its reviews, newest review first.
func (s *StoreService) ListingDetail(ctx context.Context, id string) (*ListingDetailResponse, error) {
	listing, err := s.backend.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}

	reviews, err := s.backend.ListReviews(ctx, id)
	if err != nil {
		// The page still renders without reviews.
		s.logger.Warn().Err(err).Str("listing", id).Msg("review fetch failed")
		reviews = []*Review{}
	}
	return &ListingDetailResponse{Listing: listing, Reviews: reviews}, nil
}

// Download increments a listing's download counter by one and returns the
// package URL for the client to open.
func (s *StoreService) Download(ctx context.Context, id string) (*DownloadResponse, error) {
	listing, err := s.backend.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := s.backend.IncrementDownloads(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to record download: %w", err)
	}
	return &DownloadResponse{PackageURL: listing.PackageURL, Downloads: count}, nil
}

// ShareURL returns the canonical public URL for a listing.
func (s *StoreService) ShareURL(id string) string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/app/" + id
}

// --- Admin workflow ---

// ChangeStatus transitions a listing's lifecycle status, bumps its update
// timestamp, and notifies the sync webhook. Notifier failure never rolls the
// transition back.
func (s *StoreService) ChangeStatus(ctx context.Context, id, status string) (*Listing, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("invalid status: %s", status)
	}
	fields := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if err := s.backend.UpdateListing(ctx, id, fields); err != nil {
		return nil, fmt.Errorf("failed to update listing status: %w", err)
	}

	listing, err := s.backend.GetListing(ctx, id)
	if err != nil {
		// The transition already happened; notify with what we know.
		s.logger.Warn().Err(err).Str("listing", id).Msg("re-fetch after status change failed")
		listing = &Listing{ID: id, Status: status}
	}
	s.notifier.Notify(listing, ActionStatusUpdate)
	return listing, nil
}

// DeleteListing deletes a listing row, then best-effort deletes its version
// records and reviews. The cascade is an explicit decision of this service,
// not a backend guarantee; cleanup failures are logged and swallowed.
func (s *StoreService) DeleteListing(ctx context.Context, id string) error {
	if err := s.backend.DeleteListing(ctx, id); err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}
	if err := s.backend.DeleteVersionsForListing(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("listing", id).Msg("version record cleanup failed")
	}
	if err := s.backend.DeleteReviewsForListing(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("listing", id).Msg("review cleanup failed")
	}
	return nil
}

// SubmitListing creates or updates a listing from the admin form. Attached
// files are uploaded concurrently and joined before the listing write; any
// upload failure aborts the whole submission (already-uploaded blobs are not
// cleaned up). A version record is always appended after a successful listing
// write; its failure is surfaced on the outcome rather than rolling back.
func (s *StoreService) SubmitListing(ctx context.Context, sub *ListingSubmission) (*SubmitOutcome, error) {
	if strings.TrimSpace(sub.Name) == "" {
		return nil, fmt.Errorf("listing name is required")
	}
	if !ValidCategory(sub.Category) {
		return nil, fmt.Errorf("unknown category: %s", sub.Category)
	}

	iconURL, packageURL, screenshotURLs, err := s.resolveAssets(ctx, sub)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var listing *Listing
	action := ActionCreate

	if sub.ID == "" {
		listing = &Listing{
			ID:          uuid.NewString(),
			Name:        sub.Name,
			Description: sub.Description,
			Category:    sub.Category,
			IconURL:     iconURL,
			PackageURL:  packageURL,
			Screenshots: screenshotURLs,
			Rating:      0,
			Downloads:   0,
			Developer:   sub.Developer,
			Version:     sub.Version,
			Size:        sub.Size,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.backend.InsertListing(ctx, listing); err != nil {
			return nil, fmt.Errorf("failed to create listing: %w", err)
		}
	} else {
		action = ActionUpdate
		existing, err := s.backend.GetListing(ctx, sub.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load listing for update: %w", err)
		}
		// Status, rating, and download count are preserved on edit; new
		// screenshots accumulate onto the existing set, and resubmitted URLs
		// are not duplicated.
		listing = existing
		listing.Name = sub.Name
		listing.Description = sub.Description
		listing.Category = sub.Category
		listing.IconURL = iconURL
		listing.PackageURL = packageURL
		listing.Screenshots = appendNewScreenshots(existing.Screenshots, screenshotURLs)
		listing.Developer = sub.Developer
		listing.Version = sub.Version
		listing.Size = sub.Size
		listing.UpdatedAt = now

		fields := map[string]interface{}{
			"name":        listing.Name,
			"description": listing.Description,
			"category":    listing.Category,
			"icon_url":    listing.IconURL,
			"package_url": listing.PackageURL,
			"screenshots": listing.Screenshots,
			"developer":   listing.Developer,
			"version":     listing.Version,
			"size":        listing.Size,
			"updated_at":  listing.UpdatedAt,
		}
		if err := s.backend.UpdateListing(ctx, sub.ID, fields); err != nil {
			return nil, fmt.Errorf("failed to update listing: %w", err)
		}
	}

	outcome := &SubmitOutcome{Listing: listing}

	notes := strings.TrimSpace(sub.ReleaseNotes)
	if notes == "" {
		notes = DefaultReleaseNotes
	}
	record := &VersionRecord{
		ID:           uuid.NewString(),
		ListingID:    listing.ID,
		Version:      listing.Version,
		ReleaseNotes: notes,
		PackageURL:   listing.PackageURL,
		CreatedAt:    now,
	}
	if err := s.backend.InsertVersion(ctx, record); err != nil {
		// Partial write: the listing is in but its history entry is not.
		s.logger.Error().Err(err).Str("listing", listing.ID).Msg("version record append failed")
		outcome.VersionRecordErr = err
		return outcome, nil
	}

	s.notifier.Notify(listing, action)
	return outcome, nil
}

// VersionHistory returns a listing's version records newest first, with the
// newest flagged current.
func (s *StoreService) VersionHistory(ctx context.Context, listingID string) ([]*VersionEntry, error) {
	records, err := s.backend.ListVersions(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	entries := make([]*VersionEntry, len(records))
	for i, r := range records {
		entries[i] = &VersionEntry{VersionRecord: *r, Current: i == 0}
	}
	return entries, nil
}

// Rollback copies a historical version record's label and package URL onto
// the parent listing. The newest record is refused; no version record is
// mutated or removed.
func (s *StoreService) Rollback(ctx context.Context, listingID, versionID string) error {
	records, err := s.backend.ListVersions(ctx, listingID)
	if err != nil {
		return fmt.Errorf("failed to list versions: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no version history for listing %s", listingID)
	}
	if records[0].ID == versionID {
		return ErrRollbackCurrent
	}

	var target *VersionRecord
	for _, r := range records {
		if r.ID == versionID {
			target = r
			break
		}
	}
	if target == nil {
		return fmt.Errorf("version record %s: %w", versionID, ErrNotFound)
	}

	fields := map[string]interface{}{
		"version":     target.Version,
		"package_url": target.PackageURL,
		"updated_at":  time.Now().UTC(),
	}
	if err := s.backend.UpdateListing(ctx, listingID, fields); err != nil {
		return fmt.Errorf("failed to roll back listing: %w", err)
	}
	return nil
}

// Settings returns the store settings singleton, falling back to defaults
// when the backend row is unavailable.
func (s *StoreService) Settings(ctx context.Context) *StoreSettings {
	return s.settingsOrDefault(ctx)
}

// SaveSettings upserts the store settings singleton.
func (s *StoreService) SaveSettings(ctx context.Context, settings *StoreSettings) error {
	if err := s.backend.UpsertSettings(ctx, settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *StoreService) settingsOrDefault(ctx context.Context) *StoreSettings {
	settings, err := s.backend.GetSettings(ctx)
	if err != nil {
		s.logger.Debug().Err(err).Msg("settings fetch failed, using defaults")
		return SampleSettings()
	}
	return settings
}

// --- Asset resolution ---

// resolveAssets resolves icon, package, and screenshot references for a
// submission. Attached files win over URL fields; all uploads run in parallel
// and are joined before the listing write proceeds.
func (s *StoreService) resolveAssets(ctx context.Context, sub *ListingSubmission) (string, string, []string, error) {
	iconURL := sub.IconURL
	packageURL := sub.PackageURL
	uploaded := make([]string, len(sub.Screenshots))

	grp, ctx := errgroup.WithContext(ctx)
	if sub.Icon != nil {
		grp.Go(func() error {
			u, err := s.uploadAsset(ctx, sub.Category, sub.Icon)
			if err != nil {
				return fmt.Errorf("icon upload failed: %w", err)
			}
			iconURL = u
			return nil
		})
	}
	if sub.Package != nil {
		grp.Go(func() error {
			u, err := s.uploadAsset(ctx, sub.Category, sub.Package)
			if err != nil {
				return fmt.Errorf("package upload failed: %w", err)
			}
			packageURL = u
			return nil
		})
	}
	for i, shot := range sub.Screenshots {
		i, shot := i, shot
		grp.Go(func() error {
			u, err := s.uploadAsset(ctx, sub.Category, shot)
			if err != nil {
				return fmt.Errorf("screenshot upload failed: %w", err)
			}
			uploaded[i] = u
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return "", "", nil, err
	}

	screenshots := append([]string{}, sub.ScreenshotURLs...)
	screenshots = append(screenshots, uploaded...)
	return iconURL, packageURL, screenshots, nil
}

// uploadAsset stores a file under a category-named path with a randomized
// filename and returns its public URL.
func (s *StoreService) uploadAsset(ctx context.Context, category string, f *UploadFile) (string, error) {
	ext := strings.ToLower(filepath.Ext(f.Name))
	path := fmt.Sprintf("%s/%s%s", strings.ToLower(category), uuid.NewString(), ext)
	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return s.backend.UploadObject(ctx, path, f.Data, contentType)
}

// appendNewScreenshots appends the incoming screenshot URLs that are not
// already in the existing set, preserving order.
func appendNewScreenshots(existing, incoming []string) []string {
	out := append([]string{}, existing...)
	seen := make(map[string]bool, len(existing))
	for _, s := range existing {
		seen[s] = true
	}
	for _, s := range incoming {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// --- Filter predicates ---

// filterDirectory applies the public directory predicate: case-insensitive
// substring match of search against name or description, and an exact
// category match unless the sentinel "All" is selected.
func filterDirectory(listings []*Listing, search, category string) []*Listing {
	out := make([]*Listing, 0, len(listings))
	for _, l := range listings {
		if !categoryMatches(l, category) {
			continue
		}
		if searchMatches(search, l.Name, l.Description) {
			out = append(out, l)
		}
	}
	return out
}

// filterAdmin applies the admin predicate, which matches search against name
// or developer instead of the description.
func filterAdmin(listings []*Listing, search, category string) []*Listing {
	out := make([]*Listing, 0, len(listings))
	for _, l := range listings {
		if !categoryMatches(l, category) {
			continue
		}
		if searchMatches(search, l.Name, l.Developer) {
			out = append(out, l)
		}
	}
	return out
}

func categoryMatches(l *Listing, category string) bool {
	return category == "" || category == CategoryAll || l.Category == category
}

func searchMatches(search string, fields ...string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(search)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), needle) {
			return true
		}
	}
	return false
}
