// api/admin.go - HTTP handler functions for the admin console endpoints.
//
// This file wires the session-gated admin routes: listing management (search,
// create/edit with file attachments, status transitions, delete), the version
// history and rollback flow, and the store settings form.
package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const (
	maxUploadBytes = 128 << 20 // whole multipart form
	maxScreenshots = 5
)

// SetupAdminRoutes defines admin API endpoints requiring a resolvable session.
func SetupAdminRoutes(router *mux.Router, store *StoreService, resolver SessionResolver, logger zerolog.Logger) {
	adminRouter := router.PathPrefix("/admin").Subrouter()
	adminRouter.Use(SessionMiddleware(resolver))

	adminRouter.HandleFunc("/listings", handleAdminListings(store)).Methods("GET")
	adminRouter.HandleFunc("/listings", handleCreateListing(store, logger)).Methods("POST")
	adminRouter.HandleFunc("/listings/{id}", handleUpdateListing(store, logger)).Methods("PUT")
	adminRouter.HandleFunc("/listings/{id}", handleDeleteListing(store, logger)).Methods("DELETE")
	adminRouter.HandleFunc("/listings/{id}/status", handleStatusChange(store, logger)).Methods("PATCH")
	adminRouter.HandleFunc("/listings/{id}/versions", handleVersionHistory(store, logger)).Methods("GET")
	adminRouter.HandleFunc("/listings/{id}/rollback", handleRollback(store, logger)).Methods("POST")
	adminRouter.HandleFunc("/settings", handleGetSettings(store)).Methods("GET")
	adminRouter.HandleFunc("/settings", handleSaveSettings(store, logger)).Methods("PUT")
}

// --- Admin Endpoints Handlers ---

func handleAdminListings(store *StoreService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		search := r.URL.Query().Get("q")
		category := r.URL.Query().Get("category")
		respondJSON(w, http.StatusOK, store.AdminDirectory(r.Context(), search, category))
	}
}

func handleCreateListing(store *StoreService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submitListing(store, logger, w, r, "")
	}
}

func handleUpdateListing(store *StoreService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		submitListing(store, logger, w, r, mux.Vars(r)["id"])
	}
}

// submitListing parses the multipart create/edit form and runs the
// submission. A partial write (listing stored, version record append failed)
// is reported on the success payload, distinctly from total failure.
func submitListing(store *StoreService, logger zerolog.Logger, w http.ResponseWriter, r *http.Request, id string) {
	sub, err := parseListingForm(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub.ID = id

	outcome, err := store.SubmitListing(r.Context(), sub)
	if err != nil {
		logger.Error().Err(err).Str("listing", id).Msg("listing submission failed")
		respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to save listing: %v", err))
		return
	}

	resp := SubmitListingResponse{Listing: outcome.Listing}
	if outcome.VersionRecordErr != nil {
		resp.VersionRecordError = fmt.Sprintf("listing saved but version record append failed: %v", outcome.VersionRecordErr)
	}
	status := http.StatusOK
	if id == "" {
		status = http.StatusCreated
	}
	respondJSON(w, status, resp)
}

func handleDeleteListing(store *StoreService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var req DeleteListingRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			return
		}
		if !req.Confirm {
			respondError(w, http.StatusBadRequest, "Deletion requires confirmation")
			return
		}

		if err := store.DeleteListing(r.Context(), id); err != nil {
			logger.Error().Err(err).Str("listing", id).Msg("listing delete failed")
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to delete listing: %v", err))
			return
		}
		respondNoContent(w)
	}
}

func handleStatusChange(store *StoreService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var req StatusChangeRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			return
		}

		listing, err := store.ChangeStatus(r.Context(), id, req.Status)
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to change status: %v", err))
			return
		}
		respondJSON(w, http.StatusOK, listing)
	}
}

func handleVersionHistory(store *StoreService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		entries, err := store.VersionHistory(r.Context(), id)
		if err != nil {
			logger.Error().Err(err).Str("listing", id).Msg("version history fetch failed")
			respondError(w, http.StatusBadGateway, "Failed to load version history")
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"versions": entries})
	}
}

func handleRollback(store *StoreService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var req RollbackRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			return
		}
		if !req.Confirm {
			respondError(w, http.StatusBadRequest, "Rollback requires confirmation")
			return
		}
		if req.VersionID == "" {
			respondError(w, http.StatusBadRequest, "version_id is required")
			return
		}

		err := store.Rollback(r.Context(), id, req.VersionID)
		switch {
		case err == nil:
			respondJSON(w, http.StatusOK, map[string]string{"message": "Listing rolled back"})
		case errors.Is(err, ErrRollbackCurrent):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrNotFound):
			respondError(w, http.StatusNotFound, err.Error())
		default:
			logger.Error().Err(err).Str("listing", id).Msg("rollback failed")
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to roll back: %v", err))
		}
	}
}

func handleGetSettings(store *StoreService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, store.Settings(r.Context()))
	}
}

func handleSaveSettings(store *StoreService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var settings StoreSettings
		if err := decodeJSONBody(w, r, &settings); err != nil {
			return
		}
		if err := store.SaveSettings(r.Context(), &settings); err != nil {
			logger.Error().Err(err).Msg("settings save failed")
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to save settings: %v", err))
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"message": "Settings saved"})
	}
}

// --- Form parsing helpers ---

// parseListingForm reads the multipart create/edit form into a submission.
func parseListingForm(r *http.Request) (*ListingSubmission, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, fmt.Errorf("invalid multipart form: %w", err)
	}

	sub := &ListingSubmission{
		Name:         strings.TrimSpace(r.FormValue("name")),
		Description:  r.FormValue("description"),
		Category:     r.FormValue("category"),
		Developer:    r.FormValue("developer"),
		Version:      r.FormValue("version"),
		Size:         r.FormValue("size"),
		ReleaseNotes: r.FormValue("release_notes"),
		IconURL:      strings.TrimSpace(r.FormValue("icon_url")),
		PackageURL:   strings.TrimSpace(r.FormValue("package_url")),
	}
	for _, u := range r.Form["screenshot_urls"] {
		if u = strings.TrimSpace(u); u != "" {
			sub.ScreenshotURLs = append(sub.ScreenshotURLs, u)
		}
	}

	var err error
	if sub.Icon, err = readFormFile(r, "icon"); err != nil {
		return nil, err
	}
	if sub.Package, err = readFormFile(r, "package"); err != nil {
		return nil, err
	}

	if r.MultipartForm != nil {
		shots := r.MultipartForm.File["screenshots"]
		if len(shots) > maxScreenshots {
			return nil, fmt.Errorf("at most %d screenshots per submission", maxScreenshots)
		}
		for _, fh := range shots {
			f, err := fh.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to read screenshot %s: %w", fh.Filename, err)
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("failed to read screenshot %s: %w", fh.Filename, err)
			}
			sub.Screenshots = append(sub.Screenshots, &UploadFile{
				Name:        fh.Filename,
				Data:        data,
				ContentType: fh.Header.Get("Content-Type"),
			})
		}
	}
	return sub, nil
}

// readFormFile reads an optional single-file field from the multipart form.
func readFormFile(r *http.Request, field string) (*UploadFile, error) {
	f, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", field, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", field, err)
	}
	return &UploadFile{
		Name:        header.Filename,
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
	}, nil
}
