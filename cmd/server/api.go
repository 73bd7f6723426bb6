// api/handlers.go - HTTP handler functions for the public REST API endpoints.
//
// This file wires the public storefront and auth routes, implements their
// handlers, and provides the shared request/response helpers used by every
// handler in the service.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// SetupPublicRoutes defines public API endpoints that do not require authentication.
func SetupPublicRoutes(router *mux.Router, store *StoreService, logger zerolog.Logger) {
	router.HandleFunc("/listings", handleDirectory(store, logger)).Methods("GET")
	router.HandleFunc("/listings/{id}", handleListingDetail(store, logger)).Methods("GET")
	router.HandleFunc("/listings/{id}/download", handleDownload(store, logger)).Methods("POST")
	router.HandleFunc("/listings/{id}/share", handleShare(store)).Methods("GET")
	router.HandleFunc("/categories", handleCategories()).Methods("GET")
}

// SetupAuthRoutes defines the sign-in endpoints: password (with demo bypass),
// OAuth redirect, and the biometric enrollment/login flows. Enrollment is
// session-gated; the credential is bound to the signed-in user, not to any
// identity named in the request.
func SetupAuthRoutes(router *mux.Router, auth *AuthService, bio *BiometricService, logger zerolog.Logger) {
	authRouter := router.PathPrefix("/auth").Subrouter()
	authRouter.HandleFunc("/login", handleLogin(auth, logger)).Methods("POST")
	authRouter.HandleFunc("/logout", handleLogout(auth)).Methods("POST")
	authRouter.HandleFunc("/oauth/{provider}", handleOAuthRedirect(auth)).Methods("GET")

	registerRouter := authRouter.PathPrefix("/webauthn/register").Subrouter()
	registerRouter.Use(SessionMiddleware(auth))
	registerRouter.HandleFunc("/begin", handleWebAuthnRegisterBegin(bio, logger)).Methods("POST")
	registerRouter.HandleFunc("/finish", handleWebAuthnRegisterFinish(bio, logger)).Methods("POST")

	authRouter.HandleFunc("/webauthn/login/begin", handleWebAuthnLoginBegin(bio, logger)).Methods("POST")
	authRouter.HandleFunc("/webauthn/login/finish", handleWebAuthnLoginFinish(bio, logger)).Methods("POST")
}

// --- Public Endpoints Handlers ---

func handleDirectory(store *StoreService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		search := r.URL.Query().Get("q")
		category := r.URL.Query().Get("category")
		respondJSON(w, http.StatusOK, store.PublicDirectory(r.Context(), search, category))
	}
}

func handleListingDetail(store *StoreService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		detail, err := store.ListingDetail(r.Context(), id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				respondError(w, http.StatusNotFound, fmt.Sprintf("Listing not found: %s", id))
				return
			}
			logger.Error().Err(err).Str("listing", id).Msg("listing detail fetch failed")
			respondError(w, http.StatusBadGateway, "Failed to load listing")
			return
		}
		respondJSON(w, http.StatusOK, detail)
	}
}

func handleDownload(store *StoreService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		resp, err := store.Download(r.Context(), id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				respondError(w, http.StatusNotFound, fmt.Sprintf("Listing not found: %s", id))
				return
			}
			logger.Error().Err(err).Str("listing", id).Msg("download increment failed")
			respondError(w, http.StatusBadGateway, "Failed to record download")
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

func handleShare(store *StoreService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, ShareResponse{URL: store.ShareURL(mux.Vars(r)["id"])})
	}
}

func handleCategories() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string][]string{"categories": ListingCategories})
	}
}

// --- Auth Endpoints Handlers ---

func handleLogin(auth *AuthService, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			return
		}
		resp, err := auth.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

func handleLogout(auth *AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token := extractBearerToken(r); token != "" {
			auth.Logout(r.Context(), token)
		}
		respondNoContent(w)
	}
}

func handleOAuthRedirect(auth *AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := mux.Vars(r)["provider"]
		http.Redirect(w, r, auth.OAuthURL(provider), http.StatusFound)
	}
}

// --- Middleware ---

// CORSMiddleware allows browser clients on any origin; the storefront and
// admin UI are served separately from this API.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequestLogger logs one line per request.
func RequestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("elapsed", time.Since(start)).
				Msg("request")
		})
	}
}

// --- Helper functions ---

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		response, _ := json.Marshal(payload)
		w.Write(response)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// decodeJSONBody decodes a JSON request body into dst, writing an error
// response and returning a non-nil error when the body is malformed.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		msg := "Content-Type header is not application/json"
		respondError(w, http.StatusUnsupportedMediaType, msg)
		return errors.New(msg)
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields() // Catch extra fields in request body

	if err := decoder.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError

		switch {
		case errors.As(err, &syntaxError):
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("Request body contains badly-formed JSON (at position %d)", syntaxError.Offset))

		case errors.Is(err, io.ErrUnexpectedEOF):
			respondError(w, http.StatusBadRequest, "Request body contains badly-formed JSON")

		case errors.As(err, &unmarshalTypeError):
			respondError(w, http.StatusBadRequest,
				fmt.Sprintf("Request body contains an invalid value for the %q field", unmarshalTypeError.Field))

		case strings.HasPrefix(err.Error(), "json: unknown field "):
			fieldName := strings.TrimPrefix(err.Error(), "json: unknown field ")
			respondError(w, http.StatusBadRequest, fmt.Sprintf("Request body contains unknown field %s", fieldName))

		case errors.Is(err, io.EOF):
			respondError(w, http.StatusBadRequest, "Request body must not be empty")

		default:
			respondError(w, http.StatusBadRequest, "Bad request")
		}
		return err
	}

	if decoder.More() {
		msg := "Request body must only contain a single JSON object"
		respondError(w, http.StatusBadRequest, msg)
		return errors.New(msg)
	}

	return nil
}
