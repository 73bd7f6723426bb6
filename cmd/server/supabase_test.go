// supabase_test.go - Tests for the Supabase gateway over a fake REST backend.
package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestGateway(t *testing.T, handler http.Handler) (*SupabaseGateway, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.SupabaseURL = srv.URL
	cfg.SupabaseAnonKey = "test-anon-key"
	return NewSupabaseGateway(cfg, zerolog.Nop()), srv
}

func TestListListingsQueryAndHeaders(t *testing.T) {
	var gotPath, gotQuery, gotKey, gotAuth string
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":"l1","name":"Hammer","status":"published"}]`)
	}))

	listings, err := gw.ListListings(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.Equal(t, "Hammer", listings[0].Name)

	assert.Equal(t, "/rest/v1/listings", gotPath)
	assert.Contains(t, gotQuery, "order=created_at.desc")
	assert.Contains(t, gotQuery, "status=eq.published")
	assert.Equal(t, "test-anon-key", gotKey)
	assert.Equal(t, "Bearer test-anon-key", gotAuth)
}

func TestListListingsUnfilteredOmitsStatus(t *testing.T) {
	var gotQuery string
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		io.WriteString(w, `[]`)
	}))

	_, err := gw.ListListings(context.Background(), false)
	require.NoError(t, err)
	assert.NotContains(t, gotQuery, "status=eq.")
}

func TestGetListingSingularObject(t *testing.T) {
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.pgrst.object+json", r.Header.Get("Accept"))
		assert.Contains(t, r.URL.RawQuery, "id=eq.l1")
		io.WriteString(w, `{"id":"l1","name":"Hammer"}`)
	}))

	listing, err := gw.GetListing(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, "Hammer", listing.Name)
}

func TestGetListingNotFound(t *testing.T) {
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotAcceptable)
	}))

	_, err := gw.GetListing(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"missing table", `{"code":"PGRST205","message":"table not in schema cache"}`, ErrTableNotFound},
		{"undefined table", `{"code":"42P01","message":"relation does not exist"}`, ErrTableNotFound},
		{"missing function", `{"code":"PGRST202","message":"function not found"}`, ErrFunctionNotFound},
		{"row not found", `{"code":"PGRST116","message":"zero rows"}`, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classifyBody(http.StatusNotFound, []byte(tc.body))
			assert.ErrorIs(t, err, tc.want)
		})
	}

	err := classifyBody(http.StatusForbidden, []byte(`{"message":"permission denied"}`))
	assert.ErrorContains(t, err, "permission denied")
}

func TestInsertListingPrefersMinimalReturn(t *testing.T) {
	var gotPrefer string
	var gotBody []byte
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrefer = r.Header.Get("Prefer")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))

	err := gw.InsertListing(context.Background(), &Listing{ID: "l1", Name: "Hammer"})
	require.NoError(t, err)
	assert.Equal(t, "return=minimal", gotPrefer)
	assert.Equal(t, "l1", gjson.GetBytes(gotBody, "id").String())
}

func TestUpsertSettingsMergesDuplicates(t *testing.T) {
	var gotPrefer string
	var gotBody []byte
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrefer = r.Header.Get("Prefer")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))

	err := gw.UpsertSettings(context.Background(), &StoreSettings{StoreName: "Nexus"})
	require.NoError(t, err)
	assert.Contains(t, gotPrefer, "resolution=merge-duplicates")
	// The singleton id is forced regardless of input.
	assert.Equal(t, SettingsID, gjson.GetBytes(gotBody, "id").String())
}

func TestIncrementDownloadsViaRPC(t *testing.T) {
	var patched bool
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/rest/v1/rpc/increment_downloads":
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, "l1", gjson.GetBytes(body, "listing_id").String())
			io.WriteString(w, `42`)
		case r.Method == http.MethodPatch:
			patched = true
		}
	}))

	count, err := gw.IncrementDownloads(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
	assert.False(t, patched, "RPC path must not fall back to read-modify-write")
}

func TestIncrementDownloadsFallbackWhenFunctionMissing(t *testing.T) {
	var patchBody []byte
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/rest/v1/rpc/increment_downloads":
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"code":"PGRST202","message":"function not found"}`)
		case r.Method == http.MethodGet:
			io.WriteString(w, `{"id":"l1","downloads":7}`)
		case r.Method == http.MethodPatch:
			patchBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusNoContent)
		}
	}))

	count, err := gw.IncrementDownloads(context.Background(), "l1")
	require.NoError(t, err)
	assert.Equal(t, int64(8), count)
	assert.Equal(t, int64(8), gjson.GetBytes(patchBody, "downloads").Int())
}

func TestIncrementDownloadsOtherRPCErrorPropagates(t *testing.T) {
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"message":"backend down"}`)
	}))

	_, err := gw.IncrementDownloads(context.Background(), "l1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrFunctionNotFound)
}

func TestUploadObjectReturnsPublicURL(t *testing.T) {
	var gotPath, gotType string
	var gotData []byte
	gw, srv := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		gotData, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	url, err := gw.UploadObject(context.Background(), "tools/icon.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "/storage/v1/object/app-assets/tools/icon.png", gotPath)
	assert.Equal(t, "image/png", gotType)
	assert.Equal(t, []byte("png-bytes"), gotData)
	assert.Equal(t, srv.URL+"/storage/v1/object/public/app-assets/tools/icon.png", url)
}

func TestSignInWithPassword(t *testing.T) {
	gw, _ := newTestGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		if creds["password"] != "hunter2" {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error_description":"Invalid login credentials"}`)
			return
		}
		io.WriteString(w, `{"access_token":"tok","user":{"id":"u1","email":"ops@nexus.com"}}`)
	}))

	session, err := gw.SignInWithPassword(context.Background(), "ops@nexus.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok", session.AccessToken)
	assert.Equal(t, "u1", session.User.ID)

	_, err = gw.SignInWithPassword(context.Background(), "ops@nexus.com", "wrong")
	assert.ErrorContains(t, err, "Invalid login credentials")
}

func TestOAuthAuthorizeURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SupabaseURL = "https://proj.supabase.co"
	cfg.SupabaseAnonKey = "k"
	gw := NewSupabaseGateway(cfg, zerolog.Nop())

	url := gw.OAuthAuthorizeURL("github", "http://localhost:8080/admin")
	assert.Equal(t, "https://proj.supabase.co/auth/v1/authorize?provider=github&redirect_to=http%3A%2F%2Flocalhost%3A8080%2Fadmin", url)
}

func TestUnconfiguredGateway(t *testing.T) {
	gw := NewSupabaseGateway(DefaultConfig(), zerolog.Nop())
	require.False(t, gw.Configured())

	_, err := gw.ListListings(context.Background(), true)
	assert.ErrorIs(t, err, ErrBackendNotConfigured)

	_, err = gw.GetListing(context.Background(), "l1")
	assert.ErrorIs(t, err, ErrBackendNotConfigured)

	err = gw.InsertListing(context.Background(), &Listing{ID: "l1"})
	assert.ErrorIs(t, err, ErrBackendNotConfigured)

	_, err = gw.UploadObject(context.Background(), "p", nil, "text/plain")
	assert.ErrorIs(t, err, ErrBackendNotConfigured)

	_, err = gw.SignInWithPassword(context.Background(), "a@b.c", "pw")
	assert.ErrorIs(t, err, ErrBackendNotConfigured)
}
