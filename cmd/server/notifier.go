// internal/notifier/notifier.go - Spreadsheet sync webhook notifier.
//
// This file implements the best-effort mirror of listing mutations to an
// external spreadsheet-sync webhook. Calls are fire-and-forget: they run in
// their own goroutine and transport failures are logged and swallowed.
package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Mutation action tags carried on the webhook payload.
const (
	ActionCreate       = "create"
	ActionUpdate       = "update"
	ActionStatusUpdate = "status_update"
)

// SyncNotifier posts listing mutations to the configured webhook endpoint.
// A notifier with an empty URL is a no-op.
type SyncNotifier struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewSyncNotifier creates a new SyncNotifier instance.
func NewSyncNotifier(url string, logger zerolog.Logger) *SyncNotifier {
	return &SyncNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "sync-notifier").Logger(),
	}
}

// syncPayload is the JSON body posted to the webhook: the listing fields plus
// the action tag.
type syncPayload struct {
	Action  string   `json:"action"`
	Listing *Listing `json:"listing"`
}

// Notify mirrors a listing mutation to the webhook without blocking the
// caller. Failures never propagate back to the mutation that triggered them.
func (n *SyncNotifier) Notify(listing *Listing, action string) {
	if n.url == "" {
		return
	}
	go func() {
		if err := n.send(listing, action); err != nil {
			n.logger.Warn().Err(err).Str("action", action).Msg("sheet sync failed")
		}
	}()
}

// send performs the webhook POST synchronously.
func (n *SyncNotifier) send(listing *Listing, action string) error {
	body, err := json.Marshal(syncPayload{Action: action, Listing: listing})
	if err != nil {
		return err
	}
	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warn().Int("status", resp.StatusCode).Str("action", action).Msg("sheet sync rejected")
	}
	return nil
}
