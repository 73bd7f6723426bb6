// internal/sample/sample.go - Built-in sample dataset.
//
// This file holds the fixed sample listings and default settings served when
// the backend is unreachable or not yet provisioned, so the storefront is
// never empty. Responses carrying this data are marked source=sample.
package main

import "time"

var sampleEpoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// SampleListings returns the built-in published sample set.
func SampleListings() []*Listing {
	return []*Listing{
		{
			ID:          "sample-pixelforge",
			Name:        "PixelForge",
			Description: "Layer-based pixel art editor with palette management and sprite export.",
			Category:    "Tools",
			IconURL:     "https://placehold.co/96x96?text=PF",
			PackageURL:  "https://example.com/packages/pixelforge.apk",
			Screenshots: []string{"https://placehold.co/540x960?text=PixelForge"},
			Rating:      4.6,
			Downloads:   12840,
			Developer:   "Forge Labs",
			Version:     "2.3.1",
			Size:        "18 MB",
			Status:      StatusPublished,
			CreatedAt:   sampleEpoch.AddDate(0, 0, 5),
			UpdatedAt:   sampleEpoch.AddDate(0, 0, 5),
		},
		{
			ID:          "sample-orbitrunner",
			Name:        "Orbit Runner",
			Description: "Endless runner through procedurally generated asteroid fields.",
			Category:    "Games",
			IconURL:     "https://placehold.co/96x96?text=OR",
			PackageURL:  "https://example.com/packages/orbit-runner.apk",
			Screenshots: []string{"https://placehold.co/540x960?text=Orbit+Runner"},
			Rating:      4.2,
			Downloads:   58210,
			Developer:   "Redshift Games",
			Version:     "1.9.0",
			Size:        "64 MB",
			Status:      StatusPublished,
			CreatedAt:   sampleEpoch.AddDate(0, 0, 4),
			UpdatedAt:   sampleEpoch.AddDate(0, 0, 4),
		},
		{
			ID:          "sample-daybook",
			Name:        "Daybook",
			Description: "Minimal journaling app with markdown notes and daily reminders.",
			Category:    "Productivity",
			IconURL:     "https://placehold.co/96x96?text=DB",
			PackageURL:  "https://example.com/packages/daybook.apk",
			Screenshots: []string{"https://placehold.co/540x960?text=Daybook"},
			Rating:      4.8,
			Downloads:   9310,
			Developer:   "Quiet Software",
			Version:     "3.0.2",
			Size:        "12 MB",
			Status:      StatusPublished,
			CreatedAt:   sampleEpoch.AddDate(0, 0, 3),
			UpdatedAt:   sampleEpoch.AddDate(0, 0, 3),
		},
		{
			ID:          "sample-chatterbox",
			Name:        "Chatterbox",
			Description: "Group messaging with ephemeral rooms and voice notes.",
			Category:    "Social",
			IconURL:     "https://placehold.co/96x96?text=CB",
			PackageURL:  "https://example.com/packages/chatterbox.apk",
			Screenshots: []string{"https://placehold.co/540x960?text=Chatterbox"},
			Rating:      3.9,
			Downloads:   104220,
			Developer:   "Loquax",
			Version:     "5.12.0",
			Size:        "41 MB",
			Status:      StatusPublished,
			CreatedAt:   sampleEpoch.AddDate(0, 0, 2),
			UpdatedAt:   sampleEpoch.AddDate(0, 0, 2),
		},
		{
			ID:          "sample-lexiquest",
			Name:        "LexiQuest",
			Description: "Vocabulary trainer with spaced repetition and duel mode.",
			Category:    "Education",
			IconURL:     "https://placehold.co/96x96?text=LQ",
			PackageURL:  "https://example.com/packages/lexiquest.apk",
			Screenshots: []string{"https://placehold.co/540x960?text=LexiQuest"},
			Rating:      4.4,
			Downloads:   23050,
			Developer:   "Athena Apps",
			Version:     "1.4.7",
			Size:        "27 MB",
			Status:      StatusPublished,
			CreatedAt:   sampleEpoch.AddDate(0, 0, 1),
			UpdatedAt:   sampleEpoch.AddDate(0, 0, 1),
		},
	}
}

// SampleSettings returns default store settings used when the backend row is
// unavailable.
func SampleSettings() *StoreSettings {
	return &StoreSettings{
		ID:              SettingsID,
		StoreName:       "Nexus App Store",
		ContactEmail:    "support@nexus.com",
		MaintenanceMode: false,
	}
}
