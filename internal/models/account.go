package models

import "strings"

// Platform identifiers understood by the upload collaborator.
const (
	PlatformTikTok    = "tiktok"
	PlatformInstagram = "instagram"
	PlatformFacebook  = "facebook"
	PlatformYouTube   = "youtube"
)

var knownPlatforms = map[string]bool{
	PlatformTikTok:    true,
	PlatformInstagram: true,
	PlatformFacebook:  true,
	PlatformYouTube:   true,
}

// Account is a social-media account owned by a user. Scheduling only reads it.
type Account struct {
	ID                  string `json:"id"`
	OwnerID             string `json:"owner_id"`
	Email               string `json:"email"`
	Password            string `json:"-"`
	Platform            string `json:"platform,omitempty"`  // legacy single-platform column
	PlatformsCSV        string `json:"platforms,omitempty"` // e.g. "tiktok,instagram"
	GoogleDriveFolderID string `json:"google_drive_folder_id"`
	FacebookPageID      string `json:"facebook_page_id,omitempty"`
	FacebookGroupID     string `json:"facebook_group_id,omitempty"`
	FacebookPostToPage  bool   `json:"facebook_post_to_page"`
	FacebookPostToGroup bool   `json:"facebook_post_to_group"`
}

// Platforms normalizes the CSV and single-platform columns into an ordered list.
// The CSV column wins when both are set. Unknown names are dropped, so a garbled
// value yields an empty list rather than an error.
func (a *Account) Platforms() []string {
	raw := a.PlatformsCSV
	if strings.TrimSpace(raw) == "" {
		raw = a.Platform
	}
	return ParsePlatforms(raw)
}

// ParsePlatforms splits a comma separated platform list, lowercases, de-duplicates
// and keeps only known identifiers in their original order.
func ParsePlatforms(raw string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" || !knownPlatforms[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
