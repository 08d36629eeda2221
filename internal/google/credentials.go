package google

import (
	"fmt"
	"os"
	"path/filepath"

	"autoposter/internal/config"
	"autoposter/internal/domain"
	"autoposter/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
)

// CredentialResolver picks the service-account key used for a user's uploads
// and checks that it parses. A per-user key wins over the global one.
type CredentialResolver struct {
	globalFile string
	searchDirs []string
	logger     *zerolog.Logger
}

func NewCredentialResolver(cfg config.GoogleConfig, logger *zerolog.Logger) *CredentialResolver {
	return &CredentialResolver{
		globalFile: cfg.CredentialsFile,
		searchDirs: cfg.KeySearchDirs,
		logger:     logger,
	}
}

// Resolve returns the path of a valid key for the user.
//
// A per-user key is looked up as given, then relative to the working
// directory, then relative to each search directory. If it cannot be found
// the global key is used; only when both are unusable does Resolve fail,
// with ErrCredentialsFileNotFound when a per-user key was configured and
// ErrCredentialsMissing otherwise.
func (r *CredentialResolver) Resolve(user *models.User) (string, error) {
	userKey := ""
	if user != nil {
		userKey = user.GoogleServiceAccountFile
	}

	if userKey != "" {
		if path, ok := r.findUserKey(userKey); ok {
			r.logger.Debug().Str("path", path).Msg("Using per-user Google credentials")
			return path, validate(path)
		}
	}

	if r.globalFile != "" && fileExists(r.globalFile) {
		if userKey != "" {
			r.logger.Warn().Str("user_key", userKey).Msg("Per-user Google key not found, using global credentials")
		}
		return r.globalFile, validate(r.globalFile)
	}

	if userKey != "" {
		return "", fmt.Errorf("%w: %q; re-upload the service account JSON on the profile page",
			domain.ErrCredentialsFileNotFound, userKey)
	}
	return "", fmt.Errorf("%w: set GOOGLE_APPLICATION_CREDENTIALS or upload a per-user key",
		domain.ErrCredentialsMissing)
}

func (r *CredentialResolver) findUserKey(key string) (string, bool) {
	if fileExists(key) {
		return key, true
	}
	if filepath.IsAbs(key) {
		return "", false
	}

	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, key))
	}
	for _, dir := range r.searchDirs {
		candidates = append(candidates, filepath.Join(dir, key))
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c, true
		}
	}
	return "", false
}

// validate parses the key the same way the upload collaborator will use it.
func validate(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCredentialsFileNotFound, err)
	}
	if _, err := google.JWTConfigFromJSON(data, drive.DriveReadonlyScope); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrCredentialsInvalid, path, err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
