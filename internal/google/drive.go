package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"autoposter/internal/domain"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

// FolderProbe checks that a service account can read an account's Drive folder.
type FolderProbe struct {
	newService func(ctx context.Context, credentialsFile string) (*drive.Service, error)
}

func NewFolderProbe() *FolderProbe {
	return &FolderProbe{newService: newDriveService}
}

func newDriveService(ctx context.Context, credentialsFile string) (*drive.Service, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}
	cfg, err := google.JWTConfigFromJSON(data, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCredentialsInvalid, err)
	}
	return drive.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx)))
}

// Verify fetches the folder metadata. Missing or forbidden folders map to
// ErrDriveFolderDenied; anything else is returned as is.
func (p *FolderProbe) Verify(ctx context.Context, credentialsFile, folderID string) error {
	if folderID == "" {
		return fmt.Errorf("%w: no folder configured", domain.ErrDriveFolderDenied)
	}

	srv, err := p.newService(ctx, credentialsFile)
	if err != nil {
		return err
	}

	file, err := srv.Files.Get(folderID).SupportsAllDrives(true).Fields("id", "mimeType").Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusForbidden) {
			return fmt.Errorf("%w: %s", domain.ErrDriveFolderDenied, folderID)
		}
		return fmt.Errorf("drive folder check failed: %w", err)
	}
	if file.MimeType != folderMimeType {
		return fmt.Errorf("%w: %s is not a folder", domain.ErrDriveFolderDenied, folderID)
	}
	return nil
}
