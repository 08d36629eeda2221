package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"autoposter/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

func newTestProbe(t *testing.T, handler http.HandlerFunc) *FolderProbe {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &FolderProbe{
		newService: func(ctx context.Context, _ string) (*drive.Service, error) {
			return drive.NewService(ctx, option.WithEndpoint(server.URL), option.WithoutAuthentication())
		},
	}
}

func TestFolderProbeVerify(t *testing.T) {
	var requested string
	probe := newTestProbe(t, func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"id":       "folder-1",
			"mimeType": folderMimeType,
		})
	})

	require.NoError(t, probe.Verify(context.Background(), "key.json", "folder-1"))
	assert.True(t, strings.HasSuffix(requested, "/files/folder-1"), "unexpected path %s", requested)
}

func TestFolderProbeDenied(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not found", http.StatusNotFound, `{"error":{"code":404,"message":"File not found"}}`},
		{"forbidden", http.StatusForbidden, `{"error":{"code":403,"message":"Insufficient permissions"}}`},
		{"not a folder", http.StatusOK, `{"id":"doc-1","mimeType":"application/pdf"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := newTestProbe(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			err := probe.Verify(context.Background(), "key.json", "doc-1")
			assert.ErrorIs(t, err, domain.ErrDriveFolderDenied)
		})
	}
}

func TestFolderProbeServerError(t *testing.T) {
	probe := newTestProbe(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := probe.Verify(context.Background(), "key.json", "folder-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrDriveFolderDenied)
}

func TestFolderProbeEmptyFolder(t *testing.T) {
	err := NewFolderProbe().Verify(context.Background(), "key.json", "")
	assert.ErrorIs(t, err, domain.ErrDriveFolderDenied)
}
