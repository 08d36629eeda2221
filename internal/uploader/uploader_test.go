package uploader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"autoposter/internal/config"
	"autoposter/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shell(t *testing.T, script string) *Command {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}
	logger := zerolog.Nop()
	return New(config.UploaderConfig{
		Command: "/bin/sh",
		Args:    []string{"-c", script},
		WorkDir: t.TempDir(),
	}, &logger).(*Command)
}

func TestCommandPassesRequest(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	c := shell(t, `cat > "`+out+`.json"; printf %s "$GOOGLE_APPLICATION_CREDENTIALS" > "`+out+`.env"`)

	req := models.UploadRequest{
		TaskID:          "t1",
		Email:           "acc@example.com",
		Platforms:       []string{models.PlatformTikTok, models.PlatformYouTube},
		CredentialsFile: "/keys/sa.json",
	}
	require.NoError(t, c.Upload(context.Background(), req))

	data, err := os.ReadFile(out + ".json")
	require.NoError(t, err)
	var got models.UploadRequest
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, req, got)

	env, err := os.ReadFile(out + ".env")
	require.NoError(t, err)
	assert.Equal(t, "/keys/sa.json", string(env))
}

func TestCommandFailureCarriesStderr(t *testing.T) {
	c := shell(t, `echo "starting" >&2; echo "TimeoutError: upload button not found" >&2; exit 3`)

	err := c.Upload(context.Background(), models.UploadRequest{TaskID: "t1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code 3")
	assert.Contains(t, err.Error(), "TimeoutError: upload button not found")
	assert.NotContains(t, err.Error(), "starting")
}

func TestCommandHonoursCancellation(t *testing.T) {
	c := shell(t, `sleep 30`)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Upload(ctx, models.UploadRequest{TaskID: "t1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 15*time.Second)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "no output", tail("  \n"))
	assert.Equal(t, "last", tail("first\nlast\n"))
	long := make([]byte, maxStderr+10)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, tail(string(long)), maxStderr)
}

func TestNewSelectsDryRun(t *testing.T) {
	logger := zerolog.Nop()
	u := New(config.UploaderConfig{}, &logger)
	require.IsType(t, &DryRun{}, u)
	assert.NoError(t, u.Upload(context.Background(), models.UploadRequest{TaskID: "t1"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, u.Upload(ctx, models.UploadRequest{TaskID: "t1"}), context.Canceled)
}
