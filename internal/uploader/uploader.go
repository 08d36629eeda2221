package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"autoposter/internal/config"
	"autoposter/internal/domain"
	"autoposter/internal/models"

	"github.com/rs/zerolog"
)

const (
	credentialsEnv = "GOOGLE_APPLICATION_CREDENTIALS"
	maxStderr      = 512
	killDelay      = 10 * time.Second
)

// New returns the command uploader, or DryRun when no command is configured.
func New(cfg config.UploaderConfig, logger *zerolog.Logger) domain.Uploader {
	if cfg.Command == "" {
		logger.Warn().Msg("No uploader command configured, uploads run in dry-run mode")
		return NewDryRun(logger)
	}
	return &Command{
		path:    cfg.Command,
		args:    cfg.Args,
		workDir: cfg.WorkDir,
		logger:  logger,
	}
}

// Command runs an external uploader once per request. The request is written
// to stdin as JSON; a non-zero exit is an upload failure.
type Command struct {
	path    string
	args    []string
	workDir string
	logger  *zerolog.Logger
}

func (c *Command) Upload(ctx context.Context, req models.UploadRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode upload request: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.path, c.args...)
	cmd.Dir = c.workDir
	cmd.Stdin = bytes.NewReader(body)
	cmd.Env = os.Environ()
	if req.CredentialsFile != "" {
		cmd.Env = append(cmd.Env, credentialsEnv+"="+req.CredentialsFile)
	}
	// Give the uploader a chance to close its browser before it is killed.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = killDelay

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &logWriter{logger: c.logger, taskID: req.TaskID}

	start := time.Now()
	err = cmd.Run()
	c.logger.Debug().
		Str("task_id", req.TaskID).
		Dur("elapsed", time.Since(start)).
		Msg("Uploader command finished")

	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("uploader interrupted: %w", ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("uploader exited with code %d: %s", exitErr.ExitCode(), tail(stderr.String()))
	}
	return fmt.Errorf("run uploader: %w", err)
}

// tail keeps the last line of stderr, which is where uploaders put the reason.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if len(s) > maxStderr {
		s = s[len(s)-maxStderr:]
	}
	if s == "" {
		return "no output"
	}
	return s
}

type logWriter struct {
	logger *zerolog.Logger
	taskID string
}

func (w *logWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.logger.Info().Str("task_id", w.taskID).Msg(line)
		}
	}
	return len(p), nil
}

// DryRun accepts every request without uploading anything.
type DryRun struct {
	logger *zerolog.Logger
}

func NewDryRun(logger *zerolog.Logger) *DryRun {
	return &DryRun{logger: logger}
}

func (d *DryRun) Upload(ctx context.Context, req models.UploadRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.logger.Info().
		Str("task_id", req.TaskID).
		Str("account", req.Email).
		Strs("platforms", req.Platforms).
		Str("folder", req.GoogleDriveFolderID).
		Msg("Dry-run upload")
	return nil
}
