// Package download fetches whisper model files into the model directory.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"
)

const (
	userAgent      = "voxserve/1"
	defaultRetries = 3
	defaultBackoff = 300 * time.Millisecond
)

var (
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrBadStatus        = errors.New("unexpected http status")
)

var checksumPattern = regexp.MustCompile(`(?i)\b([a-f0-9]{64})\b`)

// Request describes one file to fetch. SHA256 wins over ChecksumURL when
// both are set; with neither the file is stored unverified.
type Request struct {
	URL         string
	Destination string
	SHA256      string
	ChecksumURL string
}

type Fetcher struct {
	Client     *http.Client
	Logger     *zap.Logger
	Retries    int
	Backoff    time.Duration
	NoProgress bool
}

func (f *Fetcher) Fetch(ctx context.Context, req Request) error {
	if req.URL == "" {
		return errors.New("download URL is required")
	}
	if req.Destination == "" {
		return errors.New("destination path is required")
	}

	client := f.client()
	logger := f.logger()

	expected := normalizeSum(req.SHA256)
	if expected == "" && req.ChecksumURL != "" {
		resolved, err := FetchChecksum(ctx, client, req.ChecksumURL, filepath.Base(req.Destination))
		if err != nil {
			return fmt.Errorf("fetch checksum: %w", err)
		}
		expected = resolved
	}

	if err := os.MkdirAll(filepath.Dir(req.Destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	retries := f.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	backoff := f.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			logger.Warn("retrying download",
				zap.Int("attempt", attempt),
				zap.Int("max", retries),
				zap.String("url", req.URL),
				zap.Error(lastErr))
			timer := time.NewTimer(time.Duration(attempt-1) * backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(ctx.Err(), lastErr)
			case <-timer.C:
			}
		}

		lastErr = f.fetchOnce(ctx, client, req, expected)
		if lastErr == nil {
			logger.Info("download complete", zap.String("path", req.Destination))
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}

	return lastErr
}

func (f *Fetcher) client() *http.Client {
	if f.Client != nil {
		return f.Client
	}
	return &http.Client{Timeout: 30 * time.Minute}
}

func (f *Fetcher) logger() *zap.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return zap.NewNop()
}

// FetchChecksum downloads a checksum listing and picks the digest for fileName.
func FetchChecksum(ctx context.Context, client *http.Client, checksumURL, fileName string) (string, error) {
	if strings.TrimSpace(checksumURL) == "" {
		return "", errors.New("checksum URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checksumURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	return ParseChecksum(content, fileName)
}

// ParseChecksum reads sha256sum-style listings. A line naming fileName is
// preferred; otherwise the first digest in the listing is used.
func ParseChecksum(content []byte, fileName string) (string, error) {
	lines := strings.Split(string(content), "\n")

	if fileName != "" {
		for _, line := range lines {
			if !strings.Contains(line, fileName) {
				continue
			}
			if sum := checksumFromLine(line); sum != "" {
				return sum, nil
			}
		}
	}

	for _, line := range lines {
		if sum := checksumFromLine(line); sum != "" {
			return sum, nil
		}
	}

	return "", errors.New("sha256 checksum not found")
}

// VerifyFile hashes the file at path. An empty expected digest always passes.
func VerifyFile(path, expected string) error {
	expected = normalizeSum(expected)
	if expected == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash file: %w", err)
	}

	if actual := hex.EncodeToString(h.Sum(nil)); actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, client *http.Client, req Request, expected string) error {
	tempPath := req.Destination + ".part"
	_ = os.Remove(tempPath)

	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	done := false
	defer func() {
		_ = out.Close()
		if !done {
			_ = os.Remove(tempPath)
		}
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	hash := sha256.New()
	writer := io.MultiWriter(out, hash)

	var bar *progressbar.ProgressBar
	if showProgress(f.NoProgress, resp.ContentLength) {
		bar = progressbar.NewOptions64(
			resp.ContentLength,
			progressbar.OptionSetDescription(filepath.Base(req.Destination)),
			progressbar.OptionSetWidth(20),
			progressbar.OptionShowBytes(true),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionClearOnFinish(),
		)
		writer = io.MultiWriter(out, hash, bar)
	}

	if _, err := io.Copy(writer, resp.Body); err != nil {
		return fmt.Errorf("download body: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}

	if actual := hex.EncodeToString(hash.Sum(nil)); expected != "" && actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, req.Destination); err != nil {
		return fmt.Errorf("move temp file into destination: %w", err)
	}

	done = true
	return nil
}

func checksumFromLine(line string) string {
	match := checksumPattern.FindStringSubmatch(line)
	if len(match) < 2 {
		return ""
	}
	return strings.ToLower(match[1])
}

func normalizeSum(sum string) string {
	return strings.ToLower(strings.TrimSpace(sum))
}

func showProgress(noProgress bool, contentLength int64) bool {
	if noProgress || contentLength <= 0 {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
