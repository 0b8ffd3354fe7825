package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/mymmrac/telego"
)

const (
	// defaultMediaMaxBytes caps photo downloads (10MB).
	defaultMediaMaxBytes int64 = 10 * 1024 * 1024

	// downloadMaxRetries is the number of GetFile retry attempts.
	downloadMaxRetries = 3

	// receiptLongEdge bounds the stored receipt image. Receipts only
	// need to stay legible, not full resolution.
	receiptLongEdge = 1600

	// receiptJPEGQuality for the re-encode.
	receiptJPEGQuality = 85
)

// fetchPhoto downloads a photo by file id, normalizes it (bounded long
// edge, JPEG re-encode) and stores it under the media dir. Returns the
// stored path.
func (c *Channel) fetchPhoto(ctx context.Context, fileID string) (string, error) {
	maxBytes := c.config.MediaMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMediaMaxBytes
	}

	raw, err := c.downloadFile(ctx, fileID, maxBytes)
	if err != nil {
		return "", err
	}
	defer os.Remove(raw)

	return c.normalizeReceipt(raw)
}

// downloadFile pulls a Telegram file to a temp path with retry and a
// hard size cap.
func (c *Channel) downloadFile(ctx context.Context, fileID string, maxBytes int64) (string, error) {
	var file *telego.File
	var err error

	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		file, err = c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		if attempt < downloadMaxRetries {
			slog.Debug("retrying telegram file download", "file_id", fileID, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("get file info after %d attempts: %w", downloadMaxRetries, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file_id %s", fileID)
	}
	if int64(file.FileSize) > maxBytes {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", file.FileSize, maxBytes)
	}

	downloadURL := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.config.Token, file.FilePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	ext := filepath.Ext(file.FilePath)
	if ext == "" {
		ext = ".bin"
	}

	tmpFile, err := os.CreateTemp("", "tally_media_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer tmpFile.Close()

	written, err := io.Copy(tmpFile, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("save file: %w", err)
	}
	if written > maxBytes {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("file exceeds max size during download: %d bytes", written)
	}

	return tmpFile.Name(), nil
}

// normalizeReceipt re-encodes an image into the media dir: long edge
// bounded, EXIF stripped by the decode/encode round trip.
func (c *Channel) normalizeReceipt(path string) (string, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode receipt image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > receiptLongEdge || bounds.Dy() > receiptLongEdge {
		img = imaging.Fit(img, receiptLongEdge, receiptLongEdge, imaging.Lanczos)
	}

	dir := c.config.MediaDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve media dir: %w", err)
		}
		dir = filepath.Join(home, ".tally", "media")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}

	out := filepath.Join(dir, uuid.NewString()+".jpg")
	if err := imaging.Save(img, out, imaging.JPEGQuality(receiptJPEGQuality)); err != nil {
		return "", fmt.Errorf("save receipt image: %w", err)
	}
	return out, nil
}
