package executor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/driver"
)

// Saver persists screenshots as PNG files under one directory.
type Saver struct {
	dir    string
	logger *zap.Logger
}

// NewSaver creates a saver writing into dir.
func NewSaver(dir string, logger *zap.Logger) *Saver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Saver{dir: dir, logger: logger.With(zap.String("component", "screenshots"))}
}

// Save writes the screenshot and returns its path. An empty filename gets
// a timestamped default; a missing .png extension is added.
func (s *Saver) Save(shot *driver.Screenshot, filename string) (string, error) {
	if filename == "" {
		filename = fmt.Sprintf("shot_%s.png", time.Now().Format("20060102_150405.000"))
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".png") {
		filename += ".png"
	}
	// Strip any path components so steps cannot write outside the directory.
	filename = filepath.Base(filename)

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	path := filepath.Join(s.dir, filename)
	if err := os.WriteFile(path, shot.Data, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}

	s.logger.Debug("screenshot saved",
		zap.String("path", path),
		zap.String("page_url", shot.URL),
		zap.Int("bytes", len(shot.Data)))
	return path, nil
}
