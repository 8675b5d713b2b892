package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/disintegration/imaging"

	"mediaflow/internal/fileutil"
)

// Artifacts writes generated files into the output directories.
type Artifacts struct {
	imageDir string
	videoDir string
	now      func() time.Time

	mu sync.Mutex
}

// NewArtifacts returns a writer rooted at the given directories.
func NewArtifacts(imageDir, videoDir string, now func() time.Time) *Artifacts {
	if now == nil {
		now = time.Now
	}
	return &Artifacts{imageDir: imageDir, videoDir: videoDir, now: now}
}

// SaveImage verifies data decodes as an image and stores it as
// <product>_<model>_<unix>.png.
func (a *Artifacts) SaveImage(product, model string, data []byte) (string, error) {
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("artifact is not a decodable image: %w", err)
	}
	stem := fmt.Sprintf("%s_%s_%d", safeName(product, "product"), safeName(model, "model"), a.now().Unix())
	return a.write(a.imageDir, stem, ".png", data)
}

// SaveVideo stores data as <product>+<model>+<YYYYmmdd_HHMMSS>.mp4.
func (a *Artifacts) SaveVideo(product, model string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("video artifact is empty")
	}
	stem := fmt.Sprintf("%s+%s+%s", safeName(product, "product"), safeName(model, "model"), a.now().Format("20060102_150405"))
	return a.write(a.videoDir, stem, ".mp4", data)
}

// write picks the first free name for stem and writes data atomically.
func (a *Artifacts) write(dir, stem, ext string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	path := filepath.Join(dir, stem+ext)
	for n := 2; ; n++ {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			break
		} else if err != nil {
			return "", fmt.Errorf("inspect %s: %w", path, err)
		}
		path = filepath.Join(dir, stem+"-"+strconv.Itoa(n)+ext)
	}
	if err := fileutil.AtomicWriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", path, err)
	}
	return path, nil
}

// safeName keeps letters, digits, spaces, dashes, and underscores.
func safeName(value, fallback string) string {
	cleaned := strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			return r
		}
		return -1
	}, value))
	if cleaned == "" {
		return fallback
	}
	return cleaned
}
