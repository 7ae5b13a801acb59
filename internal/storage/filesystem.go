package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"story-text-worker/internal/model"
)

const (
	fileScheme     = "file://"
	metadataSuffix = ".meta.json"
)

type fsPublisher struct {
	rootDir       string
	publicBaseURL string
	logger        *zap.Logger
	now           func() time.Time
}

// NewFSPublisher stores objects under rootDir. With a public base URL the locator is
// baseURL + "/" + key (the directory is expected to be served); otherwise it is a file:// URL.
func NewFSPublisher(rootDir, publicBaseURL string, logger *zap.Logger) (BlobPublisher, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve blob dir %s: %w", rootDir, err)
	}
	base := strings.TrimRight(publicBaseURL, "/")
	if base == "file:" {
		base = ""
	}
	return &fsPublisher{
		rootDir:       abs,
		publicBaseURL: base,
		logger:        logger.Named("FSPublisher"),
		now:           time.Now,
	}, nil
}

func (p *fsPublisher) Publish(_ context.Context, storyID, taskID string, taskType model.TaskType, payload []byte) (string, error) {
	key := ObjectKey(storyID, taskID, taskType)
	filePath, err := p.objectPath(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrBlobWrite, err)
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return "", fmt.Errorf("%w: create dir for %s: %v", model.ErrBlobWrite, key, err)
	}
	if err := os.WriteFile(filePath, payload, 0o644); err != nil {
		p.logger.Error("Failed to save object to file", zap.String("path", filePath), zap.Error(err))
		return "", fmt.Errorf("%w: write %s: %v", model.ErrBlobWrite, filePath, err)
	}

	meta := objectMetadata(storyID, p.now())
	meta["content-type"] = contentTypeJSON
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("%w: encode metadata for %s: %v", model.ErrBlobWrite, key, err)
	}
	if err := os.WriteFile(filePath+metadataSuffix, metaBytes, 0o644); err != nil {
		return "", fmt.Errorf("%w: write metadata for %s: %v", model.ErrBlobWrite, key, err)
	}

	locator := p.locatorFor(key, filePath)
	p.logger.Debug("Object saved", zap.String("path", filePath), zap.String("locator", locator))
	return locator, nil
}

func (p *fsPublisher) Fetch(_ context.Context, locator string) ([]byte, error) {
	filePath, err := p.pathFor(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", model.ErrBlobRead, filePath, err)
	}
	return data, nil
}

func (p *fsPublisher) Locate(storyID, taskID string, taskType model.TaskType) string {
	key := ObjectKey(storyID, taskID, taskType)
	return p.locatorFor(key, filepath.Join(p.rootDir, filepath.FromSlash(key)))
}

func (p *fsPublisher) locatorFor(key, filePath string) string {
	if p.publicBaseURL == "" {
		return fileScheme + filepath.ToSlash(filePath)
	}
	return p.publicBaseURL + "/" + key
}

func (p *fsPublisher) pathFor(locator string) (string, error) {
	var key string
	switch {
	case p.publicBaseURL != "" && strings.HasPrefix(locator, p.publicBaseURL+"/"):
		key = strings.TrimPrefix(locator, p.publicBaseURL+"/")
	case strings.HasPrefix(locator, fileScheme):
		rel, err := filepath.Rel(p.rootDir, filepath.FromSlash(strings.TrimPrefix(locator, fileScheme)))
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", model.ErrBlobRead, locator, err)
		}
		key = filepath.ToSlash(rel)
	default:
		return "", fmt.Errorf("%w: unknown locator %q", model.ErrBlobRead, locator)
	}

	filePath, err := p.objectPath(key)
	if err != nil {
		return "", fmt.Errorf("%w: locator %q: %v", model.ErrBlobRead, locator, err)
	}
	return filePath, nil
}

// objectPath resolves key under rootDir and rejects keys that escape it.
func (p *fsPublisher) objectPath(key string) (string, error) {
	filePath := filepath.Join(p.rootDir, filepath.FromSlash(key))
	if !strings.HasPrefix(filePath, p.rootDir+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q points outside the blob directory", key)
	}
	return filePath, nil
}
