// Package mediapipe fetches published content to a locally deliverable
// artifact. It is a data-fetch dependency of the delivery path, nothing more:
// transcoding and platform specifics live outside this process.
package mediapipe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"mediafetch/entity"
	"mediafetch/internal/config"
	"mediafetch/lib/sl"
)

type Pipeline struct {
	hc      *http.Client
	dir     string
	maxSize int64
	log     *slog.Logger
}

func New(conf *config.Config, log *slog.Logger) (*Pipeline, error) {
	dir := conf.Media.Dir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media dir: %w", err)
	}
	timeout := time.Duration(conf.Media.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Pipeline{
		hc:      &http.Client{Timeout: timeout},
		dir:     dir,
		maxSize: conf.Media.MaxSizeMb * 1024 * 1024,
		log:     log.With(sl.Module("mediapipe")),
	}, nil
}

// Fetch downloads the content behind contentRef into the working directory.
// 404/410 from the source means the content was removed and is reported as
// entity.ErrContentGone, which the delivery retry policy treats as permanent.
func (p *Pipeline) Fetch(ctx context.Context, contentRef string, contentType entity.ContentType) (*entity.MediaArtifact, error) {
	log := p.log.With(
		slog.String("content", contentRef),
		slog.String("type", string(contentType)),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentRef, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", entity.ErrContentGone, resp.Status)
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("fetch %s: %s", contentRef, resp.Status)
	}

	path := filepath.Join(p.dir, uuid.NewString())
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}
	defer file.Close()

	reader := io.Reader(resp.Body)
	if p.maxSize > 0 {
		reader = io.LimitReader(resp.Body, p.maxSize+1)
	}
	size, err := io.Copy(file, reader)
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("download: %w", err)
	}
	if p.maxSize > 0 && size > p.maxSize {
		_ = os.Remove(path)
		return nil, fmt.Errorf("%w: more than %d bytes", entity.ErrMediaTooLarge, p.maxSize)
	}

	log.With(slog.Int64("size", size)).Debug("artifact fetched")
	return &entity.MediaArtifact{
		Path:     path,
		MimeType: resp.Header.Get("Content-Type"),
		Size:     size,
	}, nil
}

// Cleanup removes a delivered artifact.
func (p *Pipeline) Cleanup(artifact *entity.MediaArtifact) {
	if artifact == nil || artifact.Path == "" {
		return
	}
	if err := os.Remove(artifact.Path); err != nil && !os.IsNotExist(err) {
		p.log.Warn("removing artifact", slog.String("path", artifact.Path), sl.Err(err))
	}
}
