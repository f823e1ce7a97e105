package entity

import (
	"fmt"
	"net/http"
	"time"

	"mediafetch/lib/validate"
)

// ContentType is the closed set of content kinds the delivery path handles.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentStory ContentType = "story"
)

func (t ContentType) IsValid() bool {
	switch t {
	case ContentText, ContentImage, ContentVideo, ContentStory:
		return true
	}
	return false
}

// ContentEvent is one observation of new content published by a source
// account. Events may arrive more than once (at-least-once feed delivery);
// idempotent task creation absorbs the duplicates.
type ContentEvent struct {
	SourceAccountId string      `json:"source_account_id" validate:"required"`
	ContentRef      string      `json:"content_ref" validate:"required"`
	ContentType     ContentType `json:"content_type" validate:"required"`
	Caption         string      `json:"caption,omitempty"`
	PublishedAt     time.Time   `json:"published_at,omitempty"`
}

func (e *ContentEvent) Bind(_ *http.Request) error {
	if err := validate.Struct(e); err != nil {
		return err
	}
	if !e.ContentType.IsValid() {
		return fmt.Errorf("unknown content type: %s", e.ContentType)
	}
	return nil
}

// MediaArtifact is a locally deliverable piece of content produced by the
// media pipeline from a ContentRef.
type MediaArtifact struct {
	Path     string
	MimeType string
	Size     int64
}
