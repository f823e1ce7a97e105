package contentevent

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mediafetch/entity"
)

const testSecret = "feed-secret"

type fakeCore struct {
	events []*entity.ContentEvent
}

func (f *fakeCore) OnContentEvent(_ context.Context, evt *entity.ContentEvent) (*entity.DeliveryResult, error) {
	f.events = append(f.events, evt)
	return &entity.DeliveryResult{Created: 1, Delivered: 1}, nil
}

func sign(payload, secret string, ts time.Time) string {
	unix := fmt.Sprintf("%d", ts.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(unix))
	mac.Write([]byte("."))
	mac.Write([]byte(payload))
	return fmt.Sprintf("t=%s,v1=%s", unix, hex.EncodeToString(mac.Sum(nil)))
}

func postEvent(handler http.HandlerFunc, payload, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook/content", strings.NewReader(payload))
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func testHandler(core *fakeCore) http.HandlerFunc {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return Event(log, core, testSecret)
}

const validPayload = `{"source_account_id":"natgeo","content_ref":"reel-1","content_type":"video"}`

func TestEventAcceptsSignedRequest(t *testing.T) {
	core := &fakeCore{}
	rec := postEvent(testHandler(core), validPayload, sign(validPayload, testSecret, time.Now()))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, core.events, 1)
	assert.Equal(t, "natgeo", core.events[0].SourceAccountId)
}

func TestEventRejectsMissingSignature(t *testing.T) {
	core := &fakeCore{}
	rec := postEvent(testHandler(core), validPayload, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, core.events)
}

func TestEventRejectsWrongSecret(t *testing.T) {
	core := &fakeCore{}
	rec := postEvent(testHandler(core), validPayload, sign(validPayload, "other-secret", time.Now()))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, core.events)
}

func TestEventRejectsTamperedBody(t *testing.T) {
	core := &fakeCore{}
	tampered := strings.Replace(validPayload, "natgeo", "attacker", 1)
	rec := postEvent(testHandler(core), tampered, sign(validPayload, testSecret, time.Now()))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, core.events)
}

func TestEventRejectsStaleTimestamp(t *testing.T) {
	core := &fakeCore{}
	rec := postEvent(testHandler(core), validPayload, sign(validPayload, testSecret, time.Now().Add(-10*time.Minute)))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, core.events)
}

func TestEventRejectsInvalidPayload(t *testing.T) {
	core := &fakeCore{}
	payload := `{"source_account_id":"natgeo"}`
	rec := postEvent(testHandler(core), payload, sign(payload, testSecret, time.Now()))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, core.events)
}
