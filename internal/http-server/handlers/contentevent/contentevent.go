package contentevent

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediafetch/entity"
	"mediafetch/lib/api/response"
	"mediafetch/lib/sl"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

// signatureHeader carries "t=<unix>,v1=<hex hmac-sha256>" computed over
// "<unix>.<body>" with the shared feed secret.
const signatureHeader = "X-Feed-Signature"

const signatureTolerance = 5 * time.Minute

type Core interface {
	OnContentEvent(ctx context.Context, evt *entity.ContentEvent) (*entity.DeliveryResult, error)
}

// Event accepts a content notification from the source platform and
// hands it to the delivery orchestrator. The request must carry a valid
// signature; the endpoint sits outside token authentication. Fan-out runs
// before the response is written so the caller learns the per-binding
// outcome.
func Event(log *slog.Logger, handler Core, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.contentevent")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if handler == nil {
			logger.Error("delivery service not available")
			render.JSON(w, r, response.Error("Delivery service not available"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			logger.Error("read request body", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error("Invalid request"))
			return
		}

		if !verifySignature(logger, payload, r.Header.Get(signatureHeader), secret, signatureTolerance) {
			logger.Error("invalid webhook signature")
			render.Status(r, 401)
			render.JSON(w, r, response.Error("Invalid signature"))
			return
		}

		var evt entity.ContentEvent
		if err = json.Unmarshal(payload, &evt); err != nil {
			logger.Error("unmarshal event", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}
		if err = evt.Bind(r); err != nil {
			logger.Error("validate event", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}
		logger = logger.With(
			slog.String("source_account_id", evt.SourceAccountId),
			slog.String("content_ref", evt.ContentRef),
		)

		result, err := handler.OnContentEvent(r.Context(), &evt)
		if err != nil {
			logger.Error("content event", sl.Err(err))
			render.JSON(w, r, response.Error(fmt.Sprintf("Request failed: %v", err)))
			return
		}
		logger.With(
			slog.Int("delivered", result.Delivered),
			slog.Int("failed", result.Failed),
		).Debug("content event processed")

		render.JSON(w, r, response.Ok(result))
	}
}

func verifySignature(log *slog.Logger, payload []byte, header, secret string, tolerance time.Duration) bool {
	parts := strings.Split(header, ",")
	var ts, sig string
	for _, p := range parts {
		if strings.HasPrefix(p, "t=") {
			ts = strings.TrimPrefix(p, "t=")
		}
		if strings.HasPrefix(p, "v1=") {
			sig = strings.TrimPrefix(p, "v1=")
		}
	}
	if ts == "" || sig == "" {
		log.Debug("missing timestamp or signature in header")
		return false
	}

	tsInt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		log.Debug("failed to parse signature timestamp")
		return false
	}

	eventTime := time.Unix(tsInt, 0)
	timeSince := time.Since(eventTime)
	if timeSince > tolerance {
		log.With(
			slog.Time("timestamp", eventTime),
			slog.Duration("age", timeSince),
		).Debug("webhook timestamp too old")
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	isValid := hmac.Equal([]byte(expected), []byte(sig))
	if !isValid {
		log.Debug("signature mismatch")
	}
	return isValid
}
