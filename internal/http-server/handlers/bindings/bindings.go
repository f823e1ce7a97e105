package bindings

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"mediafetch/entity"
	"mediafetch/lib/api/response"
	"mediafetch/lib/sl"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

type Core interface {
	RequestCode(homeAccountId int64) (*entity.BindingCode, error)
	RedeemCode(code string, sourceAccountId string) (*entity.Binding, error)
	RevokeBinding(homeAccountId int64) (bool, error)
	ListBindings(homeAccountId int64) ([]*entity.Binding, error)
}

func RequestCode(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.bindings")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if handler == nil {
			logger.Error("binding service not available")
			render.JSON(w, r, response.Error("Binding service not available"))
			return
		}

		var req entity.CodeRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}
		logger = logger.With(
			slog.Int64("home_account_id", req.HomeAccountId),
		)

		code, err := handler.RequestCode(req.HomeAccountId)
		if err != nil {
			logger.Warn("request code", sl.Err(err))
			render.Status(r, issueStatus(err))
			render.JSON(w, r, response.Error(fmt.Sprintf("Request failed: %v", err)))
			return
		}
		logger.Debug("binding code issued")

		render.JSON(w, r, response.Ok(entity.CodeGrant{
			Code:      code.Code,
			ExpiresAt: code.ExpiresAt,
		}))
	}
}

func Redeem(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.bindings")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		if handler == nil {
			logger.Error("binding service not available")
			render.JSON(w, r, response.Error("Binding service not available"))
			return
		}

		var req entity.RedeemRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Error("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(fmt.Sprintf("Invalid request: %v", err)))
			return
		}
		logger = logger.With(
			slog.String("source_account_id", req.SourceAccountId),
		)

		binding, err := handler.RedeemCode(req.Code, req.SourceAccountId)
		if err != nil {
			logger.Warn("redeem code", sl.Err(err))
			render.Status(r, redeemStatus(err))
			render.JSON(w, r, response.Error(fmt.Sprintf("Redeem failed: %v", err)))
			return
		}
		logger.With(
			slog.Int64("home_account_id", binding.HomeAccountId),
		).Debug("binding confirmed")

		render.JSON(w, r, response.Ok(entity.RedeemResult{
			HomeAccountId: binding.HomeAccountId,
		}))
	}
}

func Revoke(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.bindings")
		homeId := chi.URLParam(r, "homeId")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("home_account_id", homeId),
		)

		if handler == nil {
			logger.Error("binding service not available")
			render.JSON(w, r, response.Error("Binding service not available"))
			return
		}

		id, err := strconv.ParseInt(homeId, 10, 64)
		if err != nil {
			logger.Warn("invalid home account id")
			render.Status(r, 400)
			render.JSON(w, r, response.Error("Invalid home account id"))
			return
		}

		revoked, err := handler.RevokeBinding(id)
		if err != nil {
			logger.Error("revoke binding", sl.Err(err))
			render.JSON(w, r, response.Error(fmt.Sprintf("Request failed: %v", err)))
			return
		}
		if !revoked {
			render.Status(r, 404)
			render.JSON(w, r, response.Error("No active binding"))
			return
		}
		logger.Debug("binding revoked")

		render.JSON(w, r, response.Ok(nil))
	}
}

func List(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.bindings")
		homeId := chi.URLParam(r, "homeId")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("home_account_id", homeId),
		)

		if handler == nil {
			logger.Error("binding service not available")
			render.JSON(w, r, response.Error("Binding service not available"))
			return
		}

		id, err := strconv.ParseInt(homeId, 10, 64)
		if err != nil {
			logger.Warn("invalid home account id")
			render.Status(r, 400)
			render.JSON(w, r, response.Error("Invalid home account id"))
			return
		}

		list, err := handler.ListBindings(id)
		if err != nil {
			logger.Error("list bindings", sl.Err(err))
			render.JSON(w, r, response.Error(fmt.Sprintf("Request failed: %v", err)))
			return
		}

		render.JSON(w, r, response.Ok(list))
	}
}

func issueStatus(err error) int {
	switch {
	case errors.Is(err, entity.ErrRateLimited):
		return 429
	case errors.Is(err, entity.ErrAlreadyBound), errors.Is(err, entity.ErrPendingExists):
		return 409
	default:
		return 400
	}
}

func redeemStatus(err error) int {
	switch {
	case errors.Is(err, entity.ErrInvalidCode):
		return 404
	case errors.Is(err, entity.ErrCodeExpired):
		return 410
	case errors.Is(err, entity.ErrCodeAlreadyUsed),
		errors.Is(err, entity.ErrSourceAlreadyBound),
		errors.Is(err, entity.ErrHomeAlreadyBound):
		return 409
	default:
		return 400
	}
}
