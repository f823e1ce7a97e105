package core

import (
	"context"
	"fmt"
	"log/slog"

	"mediafetch/entity"
	"mediafetch/lib/sl"
)

type AuthService interface {
	UserByToken(token string) (*entity.User, error)
}

type BindingService interface {
	RequestCode(homeAccountId int64) (*entity.BindingCode, error)
	Redeem(code string, sourceAccountId string) (*entity.Binding, error)
	Revoke(homeAccountId int64) (bool, error)
	ListBindings(homeAccountId int64) ([]*entity.Binding, error)
}

type DeliveryService interface {
	OnContentEvent(ctx context.Context, evt *entity.ContentEvent) (*entity.DeliveryResult, error)
}

type Core struct {
	binding  BindingService
	delivery DeliveryService
	auth     AuthService
	log      *slog.Logger
}

func New(binding BindingService, log *slog.Logger) *Core {
	if binding == nil {
		panic("binding service is nil")
	}
	return &Core{
		binding: binding,
		log:     log.With(sl.Module("core")),
	}
}

func (c *Core) SetDeliveryService(delivery DeliveryService) {
	c.delivery = delivery
}

func (c *Core) SetAuthService(auth AuthService) {
	c.auth = auth
}

func (c *Core) AuthenticateByToken(token string) (*entity.User, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("auth service not connected")
	}
	return c.auth.UserByToken(token)
}

func (c *Core) RequestCode(homeAccountId int64) (*entity.BindingCode, error) {
	return c.binding.RequestCode(homeAccountId)
}

func (c *Core) RedeemCode(code string, sourceAccountId string) (*entity.Binding, error) {
	return c.binding.Redeem(code, sourceAccountId)
}

func (c *Core) RevokeBinding(homeAccountId int64) (bool, error) {
	return c.binding.Revoke(homeAccountId)
}

func (c *Core) ListBindings(homeAccountId int64) ([]*entity.Binding, error) {
	return c.binding.ListBindings(homeAccountId)
}

func (c *Core) OnContentEvent(ctx context.Context, evt *entity.ContentEvent) (*entity.DeliveryResult, error) {
	if c.delivery == nil {
		return nil, fmt.Errorf("delivery service not connected")
	}
	return c.delivery.OnContentEvent(ctx, evt)
}
