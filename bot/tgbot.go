// Package bot implements the Telegram side of the binding workflow.
//
// Architecture overview:
//   - tgbot.go    — TgBot struct, lifecycle (Start/Stop), user cache, Database interface
//   - commands.go  — User-facing commands: /start, /bind, /unbind, /bindings, /pause, /resume, /status, /help
//   - admin.go     — Admin commands: /users, /approve, /revoke, /admin, /invite
//   - callbacks.go — Inline keyboard builders and callback query handlers
//   - menus.go     — Per-user command menus via Telegram's BotCommandScope API
//   - messaging.go — Admin alerting used by the slog Telegram handler
//   - sender.go    — Content delivery into home-account chats (text, photo, video)
//   - helpers.go   — Shared utilities: Sanitize, plainResponse, resolveUser, reportError
//
// The chat a user talks to the bot in doubles as their home account: binding
// codes are issued for the chat id, and delivered content lands in the same
// chat. /pause and /resume flip the telegram_enabled flag that the delivery
// sender checks before every send.
//
// Thread safety: the users map and adminIds are protected by sync.RWMutex.
// All commands and callbacks acquire RLock to read; loadUsers() acquires full
// Lock to refresh.
package bot

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mediafetch/entity"
	"mediafetch/lib/sl"

	tgbotapi "github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers"
	"github.com/PaulSonOfLars/gotgbot/v2/ext/handlers/filters/callbackquery"
)

// BotConfig holds Telegram-specific configuration loaded from the YAML config file.
type BotConfig struct {
	RequireApproval  bool
	InviteCodeLength int
}

// Database defines the storage operations the bot depends on.
// Implemented by internal/database/mongo.go.
type Database interface {
	GetAllTelegramUsers() ([]*entity.User, error)
	RegisterTelegramUser(telegramId int64, username string) error
	SetTelegramRole(telegramId int64, role entity.TelegramRole) error
	SetTelegramEnabled(telegramId int64, isActive bool) error
	CreateInviteCode(code *entity.InviteCode) error
	UseInviteCode(code string, telegramId int64) error
	ListFailedDeliveryTasks(since time.Time) ([]*entity.DeliveryTask, error)
}

// Core is the application facade the bot drives for binding operations.
type Core interface {
	RequestCode(homeAccountId int64) (*entity.BindingCode, error)
	RevokeBinding(homeAccountId int64) (bool, error)
	ListBindings(homeAccountId int64) ([]*entity.Binding, error)
}

// TgBot is the central Telegram bot instance.
// It caches all users in memory (refreshed on every state change) and runs
// both command handling and outbound content delivery over one API client.
type TgBot struct {
	log      *slog.Logger
	api      *tgbotapi.Bot
	db       Database
	core     Core
	mu       sync.RWMutex           // guards users and adminIds
	users    map[int64]*entity.User // telegram_id → User; includes all roles
	updater  *ext.Updater
	adminIds []int64 // cached admin telegram IDs for quick notification
	config   BotConfig
}

func NewTgBot(apiKey string, db Database, log *slog.Logger, cfg BotConfig) (*TgBot, error) {
	if cfg.InviteCodeLength == 0 {
		cfg.InviteCodeLength = 8
	}

	tgBot := &TgBot{
		log:    log.With(sl.Module("tgbot")),
		db:     db,
		users:  make(map[int64]*entity.User),
		config: cfg,
	}

	api, err := tgbotapi.NewBot(apiKey, nil)
	if err != nil {
		return nil, fmt.Errorf("creating api instance: %v", err)
	}
	tgBot.api = api

	return tgBot, nil
}

// SetCore connects the binding facade. Binding commands answer with a
// service-unavailable message until it is set.
func (t *TgBot) SetCore(core Core) {
	t.core = core
}

func (t *TgBot) Start() error {
	t.loadUsers()

	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		Error: func(b *tgbotapi.Bot, ctx *ext.Context, err error) ext.DispatcherAction {
			t.log.Error("handling update:", sl.Err(err))
			return ext.DispatcherActionNoop
		},
		MaxRoutines: ext.DefaultMaxRoutines,
	})
	t.updater = ext.NewUpdater(dispatcher, nil)

	// User commands
	dispatcher.AddHandler(handlers.NewCommand("start", t.start))
	dispatcher.AddHandler(handlers.NewCommand("bind", t.bind))
	dispatcher.AddHandler(handlers.NewCommand("unbind", t.unbind))
	dispatcher.AddHandler(handlers.NewCommand("bindings", t.bindings))
	dispatcher.AddHandler(handlers.NewCommand("pause", t.pause))
	dispatcher.AddHandler(handlers.NewCommand("resume", t.resume))
	dispatcher.AddHandler(handlers.NewCommand("status", t.status))
	dispatcher.AddHandler(handlers.NewCommand("help", t.help))

	// Admin commands
	dispatcher.AddHandler(handlers.NewCommand("users", t.usersCmd))
	dispatcher.AddHandler(handlers.NewCommand("approve", t.approve))
	dispatcher.AddHandler(handlers.NewCommand("revoke", t.revoke))
	dispatcher.AddHandler(handlers.NewCommand("admin", t.adminCmd))
	dispatcher.AddHandler(handlers.NewCommand("invite", t.invite))
	dispatcher.AddHandler(handlers.NewCommand("failed", t.failed))

	// Callback query handlers
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbUnbind), t.onUnbindCallback))
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbApprove), t.onApproveCallback))
	dispatcher.AddHandler(handlers.NewCallback(callbackquery.Prefix(cbRevoke), t.onRevokeCallback))

	// Set default bot command menu and sync per-user menus
	t.setDefaultCommands()
	t.syncAllUserMenus()

	err := t.updater.StartPolling(t.api, &ext.PollingOpts{
		DropPendingUpdates: true,
		GetUpdatesOpts: &tgbotapi.GetUpdatesOpts{
			Timeout: 9,
			RequestOpts: &tgbotapi.RequestOpts{
				Timeout: time.Second * 10,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}

	t.updater.Idle()
	return nil
}

func (t *TgBot) Stop() {
	if t.updater != nil {
		t.log.Info("stopping telegram bot")
		t.updater.Stop()
	}
}

// loadUsers refreshes the in-memory user cache from the database.
// Called on startup and after every state-changing operation (approve, pause, etc.).
// Rebuilds the adminIds list used by notifyAdmins.
func (t *TgBot) loadUsers() {
	if t.db == nil {
		return
	}
	users, err := t.db.GetAllTelegramUsers()
	if err != nil {
		t.log.Error("loading users", sl.Err(err))
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.users = make(map[int64]*entity.User)
	t.adminIds = nil
	active := 0
	for _, user := range users {
		t.users[user.TelegramId] = user
		if user.TelegramEnabled {
			active++
		}
		if user.IsAdmin() {
			t.adminIds = append(t.adminIds, user.TelegramId)
		}
	}
	t.log.With(
		slog.Int("count", len(t.users)),
		slog.Int("active", active),
		slog.Int("admins", len(t.adminIds)),
	).Debug("loaded users")
}

func (t *TgBot) findUser(id int64) *entity.User {
	t.mu.RLock()
	defer t.mu.RUnlock()
	user, ok := t.users[id]
	if ok {
		return user
	}
	return nil
}
