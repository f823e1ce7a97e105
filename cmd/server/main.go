package main

import (
	"errors"
	"flag"
	"log"
	"log/slog"
	"path/filepath"
	"time"

	"mediafetch/bot"
	"mediafetch/entity"
	"mediafetch/impl/auth"
	"mediafetch/impl/binding"
	"mediafetch/impl/core"
	"mediafetch/impl/delivery"
	"mediafetch/impl/limiter"
	"mediafetch/impl/monitor"
	"mediafetch/impl/registry"
	"mediafetch/internal/config"
	"mediafetch/internal/database"
	"mediafetch/internal/http-server/api"
	"mediafetch/internal/mediapipe"
	"mediafetch/internal/sourcefeed"
	"mediafetch/lib/logger"
	"mediafetch/lib/retry"
	"mediafetch/lib/sl"
)

const logFileName = "mediafetch.log"

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, filepath.Join(*logPath, logFileName))
	lg.Info("starting mediafetch", slog.String("config", *configPath), slog.String("env", conf.Env))

	if !conf.Mongo.Enabled {
		log.Fatal("mongo storage is required; enable it in the config")
	}
	db := database.NewMongoClient(conf)
	if err := db.EnsureIndexes(); err != nil {
		log.Fatal("creating indexes: ", err)
	}

	reg := registry.New(db, lg)
	if err := reg.Refresh(); err != nil {
		lg.Error("initial registry refresh", sl.Err(err))
	}
	reg.StartRefresh(time.Duration(conf.Binding.RefreshIntervalMin) * time.Minute)

	lim := limiter.NewSlidingWindow(
		conf.Binding.IssueLimit,
		time.Duration(conf.Binding.IssueWindowMinutes)*time.Minute,
	)

	bindingService := binding.New(db, lim, reg,
		conf.Binding.CodeLength,
		time.Duration(conf.Binding.CodeTTLHours)*time.Hour,
		lg,
	)
	bindingService.StartSweeper(time.Duration(conf.Binding.SweepIntervalMin) * time.Minute)

	appCore := core.New(bindingService, lg)
	appCore.SetAuthService(auth.New(db))

	var tgBot *bot.TgBot
	if conf.Telegram.Enabled {
		var err error
		tgBot, err = bot.NewTgBot(conf.Telegram.ApiKey, db, lg, bot.BotConfig{
			RequireApproval:  conf.Telegram.RequireApproval,
			InviteCodeLength: conf.Telegram.InviteCodeLength,
		})
		if err != nil {
			log.Fatal("creating telegram bot: ", err)
		}
		tgBot.SetCore(appCore)

		pipeline, err := mediapipe.New(conf, lg)
		if err != nil {
			log.Fatal("creating media pipeline: ", err)
		}

		policy := retry.Policy{
			MaxAttempts: uint64(conf.Delivery.MaxRetries),
			BaseDelay:   time.Duration(conf.Delivery.BaseDelayMs) * time.Millisecond,
			Transient:   transientDeliveryError,
		}
		orchestrator := delivery.New(db, reg, tgBot, pipeline, policy, conf.Delivery.Workers, lg)
		appCore.SetDeliveryService(orchestrator)

		if conf.Feed.Enabled {
			feed := sourcefeed.NewClient(conf, lg)
			mon := monitor.New(feed, reg, orchestrator,
				time.Duration(conf.Feed.PollMinutes)*time.Minute, lg)
			mon.Start()
		}

		// Warnings and errors also reach admin chats.
		lg = slog.New(logger.NewTelegramHandler(lg.Handler(), tgBot, slog.LevelWarn))

		go func() {
			if err := tgBot.Start(); err != nil {
				lg.Error("telegram bot stopped", sl.Err(err))
			}
		}()
	}

	if err := api.New(conf, lg, appCore); err != nil {
		lg.Error("api server stopped", sl.Err(err))
	}
}

// transientDeliveryError separates failures worth retrying (network flaps,
// Telegram hiccups) from those that cannot succeed on a second attempt.
func transientDeliveryError(err error) bool {
	switch {
	case errors.Is(err, entity.ErrContentGone),
		errors.Is(err, entity.ErrMediaTooLarge),
		errors.Is(err, bot.ErrDeliveryPaused):
		return false
	}
	return true
}
