package app

import (
	"fmt"

	"remindbot/internal/bot"
	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

// components is everything below the transport. It only needs a Sender, so
// it can be built without a live bot.
type components struct {
	backend storage.Backend
	store   *storage.UserStore
	sched   *reminder.Scheduler
	notif   *notifier.Service
	svc     *bot.Service
	router  *bot.Router
}

func buildComponents(cfg *config.Config, sender transport.Sender, log logx.Logger) (*components, error) {
	sc, err := cfg.StorageConfig()
	if err != nil {
		return nil, err
	}
	nc, err := cfg.NotifierConfig()
	if err != nil {
		return nil, err
	}
	cmdTimeout, err := cfg.CommandTimeout()
	if err != nil {
		return nil, err
	}

	be, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	store := storage.NewUserStore(be, storage.WithLogger(log))
	sched := reminder.New(log)
	notif := notifier.New(nc, sender, log)

	prefix := cfg.Bot.Prefix
	if prefix == "" {
		prefix = bot.DefaultPrefix
	}
	svc := bot.NewService(store, sched, notif, bot.WithLogger(log), bot.WithPrefix(prefix))

	ropts := []bot.RouterOption{bot.WithTimeout(cmdTimeout)}
	if cfg.Bot.Workers > 0 {
		ropts = append(ropts, bot.WithWorkers(cfg.Bot.Workers))
	}
	if cfg.Bot.QueueSize > 0 {
		ropts = append(ropts, bot.WithQueueSize(cfg.Bot.QueueSize))
	}
	router := bot.NewRouter(svc, sender, log, ropts...)

	return &components{
		backend: be,
		store:   store,
		sched:   sched,
		notif:   notif,
		svc:     svc,
		router:  router,
	}, nil
}
