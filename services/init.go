package services

import (
	"github.com/customeros/mailbot/config"
	"github.com/customeros/mailbot/interfaces"
	"github.com/customeros/mailbot/internal/logger"
	"github.com/customeros/mailbot/internal/repository"
	"github.com/customeros/mailbot/services/adapter"
	"github.com/customeros/mailbot/services/botbus"
	"github.com/customeros/mailbot/services/events"
	"github.com/customeros/mailbot/services/mailbox"
	"github.com/customeros/mailbot/services/storage"
)

type Services struct {
	// nil when no broker is configured
	EventsService *events.EventsService
	Adapter       *adapter.Adapter
}

func InitServices(cfg *config.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	services := &Services{}

	var bot interfaces.BotCore
	if cfg.AppConfig.RabbitMQURL != "" {
		eventsService, err := events.NewEventsService(cfg.AppConfig.RabbitMQURL, log, events.DefaultPublisherConfig(), &events.SubscriberConfig{
			MaxRetries:          events.DefaultMaxRetries,
			ReconnectBackoff:    events.DefaultReconnectBackoff,
			MaxReconnectBackoff: events.DefaultMaxReconnectBackoff,
		})
		if err != nil {
			return nil, err
		}
		services.EventsService = eventsService
		bot = eventsService.Publisher
	} else {
		log.Warn("RABBITMQ_URL not set, chat messages are only logged")
		bot = botbus.NewLogBot(log)
	}

	connector := mailbox.NewConnector(mailbox.Config{
		SubscriptionLifetime: cfg.MailboxConfig.SubscriptionLifetime,
	}, log)

	deps := adapter.Dependencies{
		Connector:   connector,
		Bot:         bot,
		Checkpoints: repos.CheckpointRepository,
	}
	if cfg.ArchiveConfig.Enabled() {
		store, err := storage.NewStorageServiceFromConfig(cfg.ArchiveConfig)
		if err != nil {
			services.Close()
			return nil, err
		}
		deps.Archive = storage.NewMailArchiver(store, cfg.ArchiveConfig.Prefix, cfg.MailboxConfig.Address)
		log.Infof("Archiving accepted mail to %s bucket %s", cfg.ArchiveConfig.Provider, cfg.ArchiveConfig.Bucket)
	}

	mailboxAdapter, err := adapter.New(cfg.MailboxConfig, cfg.BotConfig, deps, log)
	if err != nil {
		services.Close()
		return nil, err
	}
	services.Adapter = mailboxAdapter

	if services.EventsService != nil {
		if err := services.EventsService.ListenReplies(events.NewReplyRequestedListener(log, mailboxAdapter)); err != nil {
			services.Close()
			return nil, err
		}
	}

	return services, nil
}

// Close drains the adapter before the broker goes away.
func (s *Services) Close() error {
	var err error
	if s.Adapter != nil {
		err = s.Adapter.Close()
	}
	if s.EventsService != nil {
		if closeErr := s.EventsService.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
