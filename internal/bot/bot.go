package bot

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/gradebook/internal/app"
)

// Sender is the part of tgbotapi.BotAPI the bot replies through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Bot struct {
	service *app.Service
	tokens  *app.TokenManager
	api     *tgbotapi.BotAPI
	sender  Sender
	admins  map[int64]bool
}

func New(service *app.Service, tokens *app.TokenManager) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(service.Config.Bot.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	b := newBot(service, tokens, api)
	b.api = api
	return b, nil
}

func newBot(service *app.Service, tokens *app.TokenManager, sender Sender) *Bot {
	admins := make(map[int64]bool)
	for _, id := range service.Config.Bot.AdminIDs {
		admins[id] = true
	}

	return &Bot{
		service: service,
		tokens:  tokens,
		sender:  sender,
		admins:  admins,
	}
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}

			go b.handleMessage(update.Message)

		case <-sigChan:
			logger.Info.Println("Shutting down bot...")
			b.api.StopReceivingUpdates()
			return nil
		}
	}
}
