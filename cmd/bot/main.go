package main

import (
	"flag"

	"github.com/shrimpsizemoose/trekker/logger"

	"github.com/shrimpsizemoose/gradebook/internal/app"
	"github.com/shrimpsizemoose/gradebook/internal/bot"
)

func main() {
	var configPath = flag.String("config", "config.toml", "Path to config file")
	flag.Parse()

	service, err := app.NewService(*configPath)
	if err != nil {
		logger.Error.Fatalf("Failed to load config: %v", err)
	}
	defer service.Close()

	var tokens *app.TokenManager
	if service.Config.Auth.RedisURL != "" {
		client, err := app.NewRedisClient(service.Config.Auth.RedisURL)
		if err != nil {
			logger.Error.Fatalf("Failed to connect to redis: %v", err)
		}
		tokens = app.NewTokenManager(client, service.Config)
		defer tokens.Close()
	} else {
		logger.Info.Println("No redis configured, /token and /link are disabled")
	}

	b, err := bot.New(service, tokens)
	if err != nil {
		logger.Error.Fatalf("Failed to create bot: %v", err)
	}

	logger.Info.Println("Bot intialized succesfully")
	if err := b.Start(); err != nil {
		logger.Error.Fatalf("Bot error: %v", err)
	}
}
