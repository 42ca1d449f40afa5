// Command checktelegram validates the Telegram alert channel end to end:
// token, bot API reachability and, when a chat is configured, a test alert.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/go-telegram/bot"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/cryptodash/autopilot/internal/config"
	"github.com/cryptodash/autopilot/internal/notify"
)

func main() {
	fmt.Println("🔧 Validating Telegram alert configuration...")

	if err := godotenv.Load(); err != nil {
		fmt.Printf("⚠️  Warning: Could not load .env file: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if cfg.Telegram.BotToken == "" {
		fmt.Println("❌ telegram.bot_token is not configured")
		os.Exit(1)
	}
	fmt.Printf("✅ Bot token is configured (length: %d)\n", len(cfg.Telegram.BotToken))

	b, err := bot.New(cfg.Telegram.BotToken)
	if err != nil {
		fmt.Printf("❌ Failed to create Telegram bot: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("🔍 Testing bot API connection...")
	ctx := context.Background()
	botInfo, err := b.GetMe(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get bot info: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Connected as @%s (%s, id %d)\n", botInfo.Username, botInfo.FirstName, botInfo.ID)

	if cfg.Telegram.ChatID == 0 {
		fmt.Println("⚠️  telegram.chat_id is not configured, skipping test alert")
		fmt.Println("\n🎉 Telegram configuration checks passed!")
		return
	}

	logger := logrus.New()
	sink, err := notify.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
	if err != nil {
		fmt.Printf("❌ Failed to create Telegram sink: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("🔍 Sending test alert to chat %d...\n", cfg.Telegram.ChatID)
	dispatcher := notify.NewDispatcher(logger, sink)
	dispatcher.Dispatch(ctx, notify.LevelInfo, "alert channel check", "Test alert from checktelegram. The alert channel works.")

	fmt.Println("\n🎉 All Telegram alert checks passed!")
}
