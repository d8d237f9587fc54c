package main

import (
	"github.com/finbot/app/cmd"
)

// @title Finbot Session Manager API
// @version 1.0
// @description Multi-platform chat session lifecycle manager: creates, supervises and restores WhatsApp and Telegram bot sessions.

// @host  localhost:8000
// @BasePath /api/v1

func main() {
	cmd.StartApp()
}
