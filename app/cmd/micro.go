package cmd

import (
	"github.com/finbot/pkg/config"
	"github.com/finbot/pkg/database"
	"github.com/finbot/pkg/logger"
	"github.com/finbot/pkg/server"
	"github.com/finbot/pkg/utils"
)

func StartApp() {
	config := config.InitConfig()
	utils.LoadEnv()
	log := logger.New(config.Log)
	database.InitDB(config.Database)
	server.LaunchHttpServer(config, log)
}
