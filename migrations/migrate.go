package main

import (
	"flag"
	"os"

	"reportserver/src/config"
	"reportserver/src/database"
	"reportserver/src/utils"

	"github.com/pressly/goose/v3"
)

func main() {
	dir := flag.String("dir", "./migrations", "directory holding the goose SQL migrations")
	command := flag.String("command", "up", "goose command: up, down, status or version")
	flag.Parse()

	cfg, err := config.LoadConfig("./settings", os.Getenv("ENV"))
	if err != nil {
		utils.NewLogger(utils.ParseLevel("info"), false, "").WithError(err).Fatal("Error loading config")
	}
	logger := utils.NewLogger(utils.ParseLevel(cfg.Logging.Level), false, "")

	db, err := database.OpenGorm(cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.WithError(err).Fatal("Failed to get SQL DB from GORM DB")
	}
	defer sqlDB.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		logger.WithError(err).Fatal("Unsupported goose dialect")
	}
	goose.SetLogger(logger)

	if err := goose.Run(*command, sqlDB, *dir); err != nil {
		logger.WithError(err).WithField("command", *command).Fatal("Migration failed")
	}

	logger.WithField("command", *command).Info("Database migration completed successfully")
}
