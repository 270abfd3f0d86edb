package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/customeros/mailbot/config"
	"github.com/customeros/mailbot/internal/database"
	"github.com/customeros/mailbot/internal/repository"
	"github.com/customeros/mailbot/server"
)

func main() {
	app := &cli.App{
		Name:  "mailbot",
		Usage: "bridge a mailbox to the chat bot bus",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: migrate,
			},
			{
				Name:   "server",
				Usage:  "Start the application server",
				Action: serve,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, cli.Exit("Config initialization failed: "+err.Error(), 1)
	}
	return cfg, nil
}

func migrate(_ *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.DatabaseConfig.Enabled() {
		return cli.Exit("MAILBOT_POSTGRES_HOST is not set, nothing to migrate", 1)
	}

	mailbotDB, err := database.InitMailbotDatabase(cfg.DatabaseConfig)
	if err != nil {
		return cli.Exit("Mailbot database initialization failed: "+err.Error(), 1)
	}

	if err := repository.MigrateDB(cfg.DatabaseConfig, mailbotDB); err != nil {
		return cli.Exit("Database migration failed: "+err.Error(), 1)
	}
	log.Println("Database migration completed successfully")
	return nil
}

func serve(_ *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	mailbotDB, err := database.InitMailbotDatabase(cfg.DatabaseConfig)
	if err != nil {
		return cli.Exit("Mailbot database initialization failed: "+err.Error(), 1)
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("Mailbot starting up...")

	srv, err := server.NewServer(cfg, mailbotDB)
	if err != nil {
		return cli.Exit("Server setup failed: "+err.Error(), 1)
	}

	if err := srv.Run(); err != nil {
		return cli.Exit("Server startup failed: "+err.Error(), 1)
	}

	log.Println("Shutdown complete")
	return nil
}
