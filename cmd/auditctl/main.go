package main

import (
	"os"

	_ "github.com/joho/godotenv/autoload" // Autoload .env file.

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if url := os.Getenv("DATABASE_URL"); url != "" {
		_ = cmd.PersistentFlags().Set("database-url", url)
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
