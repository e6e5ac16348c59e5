package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/config"
	"github.com/yizeng/gab/gin/gorm/stock-audit/internal/repository/dao"
)

// OpenPostgres connects and migrates the schema.
func OpenPostgres(conf *config.PostgresConfig) (*gorm.DB, error) {
	return open(postgres.Open(dsn(conf)), true)
}

func OpenPostgresWithURL(url string) (*gorm.DB, error) {
	return open(postgres.Open(url), true)
}

// ConnectPostgres connects without touching the schema.
func ConnectPostgres(conf *config.PostgresConfig) (*gorm.DB, error) {
	return open(postgres.Open(dsn(conf)), false)
}

func ConnectPostgresWithURL(url string) (*gorm.DB, error) {
	return open(postgres.Open(url), false)
}

func dsn(conf *config.PostgresConfig) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		conf.Host, conf.Port, conf.User, conf.Password, conf.DB, conf.SSLMode)
}

func open(dialector gorm.Dialector, migrate bool) (*gorm.DB, error) {
	conn, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("gorm.Open -> %w", err)
	}

	if !migrate {
		return conn, nil
	}

	if err = dao.InitTables(conn); err != nil {
		return nil, fmt.Errorf("dao.InitTables -> %w", err)
	}

	return conn, nil
}
