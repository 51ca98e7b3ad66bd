package store

import (
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

type DBConfig struct {
	Driver string // sqlite | postgres
	DSN    string
	LogSQL bool
}

func Open(cfg DBConfig) (*gorm.DB, error) {
	lvl := logger.Silent
	if cfg.LogSQL {
		lvl = logger.Info
	}
	gcfg := &gorm.Config{
		Logger: logger.New(log.New(log.Writer(), "", log.LstdFlags), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  lvl,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
	}

	switch cfg.Driver {
	case "postgres":
		pgcfg, err := pgx.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		return gorm.Open(postgres.New(postgres.Config{Conn: stdlib.OpenDB(*pgcfg)}), gcfg)
	case "sqlite", "":
		return gorm.Open(sqlite.Open(cfg.DSN), gcfg)
	}
	return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
}
