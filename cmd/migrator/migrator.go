package main

import (
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	dsn := pflag.String("dsn", os.Getenv("DB_DSN"), "postgres connection string (defaults to $DB_DSN)")
	dir := pflag.String("dir", "migrations", "directory holding goose SQL migrations")
	cmd := pflag.String("cmd", "up", "goose command: up, down, status")
	pflag.Parse()

	l, _ := zap.NewProduction()
	defer func() { _ = l.Sync() }()

	if *dsn == "" {
		l.Fatal("dsn is empty")
	}
	if err := goose.SetDialect("postgres"); err != nil {
		l.Fatal("set dialect", zap.Error(err))
	}
	db, err := goose.OpenDBWithDriver("pgx", *dsn)
	if err != nil {
		l.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	if err := goose.Run(*cmd, db, *dir); err != nil {
		l.Fatal("migrate", zap.String("cmd", *cmd), zap.Error(err))
	}
	l.Info("migrations done", zap.String("cmd", *cmd), zap.String("dir", *dir))
}
