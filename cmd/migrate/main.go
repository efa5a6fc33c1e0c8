package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/pressly/goose/v3"
	"github.com/samber/lo"
	_ "modernc.org/sqlite"

	"tg_digest/migrations"
)

type command struct {
	name string
	help string
	run  func(db *sql.DB) error
}

var commands = []command{
	{"up", "Migrate to the latest version", func(db *sql.DB) error { return goose.Up(db, ".") }},
	{"up-one", "Migrate one version up", func(db *sql.DB) error { return goose.UpByOne(db, ".") }},
	{"down", "Roll back one version", func(db *sql.DB) error { return goose.Down(db, ".") }},
	{"redo", "Roll back and re-apply the latest version", func(db *sql.DB) error { return goose.Redo(db, ".") }},
	{"status", "Show migration status", func(db *sql.DB) error { return goose.Status(db, ".") }},
	{"version", "Show current version", func(db *sql.DB) error { return goose.Version(db, ".") }},
	{"reset", "Roll back all migrations (drops channels, messages and summaries)", func(db *sql.DB) error { return goose.Reset(db, ".") }},
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	dbPath := flag.String("db", envOrDefault("DATABASE_PATH", "./data/digest.db"), "path to the digest sqlite database")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cmd, ok := lo.Find(commands, func(c command) bool { return c.name == args[0] })
	if !ok {
		log.Error("unknown command", "command", args[0])
		usage()
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", *dbPath)
	if err != nil {
		log.Error("open database", "path", *dbPath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		log.Error("set dialect", "error", err)
		os.Exit(1)
	}

	if err := cmd.run(db); err != nil {
		log.Error("migration failed", "command", cmd.name, "path", *dbPath, "error", err)
		_ = db.Close()
		os.Exit(1)
	}
}

func usage() {
	width := slices.Max(lo.Map(commands, func(c command, _ int) int { return len(c.name) }))
	var b strings.Builder
	b.WriteString("Usage: migrate [-db path] <command>\n\nCommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-*s  %s\n", width, c.name, c.help)
	}
	fmt.Fprint(os.Stderr, b.String())
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
