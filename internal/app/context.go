package app

import (
	"database/sql"
	"os"

	"goalline/internal/config"
	"goalline/internal/db"
	"goalline/internal/engine"
	"goalline/internal/migrate"
)

// Bootstrap opens the workspace database, applies migrations, and resolves
// configuration. Config comes from goalline.yml when present, defaults
// otherwise; GOALLINE_BOT_TOKEN overrides the configured bot token.
func Bootstrap(workspace string) (*sql.DB, *config.Config, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if token := os.Getenv("GOALLINE_BOT_TOKEN"); token != "" {
		cfg.Bot.Token = token
	}
	return conn, cfg, nil
}

// NewEngine wires an Engine from an open connection and resolved config.
func NewEngine(conn *sql.DB, cfg *config.Config) engine.Engine {
	return engine.New(conn, cfg)
}
