// Package mcp parses MCP command flags and wires the stdio server.
package mcp

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/esusuhq/esusu/internal/auth"
	circleservice "github.com/esusuhq/esusu/internal/circle/service"
	"github.com/esusuhq/esusu/internal/escrow"
	"github.com/esusuhq/esusu/internal/mcp"
	platformcmd "github.com/esusuhq/esusu/internal/platform/cmd"
	"github.com/esusuhq/esusu/internal/random"
	"github.com/esusuhq/esusu/internal/storage"
	"github.com/esusuhq/esusu/internal/storage/memory"
	"github.com/esusuhq/esusu/internal/storage/sqlite"
	"github.com/esusuhq/esusu/internal/telemetry"
)

// Config holds MCP command configuration.
type Config struct {
	// StoragePath is the SQLite database path. Empty selects the in-memory
	// store, which does not survive restarts.
	StoragePath string `env:"ESUSU_STORAGE_PATH"`
	// Grant is a serialized identity grant attached to every mutating tool
	// invocation.
	Grant string `env:"ESUSU_GRANT"`
	// AuthMode selects the verifier: "grant" validates signed identity
	// grants, "none" trusts tool arguments as-is.
	AuthMode string `env:"ESUSU_AUTH_MODE" envDefault:"none"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "SQLite database path (empty for in-memory)")
	fs.StringVar(&cfg.AuthMode, "auth-mode", cfg.AuthMode, "Authorization mode: grant or none")
	if err := platformcmd.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the MCP stdio server.
func Run(ctx context.Context, cfg Config) error {
	return platformcmd.RunWithTelemetry(ctx, platformcmd.ServiceMCP, func(ctx context.Context) error {
		store, err := openStore(cfg.StoragePath)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("close store: %v", err)
			}
		}()

		verifier, err := newVerifier(cfg.AuthMode)
		if err != nil {
			return err
		}
		shuffler, err := random.NewShuffler(random.NewSeed)
		if err != nil {
			return fmt.Errorf("seed shuffler: %w", err)
		}

		emitter := telemetry.NewEmitter(store)
		circleSvc := circleservice.NewService(store, verifier, shuffler, emitter)
		escrowSvc := escrow.NewService(store, verifier, escrow.NopTransfer{})

		server := mcp.New(circleSvc, escrowSvc, mcp.GrantContext(cfg.Grant))
		return server.Run(ctx)
	})
}

func openStore(path string) (storage.Store, error) {
	if strings.TrimSpace(path) == "" {
		log.Printf("storage=memory path=unset")
		return memory.New(), nil
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Printf("storage=sqlite path=%s", path)
	return store, nil
}

func newVerifier(mode string) (auth.Verifier, error) {
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case "", "none":
		return auth.Static{}, nil
	case "grant":
		cfg, err := auth.LoadGrantConfigFromEnv(nil)
		if err != nil {
			return nil, err
		}
		return auth.NewGrantVerifier(cfg)
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}
