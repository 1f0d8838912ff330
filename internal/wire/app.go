package wire

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MichaAI/multidustry/internal/kv"
)

// App aggregates the major services for easy injection.
type App struct {
	Cfg   *viper.Viper
	Log   *zap.Logger
	Store kv.Store
}

// BuildApp opens the kv backend named by cfg and seeds cluster defaults.
func BuildApp(ctx context.Context, cfg *viper.Viper, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	store, err := kv.Open(ctx, kv.OptionsFromConfig(cfg, log))
	if err != nil {
		return nil, fmt.Errorf("open kv: %w", err)
	}
	seeded, err := kv.InitDefaults(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("seed kv defaults: %w", err)
	}
	if seeded {
		log.Info("seeded default cluster settings")
	}
	return &App{Cfg: cfg, Log: log, Store: store}, nil
}

func (a *App) Close() error {
	_ = a.Log.Sync()
	return a.Store.Close()
}
