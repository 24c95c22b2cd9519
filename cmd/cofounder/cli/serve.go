package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TRQoder/cofounder/internal/auth"
	"github.com/TRQoder/cofounder/internal/gateway"
	"github.com/TRQoder/cofounder/internal/guard"
	"github.com/TRQoder/cofounder/internal/httpapi"
	"github.com/TRQoder/cofounder/internal/memory"
	"github.com/TRQoder/cofounder/internal/turn"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket gateway and REST API",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&providerType, "provider", "p", "", "AI provider (gemini, openai, ollama)")
	serveCmd.Flags().StringVarP(&modelName, "model", "m", "", "Model name (default depends on provider)")
}

func runServer() {
	cfg := loadConfig()

	obs := newObserver()
	defer obs.Close()

	storeLayer := getStore(cfg)
	defer storeLayer.Close()

	index, err := memory.NewChromemIndex(cfg.Index.Path)
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("Failed to init vector index")
	}
	defer index.Close()

	authn, err := auth.New(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("Failed to init authenticator")
	}

	p, err := buildProvider(cfg, storeLayer)
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("Failed to init provider")
	}

	orch := turn.New(storeLayer, index, p, obs, turn.WithConfig(turn.Config{
		RecallK:     cfg.Turn.RecallK,
		WindowSize:  cfg.Turn.WindowSize,
		CallTimeout: cfg.Turn.CallTimeout,
		RecallScope: cfg.Index.RecallScope,
	}))

	g := guard.New(guard.Policy{
		MaxContentBytes: cfg.Gateway.MaxContentBytes,
		RequireUTF8:     true,
	})

	gw, err := gateway.New(storeLayer, orch, authn, g, obs, cfg.Gateway)
	if err != nil {
		obs.Log().Fatal().Err(err).Msg("Failed to init gateway")
	}
	defer gw.Close()

	api := httpapi.New(storeLayer, authn, obs, cfg.Auth.TokenTTL)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.Handle("/api/", api.Routes())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		obs.Log().Info().Str("listen", cfg.Listen).Str("provider", p.Name()).Msg("server started")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		obs.Log().Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			obs.Log().Error().Err(err).Msg("shutdown incomplete")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			obs.Log().Fatal().Err(err).Msg("server failed")
		}
	}
}
