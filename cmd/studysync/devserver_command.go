package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/studysync/internal/devserver"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDevServerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run the in-memory reference API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevServer(cmd.Context())
		},
	}
	cmd.PersistentFlags().String("address", "", "Listen address (defaults to devserver.address)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")
	cmd.PersistentFlags().Int("token-ttl-minutes", 0, "Issued token lifetime in minutes")
	// Unset flags fall back to the viper defaults applied in setupFlags.
	bindFlag(cmd, "devserver.address", "address")
	bindFlag(cmd, "devserver.signing_secret", "signing-secret")
	bindFlag(cmd, "devserver.token_ttl_minutes", "token-ttl-minutes")
	return cmd
}

func runDevServer(ctx context.Context) error {
	appConfig, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := appConfig.ValidateDevServer(); err != nil {
		return err
	}

	tokens, err := devserver.NewTokenIssuer(devserver.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.DevServerSigningSecret),
		TokenTTL:      appConfig.DevServerTokenTTL,
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	handler, err := devserver.NewHTTPHandler(devserver.Dependencies{
		Tokens:  tokens,
		Dataset: devserver.NewDataset(time.Now),
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.DevServerAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("devserver starting", zap.String("address", appConfig.DevServerAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
