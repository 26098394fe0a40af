package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chorewheel/auth"
	"chorewheel/config"
	"chorewheel/db"
	"chorewheel/handlers"
	"chorewheel/i18n"
	"chorewheel/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "chorewheel",
		Short:         "Chore Wheel, a household chore picker",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(configPath)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "Path to a JSON or YAML config file")

	rootCmd.AddCommand(newServeCmd(), newUserAddCmd())
	return rootCmd
}

// setup loads the configuration, falling back to defaults when the file is
// missing, and configures logging and the database.
func setup(configPath string) error {
	if err := logging.Init("info", false); err != nil {
		return err
	}

	err := config.LoadConfig(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		logging.L().Warn("config file not found, using defaults", zap.String("path", configPath))
		err = config.UseDefaults()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logging.Init(config.AppConfig.LogLevel, false); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	if err := db.InitDB(config.AppConfig.DatabasePath); err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	return nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	defer logging.Sync()
	defer db.DB.Close()

	if err := i18n.LoadTranslations("i18n"); err != nil {
		return fmt.Errorf("load translations: %w", err)
	}
	auth.InitStore()

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))
	handlers.RegisterHandlers(mux)

	cfg := config.AppConfig
	csrfKey := sha256.Sum256([]byte(cfg.SessionKey + "csrf"))
	handler := handlers.RequestLogger(
		handlers.SecurityHeadersMiddleware(
			handlers.CORSMiddleware(
				handlers.CSRFMiddleware(csrfKey[:], cfg.SecureCookies)(mux),
			),
		),
	)

	addr := fmt.Sprintf("%s:%d", cfg.ListenIP, cfg.ListenPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logging.L().Info("server starting", zap.String("addr", addr), zap.String("app", cfg.AppName))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newUserAddCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "useradd <username>",
		Short: "Create an account (password from --password or the first line of stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer db.DB.Close()

			if password == "" {
				var err error
				password, err = readPassword(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}
			id, err := addUser(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %q (id %d)\n", args[0], id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password for the new account")
	return cmd
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func addUser(ctx context.Context, username, password string) (int64, error) {
	if err := auth.ValidateUsername(username); err != nil {
		return 0, err
	}
	if err := auth.ValidatePassword(password); err != nil {
		return 0, err
	}
	hash, err := db.HashPassword(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	return db.CreateUser(ctx, username, hash)
}
