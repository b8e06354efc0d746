package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/Dan9191/card-service/internal/config"
	"github.com/Dan9191/card-service/internal/repository"
	"github.com/Dan9191/card-service/internal/service"
	"github.com/Dan9191/card-service/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// env is what every database command needs
type env struct {
	cfg    *config.Config
	db     *sql.DB
	logger *logrus.Logger
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.UseMemoryStore() {
		return nil, fmt.Errorf("DB_CONN=%s has nothing to operate on; point it at Postgres", config.MemoryStore)
	}
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	db, err := repository.Connect(ctx, cfg.DBConn)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, db: db, logger: logger}, nil
}

// service builds a card service over Postgres. The generator and cipher
// are real so that every code path matches the API server.
func (e *env) service() (*service.Service, error) {
	generator, err := utils.NewCardGenerator(e.cfg.BINPrefixes)
	if err != nil {
		return nil, err
	}
	cipher, err := utils.NewNumberCipher(e.cfg.EncryptionKey, e.cfg.EncryptionSalt)
	if err != nil {
		return nil, err
	}
	repo := repository.NewRepository(e.db, e.cfg.LockTimeout)
	return service.NewService(repo, generator, cipher, nil, e.logger, e.cfg), nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the card service schema if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()
			if err := repository.Migrate(cmd.Context(), e.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
			return nil
		},
	}
}

func keygenCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Print a random value for ENCRYPTION_KEY or ENCRYPTION_SALT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := randomHex(rand.Reader, size)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
	cmd.Flags().IntVarP(&size, "bytes", "b", 32, "number of random bytes")
	return cmd
}

func randomHex(r io.Reader, n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("at least 16 bytes are required, got %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-expired",
		Short: "Block every card whose expiration date has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()
			svc, err := e.service()
			if err != nil {
				return err
			}
			n, err := svc.SweepExpired(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Blocked %d expired cards\n", n)
			return nil
		},
	}
}

func promoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote [user-id]",
		Short: "Grant the admin role to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid user id %q", args[0])
			}
			e, err := openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.db.Close()
			svc, err := e.service()
			if err != nil {
				return err
			}
			if err := svc.PromoteToAdmin(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "User %d is now an admin\n", id)
			return nil
		},
	}
}
