// Package main implements the token-admin CLI tool for managing API
// credentials without going through the HTTP surface.
//
// Usage:
//
//	go run ./cmd/tools/token-admin --issue --account=acc_123 --name="ci worker"
//	go run ./cmd/tools/token-admin --issue --account=acc_123 --expires-in=720h
//	go run ./cmd/tools/token-admin --revoke --token-id=<uuid>
//	go run ./cmd/tools/token-admin --hash-internal-key
//
// The tool reads DATABASE_URL from environment variables (or a .env file via
// godotenv). --hash-internal-key reads a plaintext key from stdin and prints
// the bcrypt hash to configure as INTERNAL_API_KEY_HASH; it needs no
// database connection.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"leadninja/internal/auth"
	"leadninja/internal/billing"
	"leadninja/internal/db"
)

func main() {
	issue := flag.Bool("issue", false, "issue a new account token")
	revoke := flag.Bool("revoke", false, "revoke an existing token")
	hashKey := flag.Bool("hash-internal-key", false, "bcrypt-hash a plaintext internal API key from stdin")
	account := flag.String("account", "", "account id (required with --issue)")
	name := flag.String("name", "", "human-readable token name")
	tokenID := flag.String("token-id", "", "token id (required with --revoke)")
	expiresIn := flag.Duration("expires-in", 0, "token lifetime; 0 = non-expiring")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if err := run(logger, *issue, *revoke, *hashKey, *account, *name, *tokenID, *expiresIn); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, issue, revoke, hashKey bool, account, name, tokenID string, expiresIn time.Duration) error {
	if hashKey {
		return hashInternalKey()
	}
	if issue == revoke {
		return fmt.Errorf("exactly one of --issue, --revoke, or --hash-internal-key is required")
	}

	// .env is a convenience for local runs; absence is fine.
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	svc := auth.NewTokenService(db.NewAccountTokenRepo(pool), logger)

	switch {
	case issue:
		if account == "" {
			return fmt.Errorf("--account is required with --issue")
		}
		// A token is useless without a subscription behind it, so issuing
		// one provisions the free tier for accounts that lack one.
		provisioner := billing.NewProvisioner(db.NewSubscriptionRepo(pool, logger), db.NewPlanRepo(pool), logger)
		if err := provisioner.EnsureSubscription(ctx, account); err != nil {
			return fmt.Errorf("provisioning account: %w", err)
		}
		var expiresAt *time.Time
		if expiresIn > 0 {
			t := time.Now().UTC().Add(expiresIn)
			expiresAt = &t
		}
		tok, raw, err := svc.IssueToken(ctx, account, name, expiresAt)
		if err != nil {
			return fmt.Errorf("issuing token: %w", err)
		}
		fmt.Printf("token_id: %s\n", tok.ID)
		fmt.Printf("account:  %s\n", tok.AccountID)
		if tok.ExpiresAt != nil {
			fmt.Printf("expires:  %s\n", tok.ExpiresAt.Format(time.RFC3339))
		}
		// Printed once; the hash in the database cannot be reversed.
		fmt.Printf("token:    %s\n", raw)
		return nil

	case revoke:
		if tokenID == "" {
			return fmt.Errorf("--token-id is required with --revoke")
		}
		if err := svc.RevokeToken(ctx, tokenID); err != nil {
			return fmt.Errorf("revoking token: %w", err)
		}
		fmt.Printf("revoked: %s\n", tokenID)
		return nil
	}

	return nil
}

// hashInternalKey reads a plaintext key from stdin and prints its bcrypt
// hash, suitable for the INTERNAL_API_KEY_HASH environment variable.
func hashInternalKey() error {
	fmt.Fprint(os.Stderr, "internal API key: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading key from stdin: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return fmt.Errorf("empty key")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing key: %w", err)
	}
	fmt.Printf("INTERNAL_API_KEY_HASH=%s\n", string(hash))
	return nil
}
