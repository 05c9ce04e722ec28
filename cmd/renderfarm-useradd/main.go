// Command renderfarm-useradd provisions a single user account from the
// GLACIER_USER/GLACIER_PASSWORD environment variables. It is idempotent:
// running it twice against an already-provisioned username is a no-op.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/coldforge/renderfarm/internal/auth"
	"github.com/coldforge/renderfarm/internal/config"
	"github.com/coldforge/renderfarm/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "renderfarm-useradd:", err)
		os.Exit(1)
	}
}

func run() error {
	userCfg, err := config.LoadUserAddConfig()
	if err != nil {
		return err
	}
	dbCfg, err := config.LoadDatabaseConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	db, err := store.Open(ctx, dbCfg, nil, nil)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	hash, err := auth.HashPassword(userCfg.GlacierPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	err = db.AddUser(ctx, userCfg.GlacierUser, hash)
	if err != nil && !errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("provisioning user %s: %w", userCfg.GlacierUser, err)
	}
	if errors.Is(err, store.ErrDuplicate) {
		fmt.Printf("user %q already provisioned, nothing to do\n", userCfg.GlacierUser)
		return nil
	}

	fmt.Printf("provisioned user %q\n", userCfg.GlacierUser)
	return nil
}
