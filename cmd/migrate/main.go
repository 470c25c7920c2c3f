package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"prestacao.org/internal/auth"
	"prestacao.org/internal/config"
	"prestacao.org/internal/expense"
	"prestacao.org/internal/migrate"
	"prestacao.org/internal/store/pg"
)

func main() {
	log.SetFlags(0)
	if err := config.LoadDotEnv(); err != nil {
		log.Fatal(err)
	}
	var (
		dsn           = flag.String("dsn", os.Getenv("DATABASE_URL"), "PostgreSQL DSN")
		table         = flag.String("table", "", "Migrations bookkeeping table (default schema_migrations)")
		adminEmail    = flag.String("admin-email", os.Getenv("ADMIN_EMAIL"), "Admin user created by seed")
		adminPassword = flag.String("admin-password", os.Getenv("ADMIN_PASSWORD"), "Admin password used by seed")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := pg.Open(*dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer st.Close()

	mgr := migrate.NewManager(st.DB(), migrate.WithMigrationsTable(*table))

	switch flag.Arg(0) {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			fmt.Println("applied", name)
		}
		if err == nil && len(applied) == 0 {
			fmt.Println("nothing to apply")
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingToRollback) {
			fmt.Println(err)
			err = nil
		} else if err == nil {
			fmt.Println("rolled back", name)
		}
	case "seed":
		err = seed(ctx, st, *adminEmail, *adminPassword)
	case "status":
		var items []migrate.MigrationStatus
		items, err = mgr.Status(ctx)
		for _, item := range items {
			state := "pending"
			if item.Applied {
				state = "applied"
			}
			fmt.Printf("%-8s %s\n", state, item.Name)
		}
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", flag.Arg(0), err)
	}
}

// seed installs the default units and cost centers and, when credentials are
// given, the admin user. Safe to run repeatedly.
func seed(ctx context.Context, st *pg.Store, email, password string) error {
	res, err := expense.NewService(st).SeedReferenceData(ctx, expense.DefaultUnits, expense.DefaultCostCenters)
	if err != nil {
		return err
	}
	fmt.Printf("seeded %d units, %d cost centers\n", res.Units, res.CostCenters)

	if email == "" {
		return nil
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		// seeding never issues tokens
		secret = "seed"
	}
	authSvc, err := auth.NewService(st, auth.WithSecret(secret))
	if err != nil {
		return err
	}
	_, created, err := authSvc.EnsureUser(ctx, email, password, auth.RoleAdmin)
	if err != nil {
		return err
	}
	if created {
		fmt.Println("created admin", email)
	} else {
		fmt.Println("admin exists", email)
	}
	return nil
}
