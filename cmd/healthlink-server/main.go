package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/healthlink/healthlink/internal/config"
	"github.com/healthlink/healthlink/internal/platform/db"
	"github.com/healthlink/healthlink/internal/platform/lock"
	"github.com/healthlink/healthlink/internal/platform/sandbox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "healthlink-server",
		Short: "HealthLink appointment and pharmacy API server",
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(seedCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, newLogger(cfg.Env, os.Stdout))
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}

	for _, c := range []*cobra.Command{upCmd, statusCmd} {
		c.Flags().String("schema", "", "Target schema for migrations (default public)")
		c.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
		cmd.AddCommand(c)
	}
	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(context.Context, *db.Migrator) error) error {
	schema, _ := cmd.Flags().GetString("schema")
	dir, _ := cmd.Flags().GetString("dir")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	logger := newLogger(cfg.Env, cmd.ErrOrStderr())

	ctx := context.Background()
	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, dir, db.WithSchema(schema), db.WithLogger(logger)))
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load fixture data",
	}

	def := sandbox.DefaultSeedConfig()
	demo := &cobra.Command{
		Use:   "demo",
		Short: "Register demo facilities, doctors and patients and print their logins",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")
			if cfg.IsProduction() && !force {
				return fmt.Errorf("refusing to seed demo data with ENV=production; pass --force to override")
			}
			seedCfg, err := seedConfigFromFlags(cmd)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			return runSeed(cmd.Context(), cfg, seedCfg, asJSON, cmd.OutOrStdout(), newLogger(cfg.Env, cmd.ErrOrStderr()))
		},
	}
	f := demo.Flags()
	f.Int("hospitals", def.Hospitals, "Hospitals to register")
	f.Int("doctors-per-hospital", def.DoctorsPerHospital, "Doctors per hospital")
	f.Int("stores", def.MedicalStores, "Medical stores to register")
	f.Int("patients", def.Patients, "Demo patients")
	f.Int("appointments-per-doctor", def.AppointmentsPerDoctor, "Bookings made against each doctor today")
	f.Int("orders-per-patient", def.OrdersPerPatient, "Orders placed by each patient")
	f.String("pin", def.FacilityPin, "Pin for seeded hospitals and stores")
	f.String("password", def.DoctorPassword, "Password for seeded doctors")
	f.Int64("seed", 0, "Random seed (0 picks one from the clock)")
	f.Bool("json", false, "Print credentials as NDJSON")
	f.Bool("force", false, "Allow seeding when ENV=production")
	cmd.AddCommand(demo)
	return cmd
}

func seedConfigFromFlags(cmd *cobra.Command) (sandbox.SeedConfig, error) {
	f := cmd.Flags()
	var c sandbox.SeedConfig
	var err error
	ints := []struct {
		name string
		dst  *int
	}{
		{"hospitals", &c.Hospitals},
		{"doctors-per-hospital", &c.DoctorsPerHospital},
		{"stores", &c.MedicalStores},
		{"patients", &c.Patients},
		{"appointments-per-doctor", &c.AppointmentsPerDoctor},
		{"orders-per-patient", &c.OrdersPerPatient},
	}
	for _, i := range ints {
		if *i.dst, err = f.GetInt(i.name); err != nil {
			return c, err
		}
		if *i.dst < 0 {
			return c, fmt.Errorf("--%s must not be negative", i.name)
		}
	}
	if c.FacilityPin, err = f.GetString("pin"); err != nil {
		return c, err
	}
	if c.DoctorPassword, err = f.GetString("password"); err != nil {
		return c, err
	}
	if c.Seed, err = f.GetInt64("seed"); err != nil {
		return c, err
	}
	return c, nil
}

func runSeed(ctx context.Context, cfg *config.Config, seedCfg sandbox.SeedConfig, asJSON bool, out io.Writer, logger zerolog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	key, generated, err := resolveSigningKey(cfg)
	if err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := buildServices(cfg, pool, lock.NewLocal(), nil, key, loc)
	// Tokens signed with a throwaway key would be rejected by the server.
	var issuer sandbox.TokenIssuer
	if generated {
		logger.Warn().Msg("JWT_SIGNING_KEY is not set; demo patients get no tokens")
	} else {
		issuer = svc.issuer
	}
	seeder := sandbox.NewSeeder(svc.directory, svc.appointments, svc.orders, issuer, logger)
	result, err := seeder.Generate(ctx, seedCfg)
	if err != nil {
		return err
	}
	if asJSON {
		return result.ExportNDJSON(out)
	}
	return result.WriteTable(out)
}
