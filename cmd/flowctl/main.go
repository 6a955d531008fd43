// flowctl is the maintenance CLI for the discovery flow service: stuck-flow
// sweeps and local seeding.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"migration-platform/backend/internal/config"
	"migration-platform/backend/internal/logging"
	"migration-platform/backend/internal/repository"
	"migration-platform/backend/internal/services"
	"migration-platform/backend/pkg/models"
)

func main() {
	logger := logging.NewLogger()

	rootCmd := &cobra.Command{
		Use:           "flowctl",
		Short:         "Maintenance commands for the discovery flow service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var hours int
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Fail flows stuck at zero progress past the age threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, cfg, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if !cmd.Flags().Changed("hours") {
				hours = cfg.Cleanup.HoursThreshold
			}

			store := repository.NewPostgresStore(pool, logger)
			masterFlows := services.NewMasterFlowManager(store, logger)
			lifecycle := services.NewLifecycleService(store, masterFlows, logger)

			count, err := lifecycle.CleanupStuckFlows(ctx, hours)
			if err != nil {
				return err
			}
			fmt.Printf("failed %d stuck flow(s)\n", count)
			return nil
		},
	}
	cleanupCmd.Flags().IntVar(&hours, "hours", 24, "age threshold in hours")

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply the schema and create a demo discovery flow",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pool, _, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if _, err := pool.Exec(ctx, repository.Schema); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
			logger.Info("Schema applied")

			store := repository.NewPostgresStore(pool, logger)
			masterFlows := services.NewMasterFlowManager(store, logger)
			lifecycle := services.NewLifecycleService(store, masterFlows, logger)

			scope := models.TenantScope{
				ClientAccountID: uuid.New(),
				EngagementID:    uuid.New(),
			}
			flow, err := lifecycle.CreateFlow(ctx, scope, services.CreateFlowRequest{
				FlowID: uuid.New(),
				RawData: map[string]any{
					"source":       "demo-import.csv",
					"record_count": 250,
				},
				Metadata: map[string]any{"seeded": true},
			})
			if err != nil {
				return fmt.Errorf("failed to seed flow: %w", err)
			}

			logger.Info("Seeded demo flow",
				"flow_id", flow.FlowID,
				"client_account_id", scope.ClientAccountID,
				"engagement_id", scope.EngagementID,
			)
			return nil
		},
	}

	rootCmd.AddCommand(cleanupCmd, seedCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (*pgxpool.Pool, *config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return pool, cfg, nil
}
