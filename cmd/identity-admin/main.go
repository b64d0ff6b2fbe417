package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fieldcrew/identity/internal/app"
	"github.com/fieldcrew/identity/internal/assignments"
	"github.com/fieldcrew/identity/internal/platform/db"
	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/shared"
	"github.com/fieldcrew/identity/internal/users"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "identity-admin",
		Short:        "Operator tasks for the identity service",
		SilenceUsage: true,
	}
	cmd.AddCommand(migrateCmd(), bootstrapCmd())
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.LoadConfig()
			if err != nil {
				return err
			}
			return db.Migrate(cfg.PGDSN, app.NewLogger(cfg))
		},
	}
}

type bootstrapFlags struct {
	email      string
	nationalID string
	fullName   string
	region     string
}

func bootstrapCmd() *cobra.Command {
	var flags bootstrapFlags
	cmd := &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Register and approve the first super administrator",
		Long: `bootstrap-admin registers a user, approves it and assigns the super_admin
role scoped to the given region. Running it again for an approved
super administrator is a no-op.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap(cmd.Context(), flags)
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&flags.email, "email", "", "email of the administrator")
	fs.StringVar(&flags.nationalID, "national-id", "", "national identity document")
	fs.StringVar(&flags.fullName, "name", "", "full name")
	fs.StringVar(&flags.region, "region", "", "region id the assignment is scoped to")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("national-id")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("region")
	return cmd
}

func bootstrap(ctx context.Context, flags bootstrapFlags) error {
	regionID, err := uuid.Parse(flags.region)
	if err != nil {
		return fmt.Errorf("region: %w", err)
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	roleService := roles.NewService(roles.NewRepository(pool))
	assignmentService := assignments.NewService(assignments.NewRepository(pool), roleService,
		assignments.WithApprovalRequired(cfg.AssignmentRequireApproved))
	userService := users.NewService(users.NewRepository(pool), assignmentService, db.NewTxManager(pool), users.Options{}, logger)
	userService.SetAuditRecorder(shared.NewAuditLogger(pool))

	role, err := roleService.GetByCode(ctx, shared.RoleSuperAdmin)
	if err != nil {
		return fmt.Errorf("lookup %s role: %w", shared.RoleSuperAdmin, err)
	}

	user, err := userService.GetByEmail(ctx, flags.email)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		user, err = userService.Create(ctx, users.CreateInput{
			Email:      flags.email,
			NationalID: flags.nationalID,
			FullName:   flags.fullName,
		})
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		logger.Info("user registered", slog.String("user_id", user.ID.String()))
	case err != nil:
		return err
	}

	if !user.ApprovalState.AwaitingDecision() {
		ok, err := assignmentService.HasRole(ctx, user.ID, shared.RoleSuperAdmin)
		if err != nil {
			return err
		}
		if ok {
			logger.Info("super administrator already bootstrapped", slog.String("user_id", user.ID.String()))
			return nil
		}
		_, err = assignmentService.Create(ctx, assignments.CreateInput{
			UserID:   user.ID,
			RoleID:   role.ID,
			Location: shared.Location{RegionID: &regionID},
		})
		if err != nil {
			return fmt.Errorf("assign %s: %w", shared.RoleSuperAdmin, err)
		}
		logger.Info("super administrator role assigned", slog.String("user_id", user.ID.String()))
		return nil
	}

	res, err := userService.Approve(ctx, user.ID, []users.RoleGrant{{
		RoleID:   role.ID,
		Location: shared.Location{RegionID: &regionID},
	}})
	if err != nil {
		return fmt.Errorf("approve user: %w", err)
	}
	logger.Info("super administrator bootstrapped",
		slog.String("user_id", res.User.ID.String()),
		slog.Int("assignments", len(res.Assignments)))
	return nil
}
