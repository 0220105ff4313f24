package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tasksync/api"
	"tasksync/pkg/models"
	"tasksync/pkg/scheduler"
	tsync "tasksync/pkg/sync"
	"tasksync/pkg/task"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reminder scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			defer orch.Wait()

			sched := scheduler.NewScheduler(a.logger)
			if a.mailer != nil {
				job := scheduler.NewReminderJob(a.store, a.mailer, a.cfg.ReminderDelay, a.logger)
				if err := sched.AddSchedule(scheduler.ReminderSchedule(a.cfg.ReminderCron), job); err != nil {
					return err
				}
			}
			if err := sched.Start(); err != nil {
				return err
			}
			defer sched.Stop()

			srv := api.NewServer(a.store, orch, sched, a.logger)
			srv.ReauthURL = a.auth.GetAuthURL

			httpServer := &http.Server{
				Addr:              ":" + a.cfg.Port,
				Handler:           api.SetupRouter(srv),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("starting tasksync API server", "port", a.cfg.Port)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("failed to start server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
}

func newSyncCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one initial sync pass for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}
			defer orch.Wait()

			result, err := orch.Run(ctx, user)
			if err != nil {
				if cleared, clearErr := tsync.InvalidateOnAuthFailure(ctx, a.store, user, err); clearErr != nil {
					a.logger.Error("failed to clear rejected credential", "error", clearErr)
				} else if cleared {
					fmt.Fprintln(cmd.ErrOrStderr(), "The stored credential was rejected and has been cleared; authorize again.")
				}
				var syncErr *tsync.Error
				if errors.As(err, &syncErr) && syncErr.Report != nil {
					_ = printJSON(cmd, syncErr.Report)
				}
				return err
			}
			return printJSON(cmd, result.Report)
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "email of the user to sync")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newValidateCmd() *cobra.Command {
	var user, database string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a Notion database has the properties sync needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}

			result, err := orch.CheckSchema(ctx, user, database)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, models.ValidationResponse{DatabaseID: database, Valid: result.Valid(), Issues: result.Issues}); err != nil {
				return err
			}
			if !result.Valid() {
				return fmt.Errorf("database has %d schema issue(s)", len(result.Issues))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "email of the user whose Notion credential is used")
	cmd.Flags().StringVarP(&database, "database", "d", "", "database id (defaults to the user's selected database)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newContainersCmd() *cobra.Command {
	var user, system string
	cmd := &cobra.Command{
		Use:   "containers",
		Short: "List the task lists or Notion databases a user can select",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sys := task.System(system)
			if sys != task.SystemList && sys != task.SystemDB {
				return fmt.Errorf("unknown system %q, expected %s or %s", system, task.SystemList, task.SystemDB)
			}

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			orch, err := a.orchestrator(ctx)
			if err != nil {
				return err
			}

			containers, err := orch.ListContainers(ctx, user, sys)
			if err != nil {
				return err
			}
			return printJSON(cmd, models.ContainersResponse{System: sys, Containers: containers})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "email of the user whose credential is used")
	cmd.Flags().StringVarP(&system, "system", "s", string(task.SystemList), "google or notion")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply user store schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.Migrate(cmd.Context()); err != nil {
				return err
			}
			a.logger.Info("user store schema is up to date", "driver", a.cfg.DBDriver)
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
