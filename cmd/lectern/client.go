package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/benaskins/lectern/internal/api"
	"github.com/benaskins/lectern/internal/supervisor"
)

var clientAddr string

func apiClient() (*api.Client, error) {
	if clientAddr != "" {
		return api.NewTCPClient(clientAddr), nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return api.NewClient(cfg.API.Socket), nil
}

// lifecycleTimeout bounds start and restart requests: the startup ceiling
// plus the stop timeout, with headroom.
func lifecycleTimeout() time.Duration {
	cfg, err := loadConfig()
	if err != nil {
		return 2 * time.Minute
	}
	return cfg.Timing.StartupTimeout.Duration + cfg.Timing.StopTimeout.Duration + 10*time.Second
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		snap, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}
		printSnapshot(os.Stdout, snap)
		return nil
	},
}

func printSnapshot(out io.Writer, s supervisor.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "STATE\t%s\n", s.State)
	fmt.Fprintf(w, "STATUS\t%s\n", s.Status)
	fmt.Fprintf(w, "PID\t%s\n", dash(s.PID))
	fmt.Fprintf(w, "PORT\t%s\n", dash(s.Port))
	if s.Root != "" {
		fmt.Fprintf(w, "ROOT\t%s (%s)\n", s.Root, s.RootSource)
	}
	if s.Uptime != "" {
		fmt.Fprintf(w, "UPTIME\t%s\n", s.Uptime)
	}
	if s.HealthFails > 0 {
		fmt.Fprintf(w, "HEALTH FAILS\t%d\n", s.HealthFails)
	}
	w.Flush()

	if s.LastError != "" {
		fmt.Fprintf(out, "\nlast error: %s\n", s.LastError)
	}
}

func dash(n int) string {
	if n <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d", n)
}

func lifecycleCommand(use, short string, call func(*api.Client, context.Context) (supervisor.Snapshot, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), lifecycleTimeout())
			defer cancel()

			snap, err := call(c, ctx)
			if err != nil {
				return explainLifecycleError(err)
			}
			fmt.Printf("backend %s: %s\n", snap.State, snap.Status)
			return nil
		},
	}
}

// explainLifecycleError adds the setting to change when the backend is slow
// to become healthy.
func explainLifecycleError(err error) error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Kind == api.KindStartupTimeout && apiErr.TimeoutSeconds > 0 {
		return fmt.Errorf("%w: if the backend is just slow to boot, raise timing.startup_timeout above %ds",
			err, apiErr.TimeoutSeconds)
	}
	return err
}

var (
	startCmd   = lifecycleCommand("start", "Start the backend and wait until it is healthy", (*api.Client).Start)
	stopCmd    = lifecycleCommand("stop", "Stop the backend", (*api.Client).Stop)
	restartCmd = lifecycleCommand("restart", "Restart the backend", (*api.Client).Restart)
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent backend output",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("lines")
		c, err := apiClient()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		lines, err := c.Logs(ctx, n)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&clientAddr, "api-addr", "", "control API TCP address; run also listens here, other commands connect here instead of the Unix socket")
	statusCmd.Flags().Bool("json", false, "print the status as JSON")
	logsCmd.Flags().IntP("lines", "n", 50, "number of lines to show")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(logsCmd)
}
