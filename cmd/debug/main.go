package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/thatsimonsguy/compool-bridge/db"
	"github.com/thatsimonsguy/compool-bridge/internal/clock"
	"github.com/thatsimonsguy/compool-bridge/internal/config"
	"github.com/thatsimonsguy/compool-bridge/system/service"
)

var (
	dbPath string

	rootCmd = &cobra.Command{
		Use:          "compool-debug",
		Short:        "Inspection tools for the Compool bridge",
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "data/journal.db", "Path to the command journal database")
	rootCmd.AddCommand(journalCmd(), configCmd(), skewCmd(), installServiceCmd())
}

func journalCmd() *cobra.Command {
	var target string
	var limit int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recent device commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := db.Open(dbPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			recs, err := db.NewJournal(conn.DB).Recent(cmd.Context(), target, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tOP\tTARGET\tTOOK\tRESULT")
			for _, r := range recs {
				result := "ok"
				if !r.OK() {
					result = r.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					r.IssuedAt.Local().Format(time.DateTime), r.Op, r.Target, r.Duration.Round(time.Millisecond), result)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Only show commands for this target, e.g. aux3 or heater:spa")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of commands to show")

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal entries older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := db.Open(dbPath)
			if err != nil {
				return err
			}
			defer conn.Close()

			n, err := db.NewJournal(conn.DB).Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d journal entries\n", n)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age of the oldest entry to keep")
	cmd.AddCommand(prune)
	return cmd
}

func configCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate a config file and print the effective settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "Configuration file")
	return cmd
}

func skewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skew LOCAL DEVICE",
		Short: "Show the clock skew between two HH:MM times and whether it would be corrected",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lh, lm, err := parseClock(args[0])
			if err != nil {
				return err
			}
			dh, dm, err := parseClock(args[1])
			if err != nil {
				return err
			}
			skew := clock.Skew(lh, lm, dh, dm)
			fmt.Fprintf(cmd.OutOrStdout(), "skew %d minutes, correct: %t\n", skew, clock.ShouldCorrect(skew))
			return nil
		},
	}
}

func parseClock(s string) (int, int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

func installServiceCmd() *cobra.Command {
	var opts service.Options
	var unitPath string
	var enable bool
	cmd := &cobra.Command{
		Use:   "install-service",
		Short: "Write the systemd unit for the bridge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := config.Load(opts.ConfigPath); err != nil {
				return err
			}
			if err := service.Install(unitPath, opts); err != nil {
				return err
			}
			if enable {
				return service.Enable(unitPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&unitPath, "unit", service.DefaultUnitPath, "Where to write the unit file")
	cmd.Flags().StringVar(&opts.Binary, "binary", "/usr/local/bin/compool-bridge", "Absolute path of the bridge binary")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "/etc/compool-bridge/config.yaml", "Absolute path of the config file")
	cmd.Flags().StringVar(&opts.User, "user", "", "User to run the bridge as")
	cmd.Flags().StringVar(&opts.WorkDir, "workdir", "", "Working directory, defaults to the config directory")
	cmd.Flags().StringSliceVar(&opts.After, "after", nil, "Units that must be running first")
	cmd.Flags().BoolVar(&enable, "enable", false, "Run systemctl daemon-reload and enable")
	return cmd
}
