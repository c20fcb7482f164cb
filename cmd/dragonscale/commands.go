package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/adapters"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/config"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/planner"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func offlineModel(response string) dragonscale.LanguageModel {
	return adapters.NewStaticLanguageModel(response)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newInterpretCmd(c *cli) *cobra.Command {
	var (
		batch  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "interpret [request]",
		Short: "Ask the model for a command and show the extracted intent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			ct, err := c.container(ctx, true)
			if err != nil {
				return err
			}
			defer ct.Close()

			queries := []string{strings.Join(args, " ")}
			if batch {
				queries = args
			}
			results := ct.Engine.InterpretBatch(ctx, queries, ct.Context)

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, results)
			}
			for i, r := range results {
				if i > 0 {
					fmt.Fprintln(out)
				}
				renderExtraction(out, queries[i], r)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&batch, "batch", false, "Treat every argument as a separate request")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func newProcessCmd(c *cli) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "process [request]",
		Short: "Interpret a request, plan it and execute the plan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			ct, err := c.container(ctx, true)
			if err != nil {
				return err
			}
			defer ct.Close()

			var opts []dragonscale.ProcessOption
			if dryRun {
				opts = append(opts, dragonscale.DryRun())
			}
			outcome, err := ct.Engine.Process(ctx, strings.Join(args, " "), ct.Context, opts...)
			out := cmd.OutOrStdout()
			if outcome != nil {
				if outcome.Extraction != nil {
					renderExtraction(out, outcome.Query, *outcome.Extraction)
				}
				switch {
				case dryRun && outcome.Plan != nil:
					fmt.Fprintln(out)
					renderPlan(out, outcome.Plan)
				case outcome.Result != nil:
					fmt.Fprintln(out)
					renderResult(out, outcome.Result, err)
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan without executing")
	return cmd
}

func newRunCmd(c *cli) *cobra.Command {
	var params map[string]string
	cmd := &cobra.Command{
		Use:   "run [command]",
		Short: "Plan a command with the rule planner and execute it without a model",
		Long: `Splits the command on ";" and "then", routes research and calculation
segments to their targets and runs everything else in the shell.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			ct, err := c.container(ctx, false)
			if err != nil {
				return err
			}
			defer ct.Close()

			extra := make(map[string]any, len(params))
			for k, v := range params {
				extra[k] = v
			}
			res, err := ct.Engine.Run(ctx, strings.Join(args, " "), extra)
			renderResult(cmd.OutOrStdout(), res, err)
			return err
		},
	}
	cmd.Flags().StringToStringVarP(&params, "param", "p", nil, "Parameter merged into every step (key=value)")
	return cmd
}

func newPlanCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Validate, show and execute plan files (YAML or JSON)",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check a plan file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := planner.LoadPlan(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("valid:"), args[0])
			renderPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "exec <file>",
		Short: "Execute a plan file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := planner.LoadPlan(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := c.withTimeout(cmd.Context())
			defer cancel()
			ct, err := c.container(ctx, false)
			if err != nil {
				return err
			}
			defer ct.Close()

			res, err := ct.Engine.ExecutePlan(ctx, plan)
			renderResult(cmd.OutOrStdout(), res, err)
			return err
		},
	})
	return cmd
}

func newHistoryCmd(c *cli) *cobra.Command {
	var (
		limit    int
		search   string
		clearAll bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded interpretations and plan runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.cfg.History.Enabled {
				return errors.New("history is disabled in the configuration")
			}
			ct, err := c.container(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer ct.Close()

			if clearAll {
				if err := ct.History.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("history cleared"))
				return nil
			}
			records, err := ct.History.Records(limit, search)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			renderRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries (0 for all)")
	cmd.Flags().StringVarP(&search, "search", "s", "", "Only show entries containing this text")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "Delete all entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")
	return cmd
}

func newCacheCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the interpretation cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show cache size and lifetimes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := c.container(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer ct.Close()
			renderStats(cmd.OutOrStdout(), ct.Cache.Stats(), c.cfg.Cache.PersistPath)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove every cached interpretation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ct, err := c.container(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer ct.Close()
			ct.ClearCache()
			fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render("cache cleared"))
			return nil
		},
	})
	return cmd
}

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := yaml.Marshal(c.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	})
	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the default configuration file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Default().Write(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("wrote"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}
