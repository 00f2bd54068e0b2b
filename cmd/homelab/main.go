package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/fouchger/homelab/pkg/doctor"
	"github.com/fouchger/homelab/pkg/executors"
	"github.com/fouchger/homelab/pkg/gates"
	"github.com/fouchger/homelab/pkg/history"
	"github.com/fouchger/homelab/pkg/lifecycle"
	"github.com/fouchger/homelab/pkg/paths"
	"github.com/fouchger/homelab/pkg/pipeline"
	"github.com/fouchger/homelab/pkg/schema"
	"github.com/fouchger/homelab/pkg/state"
	"github.com/fouchger/homelab/pkg/tui"
)

// Version is set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(lifecycle.ExitCode(err))
	}
}

// loadDotEnv reads a .env file and sets any variables that aren't already
// set in the environment. Lines are KEY=VALUE (or KEY="VALUE"). Comments
// (#) and blanks are skipped. The .env file is gitignored so secrets never
// end up in source control — and the core never writes them to state.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return // no .env file — that's fine
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:           "homelab",
	Short:         "Homelab automation console",
	Long:          "homelab — menu-driven automation console with a durable run lifecycle: validation gates, dry-run planning, checkpointed execution, and resume/replay.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// console bundles the wired collaborators for one invocation.
type console struct {
	cfg   *schema.Config
	p     paths.AppPaths
	store *state.Store
	hist  *history.Log
	ctrl  *lifecycle.Controller
	reg   *executors.Registry
	eval  *gates.Evaluator
}

func (c *console) Close() {
	if c.hist != nil {
		c.hist.Close()
	}
}

// buildConsole loads the config, validates it, and wires the controller.
// Config validation failure is fatal: nothing runs against a config the
// schema rejects.
func buildConsole() (*console, error) {
	p, err := paths.Default()
	if err != nil {
		return nil, err
	}
	if err := p.EnsureDirs(); err != nil {
		return nil, err
	}
	loadDotEnv(p.EnvFile)
	loadDotEnv(".env")

	cfg, errs := schema.ValidateFile(p.ConfigFile)
	if hasValidationErrors(errs) {
		printValidationErrors(errs)
		return nil, &lifecycle.GateFailureError{Results: []gates.Result{{
			GateName:     "config-valid",
			Passed:       false,
			FailureClass: gates.Fatal,
			Remediation:  fmt.Sprintf("fix %s and re-run `homelab validate`", p.ConfigFile),
		}}}
	}
	printValidationWarnings(errs)

	store, err := state.New(p.StateDir)
	if err != nil {
		return nil, err
	}
	hist, err := history.Open(p.HistoryDB)
	if err != nil {
		return nil, err
	}

	reg := executors.NewRegistry()
	runner := &executors.ExecRunner{}
	pm := packageManager()
	must(reg.Register("apps_install", &executors.AppsExecutor{Catalogue: cfg, PM: pm, Runner: runner}))
	must(reg.Register("apps_uninstall", &executors.AppsExecutor{Catalogue: cfg, PM: pm, Runner: runner, Uninstall: true}))
	must(reg.Register("infra_provision", &executors.InfraExecutor{
		Runner:        runner,
		TerraformDir:  p.ConfigDir,
		PlaybookPath:  p.ConfigDir + "/site.yml",
		InventoryPath: p.ConfigDir + "/inventory.ini",
	}))
	must(reg.Register("proxmox_configure", &executors.ProxmoxExecutor{
		ConfigPath: p.ConfigDir + "/proxmox.yaml",
	}))

	eval := gates.NewEvaluator(cfg.Gates, nil)
	ctrl, err := lifecycle.New(lifecycle.Deps{
		Store:       store,
		Locker:      state.NewFileLocker(store.LockPath()),
		Gates:       eval,
		Sequencer:   pipeline.NewSequencer(pipelineDefs(cfg)),
		Registry:    reg,
		History:     hist,
		RunsDir:     p.RunsDir,
		LockTimeout: lockTimeout(cfg),
	})
	if err != nil {
		hist.Close()
		return nil, err
	}

	return &console{
		cfg:   cfg,
		p:     p,
		store: store,
		hist:  hist,
		ctrl:  ctrl,
		reg:   reg,
		eval:  eval,
	}, nil
}

// pipelineDefs returns the configured pipelines, guaranteeing the infra
// pipeline exists even when the config omits the pipelines block.
func pipelineDefs(cfg *schema.Config) []schema.PipelineDef {
	defs := cfg.Pipelines
	for _, d := range defs {
		if d.Name == executors.InfraPipeline {
			return defs
		}
	}
	return append(defs, schema.PipelineDef{
		Name:  executors.InfraPipeline,
		Steps: []string{"access", "templates", "provision", "configure"},
	})
}

func lockTimeout(cfg *schema.Config) time.Duration {
	if cfg.Defaults == nil || cfg.Defaults.LockTimeout == "" {
		return lifecycle.DefaultLockTimeout
	}
	d, err := time.ParseDuration(cfg.Defaults.LockTimeout)
	if err != nil {
		return lifecycle.DefaultLockTimeout
	}
	return d
}

// packageManager picks nala when installed, apt-get otherwise. Override
// with HOMELAB_PM=apt|nala.
func packageManager() executors.PackageManager {
	switch os.Getenv("HOMELAB_PM") {
	case "apt":
		return executors.AptGet{}
	case "nala":
		return executors.Nala{}
	}
	if _, err := exec.LookPath("nala"); err == nil {
		return executors.Nala{}
	}
	return executors.AptGet{}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// --- run ---

var (
	runLive bool
	runYes  bool
	runVars []string
)

var runCmd = &cobra.Command{
	Use:   "run [command]",
	Short: "Run a console command (dry-run by default)",
	Long: `Run one console command through the full lifecycle:
validation gates, then planning (dry-run) or execution (--live).

Commands: apps_install, apps_uninstall, infra_provision, proxmox_configure.

Exit codes:
  0  — success
  10 — recoverable validation failure (fix and re-run)
  1  — executor failure (run may be resumable)
  20 — fatal validation failure`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	c, err := buildConsole()
	if err != nil {
		return err
	}
	defer c.Close()

	vars, err := parseVars(runVars)
	if err != nil {
		return err
	}

	dryRun := !runLive
	if !dryRun && !runYes {
		if err := confirmLive(args[0]); err != nil {
			return err
		}
	}

	_, err = c.ctrl.Launch(context.Background(), args[0], dryRun, vars)
	return reportRunError(err)
}

// confirmLive asks the operator to type the command name back before a
// live run proceeds.
func confirmLive(command string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("Live run will modify the system. Type %q to confirm: ", command),
		InterruptPrompt: "^C",
	})
	if err != nil {
		return fmt.Errorf("init prompt: %w", err)
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		return fmt.Errorf("live run not confirmed")
	}
	if strings.TrimSpace(line) != command {
		return fmt.Errorf("live run not confirmed")
	}
	return nil
}

// reportRunError prints operator-facing detail for the error classes that
// carry structure, then passes the error through for exit-code mapping.
func reportRunError(err error) error {
	if err == nil {
		return nil
	}
	var gf *lifecycle.GateFailureError
	if errors.As(err, &gf) {
		fmt.Fprintln(os.Stderr, "Validation gates failed:")
		fmt.Fprint(os.Stderr, tui.RenderGateResults(gf.Results))
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return err
}

// --- resume / replay ---

var resumeYes bool

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue the latest resumable run after its last completed step",
	Long: `Continue the latest run if it settled as RESUMABLE. Gates are
re-evaluated first — never skipped — and the original run's dry-run flag
is preserved.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildConsole()
		if err != nil {
			return err
		}
		defer c.Close()

		latest, err := c.store.LoadLatestRun()
		if err != nil {
			return err
		}
		if latest != nil && !latest.DryRun && !resumeYes {
			if cerr := confirmLive(latest.Command); cerr != nil {
				return cerr
			}
		}
		_, err = c.ctrl.Resume(context.Background())
		return reportRunError(err)
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Start a fresh run of the latest command from the first step",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildConsole()
		if err != nil {
			return err
		}
		defer c.Close()
		_, err = c.ctrl.Replay(context.Background())
		return reportRunError(err)
	},
}

// --- select ---

var (
	selProfile   string
	selInstall   []string
	selUninstall []string
	selClear     bool
)

var selectCmd = &cobra.Command{
	Use:   "select",
	Short: "Record the operator's selections (profile, apps)",
	Long: `Record which profile and apps the next run acts on. Selections
persist across runs until replaced. With no flags, prints the current
selections.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildConsole()
		if err != nil {
			return err
		}
		defer c.Close()

		cur, err := c.store.LoadSelections()
		if err != nil {
			return err
		}

		if selClear {
			cur = lifecycle.Selections{}
		}
		if selProfile != "" {
			if _, ok := c.cfg.ProfileByName(selProfile); !ok {
				return fmt.Errorf("unknown profile %q", selProfile)
			}
		}
		for _, id := range append(append([]string{}, selInstall...), selUninstall...) {
			if _, ok := c.cfg.AppByID(id); !ok {
				return fmt.Errorf("unknown app %q", id)
			}
		}
		cur.Merge(lifecycle.Selections{
			Profile:       selProfile,
			AppsInstall:   selInstall,
			AppsUninstall: selUninstall,
		})
		if err := c.store.SaveSelections(cur); err != nil {
			return err
		}

		fmt.Printf("Profile:   %s\n", orNone(cur.Profile))
		fmt.Printf("Install:   %s\n", orNone(strings.Join(cur.AppsInstall, ", ")))
		fmt.Printf("Uninstall: %s\n", orNone(strings.Join(cur.AppsUninstall, ", ")))
		return nil
	},
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// --- gates ---

var gatesCmd = &cobra.Command{
	Use:   "gates",
	Short: "Evaluate every defined gate and show the full result list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildConsole()
		if err != nil {
			return err
		}
		defer c.Close()

		sel, err := c.store.LoadSelections()
		if err != nil {
			return err
		}
		results, err := c.eval.EvaluateDefined(gates.Facts{
			"command": "gates",
			"dry_run": true,
			"profile": sel.Profile,
		})
		if err != nil {
			return err
		}
		fmt.Print(tui.RenderGateResults(results))
		if len(gates.Failed(results)) > 0 {
			return &lifecycle.GateFailureError{Results: results}
		}
		return nil
	},
}

// --- history ---

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildConsole()
		if err != nil {
			return err
		}
		defer c.Close()

		entries, err := c.hist.Recent(historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		for _, e := range entries {
			mode := "live"
			if e.DryRun {
				mode = "dry-run"
			}
			exit := "-"
			if e.ExitCode.Valid {
				exit = fmt.Sprintf("%d", e.ExitCode.Int64)
			}
			fmt.Printf("  %s  %-18s %-8s %-10s exit=%s", e.RunID, e.Command, mode, e.State, exit)
			if e.FailStep != "" {
				fmt.Printf("  failed at %q: %s", e.FailStep, e.FailReason)
			}
			fmt.Println()
		}
		return nil
	},
}

// --- doctor ---

var doctorRender bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Print a diagnostics report (terminal, paths, latest run)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := paths.Default()
		if err != nil {
			return err
		}
		caps := doctor.DetectTerminal(os.Stdout)

		summary := ""
		if store, serr := state.New(p.StateDir); serr == nil {
			if run, lerr := store.LoadLatestRun(); lerr == nil && run != nil {
				summary = fmt.Sprintf("run %s (`%s`) is %s", run.ID, run.Command, run.State)
				if run.LastStepCompleted != "" {
					summary += fmt.Sprintf(", last step %q", run.LastStepCompleted)
				}
			}
		}

		rep := doctor.Build(caps, p, summary)
		if doctorRender {
			fmt.Print(rep.Render())
		} else {
			fmt.Print(rep.Markdown)
		}
		return nil
	},
}

// --- menu ---

var menuCmd = &cobra.Command{
	Use:   "menu",
	Short: "Interactive menu console",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildConsole()
		if err != nil {
			return err
		}
		defer c.Close()

		latest, err := c.store.LoadLatestRun()
		if err != nil {
			return err
		}
		items := menuItems(c, latest)

		choice, picked, err := tui.Run(items, latest)
		if err != nil || !picked {
			return err
		}

		ctx := context.Background()
		switch choice.Command {
		case "resume":
			if latest != nil && !latest.DryRun {
				if cerr := confirmLive(latest.Command); cerr != nil {
					return cerr
				}
			}
			_, err = c.ctrl.Resume(ctx)
		case "replay":
			_, err = c.ctrl.Replay(ctx)
		default:
			if !choice.DryRun {
				if cerr := confirmLive(choice.Command); cerr != nil {
					return cerr
				}
			}
			_, err = c.ctrl.Launch(ctx, choice.Command, choice.DryRun, nil)
		}
		return reportRunError(err)
	},
}

func menuItems(c *console, latest *lifecycle.Run) []tui.Item {
	descriptions := map[string]string{
		"apps_install":      "install the selected apps",
		"apps_uninstall":    "remove the selected apps",
		"infra_provision":   "terraform + ansible pipeline",
		"proxmox_configure": "write non-secret Proxmox access settings",
	}
	var items []tui.Item
	for _, name := range c.reg.Commands() {
		items = append(items, tui.Item{
			Command:     name,
			Title:       name,
			Description: descriptions[name],
		})
	}
	items = append(items, tui.Item{
		Command:     "resume",
		Title:       "resume",
		Description: "continue the latest failed run",
		Disabled:    latest == nil || latest.State != lifecycle.StateResumable,
	})
	items = append(items, tui.Item{
		Command:     "replay",
		Title:       "replay",
		Description: "repeat the latest command from the first step",
		Disabled:    latest == nil,
	})
	return items
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [console.yaml]",
	Short: "Validate a console config file against the schema",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if len(args) == 1 {
			path = args[0]
		} else {
			p, err := paths.Default()
			if err != nil {
				return err
			}
			path = p.ConfigFile
		}

		cfg, errs := schema.ValidateFile(path)
		printValidationWarnings(errs)
		if hasValidationErrors(errs) {
			printValidationErrors(errs)
			return &lifecycle.GateFailureError{Results: []gates.Result{{
				GateName:     "config-valid",
				Passed:       false,
				FailureClass: gates.Fatal,
			}}}
		}
		fmt.Printf("✓ %s is valid (%d apps, %d gates, %d pipelines)\n",
			cfg.Meta.Name, len(cfg.Apps), len(cfg.Gates), len(cfg.Pipelines))
		return nil
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("homelab %s (build: %s)\n", version, commit)
	},
}

// --- helpers ---

func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, v := range pairs {
		parts := strings.SplitN(v, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", v)
		}
		vars[parts[0]] = parts[1]
	}
	return vars, nil
}

func hasValidationErrors(errs []*schema.ValidationError) bool {
	for _, e := range errs {
		if e.Severity != "warning" {
			return true
		}
	}
	return false
}

func printValidationErrors(errs []*schema.ValidationError) {
	n := 0
	for _, e := range errs {
		if e.Severity != "warning" {
			n++
			fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", n, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
			}
		}
	}
	fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n", n)
}

func printValidationWarnings(errs []*schema.ValidationError) {
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", e.Phase, e.Message)
		}
	}
}

func init() {
	runCmd.Flags().BoolVar(&runLive, "live", false, "Execute for real (default is dry-run planning)")
	runCmd.Flags().BoolVar(&runYes, "yes", false, "Skip the live-run confirmation prompt")
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Set a variable (key=value), repeatable")

	resumeCmd.Flags().BoolVar(&resumeYes, "yes", false, "Skip the live-run confirmation prompt")

	selectCmd.Flags().StringVar(&selProfile, "profile", "", "Select a profile by name")
	selectCmd.Flags().StringSliceVar(&selInstall, "install", nil, "App IDs to install (comma separated, repeatable)")
	selectCmd.Flags().StringSliceVar(&selUninstall, "uninstall", nil, "App IDs to uninstall (comma separated, repeatable)")
	selectCmd.Flags().BoolVar(&selClear, "clear", false, "Clear existing selections first")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")

	doctorCmd.Flags().BoolVar(&doctorRender, "render", false, "Render the report as styled markdown")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(gatesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(menuCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
