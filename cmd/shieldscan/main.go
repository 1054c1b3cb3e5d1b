// Package main is the CLI entry point for shieldscan.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/shieldscan/internal/config"
	"github.com/eliteGoblin/shieldscan/internal/domain"
	"github.com/eliteGoblin/shieldscan/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

// errThreatsFound makes scan commands exit non-zero when something was flagged.
var errThreatsFound = errors.New("threats found")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errThreatsFound) {
			fmt.Fprintln(os.Stderr, errorColor("Error:"), err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "shieldscan",
	Short: "On-device malware scanner with quarantine",
	Long: `shieldscan scans files and installed apps against known signatures,
pattern rules and archive structure checks, and moves confirmed threats
into a non-executable quarantine from which they can be restored or deleted.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var scanCmd = &cobra.Command{
	Use:   "scan <path>...",
	Short: "Scan files",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScan,
}

var scanAppCmd = &cobra.Command{
	Use:   "scan-app <package-id>...",
	Short: "Scan installed apps",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runScanApp,
}

var fullScanCmd = &cobra.Command{
	Use:   "full-scan",
	Short: "Scan all installed apps and every candidate file under the scan roots",
	Long: `Walks the configured scan roots (plus mounted removable volumes when
scan.include_removable is set) and scans every non-system installed app.
Interrupt with Ctrl-C to stop early; partial results are still reported.`,
	Args: cobra.NoArgs,
	RunE: runFullScan,
}

var quarantineCmd = &cobra.Command{
	Use:   "quarantine",
	Short: "Manage quarantined files",
}

var quarantineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List quarantined files",
	Args:  cobra.NoArgs,
	RunE:  runQuarantineList,
}

var quarantineAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Scan a file and move it into quarantine",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuarantineAdd,
}

var quarantineRestoreCmd = &cobra.Command{
	Use:   "restore <id>",
	Short: "Restore a quarantined file to its original location",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuarantineRestore,
}

var quarantineDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Permanently delete a quarantined file",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuarantineDelete,
}

var signaturesCmd = &cobra.Command{
	Use:   "signatures",
	Short: "Manage the signature database",
}

var signaturesImportCmd = &cobra.Command{
	Use:   "import <feed.json|feed.yaml>",
	Short: "Replace the signature database with a feed file",
	Args:  cobra.ExactArgs(1),
	RunE:  runSignaturesImport,
}

var signaturesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show signature database statistics",
	Args:  cobra.NoArgs,
	RunE:  runSignaturesStats,
}

var watchCmd = &cobra.Command{
	Use:   "watch [dir]...",
	Short: "Watch directories and scan files as they change",
	RunE:  runWatch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	cfgFile        string
	execMode       string
	jsonOutput     bool
	verbose        bool
	autoQuarantine bool
	metricsAddr    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: <data dir>/config.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&execMode, "mode", "", "Execution mode: user or system (default: detect from uid)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show every indicator")

	for _, c := range []*cobra.Command{scanCmd, scanAppCmd, fullScanCmd, quarantineListCmd, signaturesStatsCmd, versionCmd} {
		c.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	}
	for _, c := range []*cobra.Command{scanCmd, fullScanCmd, watchCmd} {
		c.Flags().BoolVar(&autoQuarantine, "quarantine", false, "Quarantine infected files")
	}
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	quarantineCmd.AddCommand(quarantineListCmd, quarantineAddCmd, quarantineRestoreCmd, quarantineDeleteCmd)
	signaturesCmd.AddCommand(signaturesImportCmd, signaturesStatsCmd)

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(scanAppCmd)
	rootCmd.AddCommand(fullScanCmd)
	rootCmd.AddCommand(quarantineCmd)
	rootCmd.AddCommand(signaturesCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadApp reads configuration and wires the engine.
func loadApp() (*app, error) {
	cfg, err := config.Load(cfgFile, config.ExecMode(execMode))
	if err != nil {
		return nil, err
	}
	if autoQuarantine {
		cfg.Quarantine.AutoQuarantine = true
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}

	logger := createLogger(cfg.Log)
	a, err := newApp(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	results := make([]domain.ScanResult, 0, len(args))
	for _, p := range args {
		results = append(results, a.scanner.ScanFile(p, domain.ScanTypeOnDemand))
	}
	return a.report(cmd, results)
}

func runScanApp(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	results := make([]domain.ScanResult, 0, len(args))
	for _, id := range args {
		results = append(results, a.scanner.ScanInstalledApp(id, domain.ScanTypeOnDemand))
	}
	return a.report(cmd, results)
}

func runFullScan(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(a.logger)
	defer cancel()

	out := cmd.ErrOrStderr()
	results, err := a.scanner.RunFullScan(ctx, domain.ScanTypeFull, func(p domain.Progress) {
		if jsonOutput {
			return
		}
		if p.Done {
			fmt.Fprintf(out, "\r\033[K%d/%d done\n", p.Scanned, p.Total)
			return
		}
		fmt.Fprintf(out, "\r\033[K%d/%d %s", p.Scanned, p.Total, p.CurrentItem)
	})
	if err != nil {
		fmt.Fprintln(out, warningColor("Scan interrupted; reporting partial results."))
	}
	return a.report(cmd, results)
}

// report prints results, auto-quarantines infected files when enabled and
// returns errThreatsFound when anything was flagged.
func (a *app) report(cmd *cobra.Command, results []domain.ScanResult) error {
	out := cmd.OutOrStdout()

	if a.cfg.Quarantine.AutoQuarantine {
		for _, r := range results {
			if !r.Infected() || r.IsApp {
				continue
			}
			entry, err := a.quarantine.Quarantine(r)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %s: %v\n", errorColor("quarantine failed"), r.Path, err)
				continue
			}
			if !jsonOutput {
				fmt.Fprintf(out, "%s %s -> %s\n", warningColor("quarantined"), r.Path, shortID(entry.ID))
			}
		}
	}

	sum := summarize(results)
	if jsonOutput {
		if err := writeJSON(out, struct {
			Results []domain.ScanResult `json:"results"`
			Summary summary             `json:"summary"`
		}{results, sum}); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			printResult(out, r, a.scanner.ToActionableRisk(r), verbose)
		}
		printSummary(out, sum)
	}

	if sum.Threats > 0 {
		return errThreatsFound
	}
	return nil
}

func runQuarantineList(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	entries, err := a.quarantine.List()
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), entries)
	}
	printEntries(cmd.OutOrStdout(), entries)
	return nil
}

func runQuarantineAdd(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	result := a.scanner.ScanFile(args[0], domain.ScanTypeOnDemand)
	if result.ThreatLevel == domain.LevelScanError {
		return fmt.Errorf("cannot read %s", args[0])
	}
	entry, err := a.quarantine.Quarantine(result)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s as %s\n", warningColor("Quarantined"), entry.OriginalPath, entry.ID)
	return nil
}

func runQuarantineRestore(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	entry, err := a.quarantine.Find(args[0])
	if err != nil {
		return err
	}
	if err := a.quarantine.Restore(*entry); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successColor("Restored"), entry.OriginalPath)
	return nil
}

func runQuarantineDelete(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	entry, err := a.quarantine.Find(args[0])
	if err != nil {
		return err
	}
	if err := a.quarantine.Delete(*entry); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successColor("Deleted"), entry.OriginalPath)
	return nil
}

func runSignaturesImport(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	feed, err := infra.LoadSignatureFeed(args[0])
	if err != nil {
		return err
	}
	if err := a.signatures.Reload(feed); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d signatures, %d patterns\n",
		successColor("Imported"), len(feed.Signatures), len(feed.Patterns))
	return nil
}

func runSignaturesStats(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	st, err := a.signatures.Stats()
	if err != nil {
		return err
	}
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), st)
	}
	printStats(cmd.OutOrStdout(), a.signatures.Path(), st)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signalContext(a.logger)
	defer cancel()

	if a.cfg.Metrics.Addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, a.cfg.Metrics.Addr, a.logger); err != nil {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	fmt.Fprintln(cmd.ErrOrStderr(), infoColor("Watching for changes. Press Ctrl-C to stop."))
	err = a.monitor(args).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		fmt.Printf(`{"version":"%s","commit":"%s","build_time":"%s"}`+"\n",
			Version, Commit, BuildTime)
	} else {
		fmt.Printf("shieldscan %s (commit: %s, built: %s)\n",
			Version, Commit, BuildTime)
	}
}
