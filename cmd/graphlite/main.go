package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/graphlite/graphlite/pkg/config"
	"github.com/graphlite/graphlite/pkg/coordinator"
	"github.com/graphlite/graphlite/pkg/log"
	"github.com/graphlite/graphlite/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	dbPath      string
	userName    string
	password    string
	configPath  string
	logLevel    string
	metricsAddr string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "graphlite",
	Short: "Embedded property-graph database with a GQL surface",
	Long: `GraphLite is an embedded, single-process graph database.
This command runs statements against a database directory non-interactively:
pass statements as arguments, or pipe them on stdin one per line.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: false, Output: os.Stderr})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "graphlite-data", "database directory")
	rootCmd.PersistentFlags().StringVar(&userName, "user", "admin", "user to authenticate as")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "password for the user")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "optional YAML knob file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	queryCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "expose Prometheus metrics on this address while running")
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(explainCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func openCoordinator() (*coordinator.Coordinator, string, error) {
	var opts []config.Option
	if configPath != "" {
		knobs, err := config.Load(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("load config: %w", err)
		}
		opts = append(opts,
			config.WithCacheSize(knobs.CacheSize),
			config.WithWALFsyncPolicy(knobs.WALFsyncPolicy),
			config.WithWALSegmentBytes(knobs.WALSegmentBytes),
			config.WithCartesianCeiling(knobs.CartesianCeiling),
			config.WithSortSpillThreshold(knobs.SortSpillThreshold),
		)
	}
	coord, err := coordinator.Open(dbPath, opts...)
	if err != nil {
		return nil, "", err
	}
	sessionID, err := coord.CreateSession(userName, password)
	if err != nil {
		coord.Close()
		return nil, "", err
	}
	return coord, sessionID, nil
}

var queryCmd = &cobra.Command{
	Use:   "query [statement...]",
	Short: "Run GQL statements against the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, sessionID, err := openCoordinator()
		if err != nil {
			return err
		}
		defer coord.Close()

		if metricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					log.Errorf("metrics server failed", err)
				}
			}()
		}

		statements := args
		if len(statements) == 0 {
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 1<<20), 1<<20)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" || strings.HasPrefix(line, "--") {
					continue
				}
				statements = append(statements, line)
			}
			if err := scanner.Err(); err != nil {
				return err
			}
		}

		enc := json.NewEncoder(os.Stdout)
		for _, stmt := range statements {
			res, err := coord.Process(stmt, sessionID)
			if err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
			if err := enc.Encode(res); err != nil {
				return err
			}
		}
		return nil
	},
}

var explainCmd = &cobra.Command{
	Use:   "explain <statement>",
	Short: "Show the physical plan for a statement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, _, err := openCoordinator()
		if err != nil {
			return err
		}
		defer coord.Close()
		plan, err := coord.Explain(args[0])
		if err != nil {
			return err
		}
		fmt.Println(plan)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate <statement>",
	Short: "Check a statement for syntax errors without executing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, _, err := openCoordinator()
		if err != nil {
			return err
		}
		defer coord.Close()
		if err := coord.Validate(args[0]); err != nil {
			return err
		}
		fmt.Println("OK")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("graphlite %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	},
}
