package main

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/BitcoinUnlimited/electrscash/internal/config"
	"github.com/BitcoinUnlimited/electrscash/internal/logging"
)

var (
	Version = "0.0.0" // todo: LD flags etc. to setup correctly and add git hash

	// Global flags
	datadir    string
	configFile string
	dbPath     string

	// Count command flags
	startHeight uint32
	endHeight   uint32
	keyType     string
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(
		&datadir,
		"datadir",
		config.DefaultBaseDirectory,
		"Set the base directory for electrscash. Default directory is ~/.electrscash",
	)
	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Path to config file (default: datadir/electrscash.toml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&dbPath,
		"db",
		"",
		"Path to the pebble database directory (default: datadir/db/<chain>)",
	)

	// Count command flags
	countCmd.Flags().Uint32Var(
		&startHeight,
		"start-height",
		0,
		"Start height for chain-height key counting",
	)
	countCmd.Flags().Uint32Var(
		&endHeight,
		"end-height",
		0,
		"End height for chain-height key counting",
	)
	countCmd.Flags().StringVar(
		&keyType,
		"key-type",
		"tx",
		"Type of keys to count: funding, spending, tx, cashaccount, block-header, chain-height, chain-block",
	)
}

var rootCmd = &cobra.Command{
	Use:   "electrscash-db",
	Short: "electrscash Database Explorer",
	Long: `electrscash Database Explorer provides tools to explore and analyze
the pebble index database used by electrscash.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Set directories and initialize config
		config.BaseDirectory = datadir
		config.SetDirectories()

		logging.L.Info().Msgf("base directory %s", config.BaseDirectory)

		// Load config
		if configFile == "" {
			configFile = path.Join(config.BaseDirectory, config.ConfigFileName)
		}
		config.LoadConfigs(configFile)

		// Fall back to the configured db path if none was given explicitly.
		if dbPath == "" {
			dbPath = config.DBPath
		}
	},
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count keys in the database",
	Long: `Count keys of a specific row type in the database. chain-height
supports a start-height/end-height range; other key types ignore it.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Opening database at: %s\n", dbPath)
		fmt.Printf("Counting %s keys", keyType)

		// Create database explorer
		explorer, err := NewDatabaseExplorer(dbPath)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
		defer explorer.Close()

		heightBasedKeys := map[string]bool{
			"chain-height": true,
		}

		if heightBasedKeys[keyType] {
			if endHeight != 0 && startHeight > endHeight {
				return fmt.Errorf("start-height must be less than or equal to end-height")
			}
			fmt.Printf(" from height %d to %d\n", startHeight, endHeight)
		} else {
			fmt.Println()
		}

		// Count keys
		count, err := explorer.CountKeysByType(keyType, startHeight, endHeight)
		if err != nil {
			return fmt.Errorf("error counting keys: %w", err)
		}

		fmt.Printf("Found %d %s keys", count, keyType)
		if heightBasedKeys[keyType] && endHeight != 0 {
			fmt.Printf(" in height range %d-%d", startHeight, endHeight)
		}
		fmt.Println()
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show database information",
	Long: `Show comprehensive database information including:
- Height range (min/max blocks)
- Key type counts by prefix
- Database metrics (memtable size, cache size, WAL info, etc.)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Opening database at: %s\n", dbPath)

		// Create database explorer
		explorer, err := NewDatabaseExplorer(dbPath)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
		defer explorer.Close()

		// Print database information
		if err := explorer.PrintDatabaseInfo(); err != nil {
			return fmt.Errorf("error printing database info: %w", err)
		}

		return nil
	},
}

var listKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List all key types in the database",
	Long: `List all row prefixes present in the database with their counts.
This provides an overview of what data is stored in the database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("Opening database at: %s\n", dbPath)

		// Create database explorer
		explorer, err := NewDatabaseExplorer(dbPath)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
		defer explorer.Close()

		// Print key type summary
		if err := explorer.PrintKeyTypeSummary(); err != nil {
			return fmt.Errorf("error printing key type summary: %w", err)
		}

		return nil
	},
}

func main() {
	// Add subcommands
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(listKeysCmd)

	// Execute the root command
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
