package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"megadata-go/internal/app"
	"megadata-go/internal/config"
	"megadata-go/internal/database"
	"megadata-go/internal/keystore"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App. With unlock set the ledger
// key is unlocked first. The caller must defer app.Close().
func newApp(ctx context.Context, command string, unlock bool) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var signer keystore.Signer
	if unlock {
		signer, err = unlockSigner(cfg.Keys)
		if err != nil {
			return nil, err
		}
	}

	a, err := app.NewApp(ctx, cfg, command, signer)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func unlockSigner(cfg config.KeysConfig) (keystore.Signer, error) {
	ks, err := keystore.NewKeystoreFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !ks.IsConfigured() {
		return nil, fmt.Errorf("ledger key not set up, run 'megadata keys init'")
	}
	passphrase, err := readPassphrase(cfg.PassphraseEnv, "Ledger key passphrase: ")
	if err != nil {
		return nil, err
	}
	return ks.Unlock(passphrase)
}

// readPassphrase reads the passphrase from envVar, or prompts on the terminal.
func readPassphrase(envVar, prompt string) (string, error) {
	if envVar != "" {
		if v := os.Getenv(envVar); v != "" {
			return v, nil
		}
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no passphrase: set %s or run interactively", envVar)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseObject(flag, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	return out, nil
}

var rootCmd = &cobra.Command{
	Use:   "megadata",
	Short: "Token metadata reconciliation and ledger publishing",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		fmt.Println("Add at least one [[networks]] entry before running megadata.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Database: %s\n", cfg.Database.Type)
		fmt.Printf("Ledger:   %s (%s)\n", cfg.Ledger.Type, cfg.Ledger.Name)
		for _, n := range cfg.Networks {
			fmt.Printf("Network:  %s (%d endpoint(s))\n", n.Name, len(n.Endpoints))
		}
		if err := cfg.Validate(); err != nil {
			fmt.Printf("\nConfiguration is invalid:\n%v\n", err)
		}
		return nil
	},
}

// db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the token database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.MigrateDatabase(cfg); err != nil {
			return fmt.Errorf("migrating database: %w", err)
		}
		fmt.Println("Database schema is up to date.")
		return nil
	},
}

var dbSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the SQL schema produced by the migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := database.GenerateSchema(cmd.Context())
		if err != nil {
			return fmt.Errorf("generating schema: %w", err)
		}
		fmt.Print(schema)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the ledger signing key",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the ledger signing key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ks, err := keystore.NewKeystoreFromConfig(cfg.Keys)
		if err != nil {
			return err
		}
		if ks.IsConfigured() {
			return fmt.Errorf("ledger key already exists at %s", cfg.Keys.PublicKeyPath)
		}

		passphrase, err := readPassphrase(cfg.Keys.PassphraseEnv, "New passphrase: ")
		if err != nil {
			return err
		}
		if os.Getenv(cfg.Keys.PassphraseEnv) == "" {
			confirm, err := readPassphrase("", "Confirm passphrase: ")
			if err != nil {
				return err
			}
			if confirm != passphrase {
				return fmt.Errorf("passphrases do not match")
			}
		}

		if err := ks.Setup(passphrase); err != nil {
			return fmt.Errorf("setting up key: %w", err)
		}
		addr, err := ks.PublicAddress()
		if err != nil {
			return err
		}
		fmt.Printf("Ledger signer: %s\n", addr)
		return nil
	},
}

var keysShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the ledger signer address",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ks, err := keystore.NewKeystoreFromConfig(cfg.Keys)
		if err != nil {
			return err
		}
		addr, err := ks.PublicAddress()
		if err != nil {
			return err
		}
		fmt.Println(addr)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled jobs and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "serve", true)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Serve(ctx)
	},
}

// reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass over external collections",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "reconcile", true)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Reconcile(cmd.Context())
		if report != nil {
			for _, c := range report.Collections {
				status := "ok"
				if c.Err != nil {
					status = "failed"
				}
				fmt.Printf("%-36s  %-6s  external=%d local=%d created=%d published=%d skipped=%d removed=%d\n",
					c.CollectionID, status, c.External, c.Local,
					len(c.Created), len(c.Published), len(c.Skipped), len(c.Removed))
			}
			fmt.Printf("%d collection(s), %d failed\n", len(report.Collections), report.Failed())
		}
		return err
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Publish pending tokens to the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "sync", true)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Sync(cmd.Context())
		if report != nil {
			fmt.Printf("Synced %d token(s) in %d batch(es); %d invalid, %d collection(s) failed\n",
				report.Synced, report.Batches, report.Invalid, len(report.Failed))
		}
		return err
	},
}

// validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check whether a wallet may write token metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		wallet, _ := cmd.Flags().GetString("wallet")
		tokenID, _ := cmd.Flags().GetString("token")
		modules, _ := cmd.Flags().GetStringSlice("modules")
		rawMetadata, _ := cmd.Flags().GetString("metadata")

		md, err := parseObject("metadata", rawMetadata)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "validate", false)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Validate(cmd.Context(), wallet, modules, tokenID, md)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

// refresh command
var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Fetch token metadata from chain and merge it over the original",
	RunE: func(cmd *cobra.Command, args []string) error {
		source, _ := cmd.Flags().GetString("source")
		contract, _ := cmd.Flags().GetString("contract")
		tokenID, _ := cmd.Flags().GetString("token")
		rawOriginal, _ := cmd.Flags().GetString("original")

		original, err := parseObject("original", rawOriginal)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "refresh", false)
		if err != nil {
			return err
		}
		defer a.Close()

		merged, err := a.RefreshMetadata(cmd.Context(), strings.ToLower(source), contract, tokenID, original)
		if err != nil {
			return err
		}
		return printJSON(merged)
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbSchemaCmd)

	keysCmd.AddCommand(keysInitCmd)
	keysCmd.AddCommand(keysShowCmd)

	validateCmd.Flags().String("wallet", "", "Authenticated wallet address")
	validateCmd.Flags().String("token", "", "Token id")
	validateCmd.Flags().StringSlice("modules", nil, "Attached module ids, in order")
	validateCmd.Flags().String("metadata", "", "Token metadata as a JSON object")
	validateCmd.MarkFlagRequired("wallet")

	refreshCmd.Flags().String("source", "", "Network name")
	refreshCmd.Flags().String("contract", "", "Contract address")
	refreshCmd.Flags().String("token", "", "Token id")
	refreshCmd.Flags().String("original", "", "Current metadata as a JSON object")
	refreshCmd.MarkFlagRequired("source")
	refreshCmd.MarkFlagRequired("contract")
	refreshCmd.MarkFlagRequired("token")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(refreshCmd)
}
