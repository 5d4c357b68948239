package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"parcelflow/internal/app"
	"parcelflow/internal/config"
	"parcelflow/internal/db"
	"parcelflow/internal/engine"
	"parcelflow/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "parcelflow",
	Short: "Land records case workflow",
	Long: `parcelflow runs land-records applications through their workflows.
- Case types: demarcation, DPC, occupancy and completion certificates, transfer deeds,
  mortgage letters, registration, and water/sewerage connections. Each has a
  transition table stored in the workspace database (import with 'parcelflow config import').
- Numbers: request and certificate numbers are PREFIX-YYYY-NNNNNN, gapless per prefix and year.
- Issuance renders a PDF into the blob store and a public verification link at /verify/{sha256}.
- Event log: every action is recorded, view with 'parcelflow log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if viper.GetString("database_url") != "" {
			return nil
		}
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// initConfig layers settings: defaults, <workspace>/.parcelflow/settings.yaml,
// <workspace>/.env, PARCELFLOW_* env, then flags.
func initConfig() {
	viper.SetEnvPrefix("PARCELFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	workspace := viper.GetString("workspace")
	if workspace == "" {
		workspace = "."
	}
	// .env never overrides variables already set in the environment
	_ = gotenv.Load(filepath.Join(workspace, ".env"))

	d := config.DefaultSettings()
	viper.SetDefault("workspace", d.Workspace)
	viper.SetDefault("database_url", d.DatabaseURL)
	viper.SetDefault("base_url", d.BaseURL)
	viper.SetDefault("authority", d.Authority)
	viper.SetDefault("blob.driver", d.Blob.Driver)
	viper.SetDefault("blob.root", d.Blob.Root)
	viper.SetDefault("blob.bucket", d.Blob.Bucket)
	viper.SetDefault("blob.region", d.Blob.Region)
	viper.SetDefault("blob.endpoint", d.Blob.Endpoint)
	viper.SetDefault("blob.path_style", d.Blob.PathStyle)
	viper.SetDefault("log.level", d.Log.Level)
	viper.SetDefault("log.output", d.Log.Output)
	viper.SetDefault("log.format", d.Log.Format)
	viper.SetDefault("server.addr", d.Server.Addr)
	viper.SetDefault("server.base_path", d.Server.BasePath)
	viper.SetDefault("server.jwt_secret", d.Server.JWTSecret)
	viper.SetDefault("server.allow_actor_header", d.Server.AllowActorHeader)

	settingsFile := filepath.Join(workspace, ".parcelflow", "settings.yaml")
	if _, err := os.Stat(settingsFile); err == nil {
		viper.SetConfigFile(settingsFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: read %s: %v\n", settingsFile, err)
		}
	}
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("database-url", "", "postgres:// DSN; empty uses the workspace SQLite file")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "officer recorded on events and issued documents")
	flags.String("log-level", "", "debug, info, warn or error")
	_ = viper.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = viper.BindPFlag("database_url", flags.Lookup("database-url"))
	_ = viper.BindPFlag("json", flags.Lookup("json"))
	_ = viper.BindPFlag("actor-id", flags.Lookup("actor-id"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(registryCmd())
	rootCmd.AddCommand(sequenceCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(serveCmd())
}

func loadSettings() (config.Settings, error) {
	s := config.DefaultSettings()
	if err := viper.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("settings: %w", err)
	}
	return s, nil
}

func newLogger(s config.Settings) (*zap.Logger, error) {
	return logging.New(logging.Config{Level: s.Log.Level, Output: s.Log.Output, Format: s.Log.Format})
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger, err := newLogger(s)
	if err != nil {
		return err
	}
	rt, err := app.Open(ctx, s, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func actorID() string {
	return viper.GetString("actor-id")
}

// printJSONOrTable prints v as JSON with --json, otherwise as a table. A
// list of records gets one column per field; a single record gets one row
// per field.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	out, err := renderTable(v)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func renderTable(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return "", err
	}
	tw := table.NewWriter()
	switch val := generic.(type) {
	case map[string]any:
		tw.AppendHeader(table.Row{"Field", "Value"})
		for _, k := range sortedKeys(val) {
			tw.AppendRow(table.Row{k, cell(val[k])})
		}
	case []any:
		var columns []string
		if len(val) > 0 {
			if first, ok := val[0].(map[string]any); ok {
				columns = sortedKeys(first)
			}
		}
		if columns == nil {
			tw.AppendHeader(table.Row{"Value"})
			for _, item := range val {
				tw.AppendRow(table.Row{cell(item)})
			}
			break
		}
		header := table.Row{}
		for _, c := range columns {
			header = append(header, c)
		}
		tw.AppendHeader(header)
		for _, item := range val {
			rec, _ := item.(map[string]any)
			row := table.Row{}
			for _, c := range columns {
				row = append(row, cell(rec[c]))
			}
			tw.AppendRow(row)
		}
	default:
		tw.AppendRow(table.Row{cell(val)})
	}
	return tw.Render(), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// cell flattens nested values to compact JSON.
func cell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64, bool:
		return fmt.Sprint(val)
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseJSONFlag decodes a JSON object flag; empty leaves out untouched.
func parseJSONFlag(name, raw string, out any) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("--%s: invalid JSON: %w", name, err)
	}
	return nil
}

// setEnvValue writes key=value into the .env file at path, keeping the
// other variables. gotenv rewrites the file sorted by name.
func setEnvValue(path, key, value string) error {
	env, err := gotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		env = gotenv.Env{}
	} else if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	env[key] = value
	return gotenv.Write(env, path)
}
