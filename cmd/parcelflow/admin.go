package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"parcelflow/internal/app"
	"parcelflow/internal/config"
	"parcelflow/internal/engine"
	"parcelflow/internal/report"
	"parcelflow/internal/repo"
	"parcelflow/internal/server"
)

func registryCmd() *cobra.Command {
	reg := &cobra.Command{Use: "registry", Short: "Manage properties and parties"}
	reg.AddCommand(propertyAddCmd())
	reg.AddCommand(partyAddCmd())
	reg.AddCommand(&cobra.Command{
		Use:   "properties",
		Short: "List properties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProperties(ctx, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	reg.AddCommand(&cobra.Command{
		Use:   "parties",
		Short: "List parties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListParties(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return reg
}

func propertyAddCmd() *cobra.Command {
	var opts engine.PropertyCreateOptions
	cmd := &cobra.Command{
		Use:   "add-property",
		Short: "Register a parcel",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProperty(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "id, default random")
	cmd.Flags().StringVar(&opts.ParcelNo, "parcel", "", "parcel/plot number")
	cmd.Flags().StringVar(&opts.Scheme, "scheme", "", "scheme or sector")
	cmd.Flags().StringVar(&opts.Address, "address", "", "address")
	cmd.Flags().Float64Var(&opts.AreaSqM, "area", 0, "area in square metres")
	_ = cmd.MarkFlagRequired("parcel")
	return cmd
}

func partyAddCmd() *cobra.Command {
	var opts engine.PartyCreateOptions
	cmd := &cobra.Command{
		Use:   "add-party",
		Short: "Register an owner or applicant",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateParty(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "id, default random")
	cmd.Flags().StringVar(&opts.Name, "name", "", "full name")
	cmd.Flags().StringVar(&opts.CNIC, "cnic", "", "national identity number")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func sequenceCmd() *cobra.Command {
	seq := &cobra.Command{Use: "sequence", Short: "Inspect and allocate document numbers"}
	var year int
	next := &cobra.Command{
		Use:   "next <prefix>",
		Short: "Allocate the next number for a prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				code, err := e.NextNumber(ctx, args[0], year)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"code": code})
				}
				fmt.Println(code)
				return nil
			})
		},
	}
	next.Flags().IntVar(&year, "year", 0, "year, default current")
	show := &cobra.Command{
		Use:   "show <prefix>",
		Short: "Show one counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Counter(ctx, args[0], year)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	show.Flags().IntVar(&year, "year", 0, "year, default current")
	list := &cobra.Command{
		Use:   "list",
		Short: "List counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Counters(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Prefix", "Year", "Current", "Updated"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.Prefix, c.Year, c.CurrentValue, c.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	seq.AddCommand(next, show, list)
	return seq
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var f repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.CaseType, "case-type", "", "case type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	l.AddCommand(tail)
	return l
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{Use: "report", Short: "Throughput reports"}
	var caseType, from, to, out string
	build := func(ctx context.Context, e engine.Engine) (report.Report, error) {
		var r report.Range
		var err error
		if from != "" {
			if r.From, err = time.Parse(time.RFC3339, from); err != nil {
				return report.Report{}, fmt.Errorf("--from must be RFC3339: %w", err)
			}
		}
		if to != "" {
			if r.To, err = time.Parse(time.RFC3339, to); err != nil {
				return report.Report{}, fmt.Errorf("--to must be RFC3339: %w", err)
			}
		}
		b := report.Builder{Repo: e.Repo, Config: e.Config, Now: e.Now}
		return b.Build(ctx, caseType, r)
	}
	summary := &cobra.Command{
		Use:   "summary",
		Short: "Totals and turnaround per case type",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := build(ctx, e)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Case type", "Total", "Issued", "Rejected", "P50 h", "P90 h"})
				for _, s := range r.Types {
					tw.AppendRow(table.Row{s.Label, s.Total, s.Issued, s.Rejected, s.P50Hours, s.P90Hours})
				}
				tw.Render()
				return nil
			})
		},
	}
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the summary as an .xlsx workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := build(ctx, e)
				if err != nil {
					return err
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if err := report.WriteXLSX(f, r); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", out)
				return nil
			})
		},
	}
	export.Flags().StringVarP(&out, "out", "o", "parcelflow-summary.xlsx", "output path")
	for _, c := range []*cobra.Command{summary, export} {
		c.Flags().StringVar(&caseType, "type", "", "case type")
		c.Flags().StringVar(&from, "from", "", "created at or after (RFC3339)")
		c.Flags().StringVar(&to, "to", "", "created before (RFC3339)")
	}
	rep.AddCommand(summary, export)
	return rep
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workflow tables and workspace settings",
		Long:  "The active case type tables are stored in the workspace database, seeded from parcelflow.yml or the built-in defaults on first use. Change them with 'config import'.",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active workflow config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSON(e.Config)
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the stored workflow config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configSetCmd())
	return cfg
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import workflow tables from YAML into the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Repo.UpsertConfig(ctx, cfg); err != nil {
					return err
				}
				e.Logger.Info("workflow config imported", zap.String("file", filePath), zap.Int("case_types", len(cfg.CaseTypes)))
				return printJSONOrTable(cfg.CaseTypeNames())
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the built-in tables to <workspace>/parcelflow.yml for editing",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Persist a setting as PARCELFLOW_<KEY> in <workspace>/.env",
		Example: `  parcelflow config set base_url https://lands.example.gov
  parcelflow config set blob.driver s3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := "PARCELFLOW_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(args[0]))
			path := filepath.Join(viper.GetString("workspace"), ".env")
			if err := setEnvValue(path, key, args[1]); err != nil {
				return err
			}
			fmt.Printf("Set %s in %s\n", key, path)
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <sha256>",
		Short: "Look up an issued document by its hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.VerifyDocument(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("valid: %s %s issued %s by %s (case %s, %s)\n", c.CaseType, c.CertificateNo, c.IssuedAt, c.IssuedBy, c.RequestNo, c.Status)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				s, err := loadSettings()
				if err != nil {
					return err
				}
				authCfg := server.AuthConfig{JWTSecret: s.Server.JWTSecret, AllowActorHeader: s.Server.AllowActorHeader, Logger: rt.Logger}
				if authCfg.JWTSecret == "" && !authCfg.AllowActorHeader {
					return fmt.Errorf("PARCELFLOW_SERVER_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: s.Server.BasePath,
					Auth:     authCfg,
					Metrics:  rt.Metrics,
					Logger:   rt.Logger,
				})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, rt.Engine, rt.Logger)
				srv := &http.Server{Addr: s.Server.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				rt.Logger.Info("serving parcelflow API",
					zap.String("addr", s.Server.Addr),
					zap.String("base_path", s.Server.BasePath),
					zap.String("verify_base", s.BaseURL))
				fmt.Printf("Serving parcelflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", s.Server.Addr, s.Server.BasePath, s.Server.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.String("addr", "127.0.0.1:8080", "listen address")
	flags.String("base-path", "/v0", "API base path")
	flags.Bool("allow-actor-header", false, "accept unauthenticated X-Actor-Id (development only)")
	_ = viper.BindPFlag("server.addr", flags.Lookup("addr"))
	_ = viper.BindPFlag("server.base_path", flags.Lookup("base-path"))
	_ = viper.BindPFlag("server.allow_actor_header", flags.Lookup("allow-actor-header"))
	return cmd
}
