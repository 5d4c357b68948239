package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"parcelflow/internal/domain"
	"parcelflow/internal/engine"
	"parcelflow/internal/repo"
)

func caseCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "case",
		Short: "Open and move cases through their workflow",
	}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseGetCmd())
	c.AddCommand(caseActionsCmd())
	c.AddCommand(caseChecklistCmd())
	c.AddCommand(caseServiceabilityCmd())
	c.AddCommand(caseScheduleCmd())
	c.AddCommand(caseCompleteCmd())
	c.AddCommand(caseInspectionsCmd())
	c.AddCommand(caseSimpleCmd("issue", "Issue the certificate, deed, letter or sanction", engine.Engine.Issue))
	c.AddCommand(caseReasonCmd("reject", "Reject a case", engine.Engine.Reject))
	c.AddCommand(caseReasonCmd("close", "Close a connection", engine.Engine.Close))
	c.AddCommand(caseSimpleCmd("activate", "Activate a sanctioned connection", engine.Engine.Activate))
	c.AddCommand(caseSimpleCmd("request-renewal", "Request renewal of an active connection", engine.Engine.RequestRenewal))
	c.AddCommand(caseSimpleCmd("renew", "Renew a connection, keeping its number", engine.Engine.Renew))
	c.AddCommand(caseDocumentCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var opts engine.CaseCreateOptions
	var details, checklist string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a case and allocate its request number",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parseJSONFlag("details", details, &opts.Details); err != nil {
				return err
			}
			if err := parseJSONFlag("checklist", checklist, &opts.Checklist); err != nil {
				return err
			}
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateCase(ctx, opts)
				if err != nil {
					return err
				}
				return printCase(e, c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.CaseType, "type", "", "case type, e.g. demarcation")
	cmd.Flags().StringVar(&opts.SubjectID, "subject", "", "property id")
	cmd.Flags().StringVar(&opts.PartyID, "party", "", "owner/applicant party id")
	cmd.Flags().StringVar(&details, "details", "", "type specific details as JSON")
	cmd.Flags().StringVar(&checklist, "checklist", "", `checklist as JSON, e.g. {"siteVisible":true}`)
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("party")
	return cmd
}

func caseListCmd() *cobra.Command {
	var f repo.CaseFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cases, err := e.ListCases(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Number", "Status", "Certificate", "Created"})
				for _, c := range cases {
					tw.AppendRow(table.Row{c.ID, c.CaseType, c.RequestNo, c.Status, c.CertificateNo, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.CaseType, "type", "", "case type filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.SubjectID, "subject", "", "property filter")
	cmd.Flags().StringVar(&f.PartyID, "party", "", "party filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func caseGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id-or-number>",
		Short: "Show a case by id, request number or certificate number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := lookupCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printCase(e, c)
			})
		},
	}
}

func caseActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions <id>",
		Short: "List actions available from the current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := lookupCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				actions := e.AllowedActions(c)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"case_id": c.ID, "status": c.Status, "actions": actions})
				}
				fmt.Printf("%s [%s]: %s\n", c.RequestNo, c.Status, strings.Join(actions, ", "))
				return nil
			})
		},
	}
}

func caseChecklistCmd() *cobra.Command {
	var raw string
	cmd := &cobra.Command{
		Use:   "checklist <id>",
		Short: "Replace the document checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var checklist map[string]bool
			if err := parseJSONFlag("set", raw, &checklist); err != nil {
				return err
			}
			return runAction(cmd.Context(), args[0], func(ctx context.Context, e engine.Engine, id string) (domain.Case, error) {
				return e.UpdateChecklist(ctx, id, checklist, actorID())
			})
		},
	}
	cmd.Flags().StringVar(&raw, "set", "", `checklist as JSON, e.g. {"siteVisible":true,"boundaryMarked":false}`)
	_ = cmd.MarkFlagRequired("set")
	return cmd
}

func caseServiceabilityCmd() *cobra.Command {
	var remarks string
	cmd := &cobra.Command{
		Use:   "serviceability <id>",
		Short: "Record a serviceability check on a connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd.Context(), args[0], func(ctx context.Context, e engine.Engine, id string) (domain.Case, error) {
				return e.CheckServiceability(ctx, id, remarks, actorID())
			})
		},
	}
	cmd.Flags().StringVar(&remarks, "remarks", "", "remarks")
	return cmd
}

func caseScheduleCmd() *cobra.Command {
	var at, inspector, checklist string
	cmd := &cobra.Command{
		Use:   "schedule <id>",
		Short: "Schedule a site inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ScheduleOptions{InspectorID: inspector, ActorID: actorID()}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				opts.ScheduledAt = t
			}
			if err := parseJSONFlag("checklist", checklist, &opts.Checklist); err != nil {
				return err
			}
			return runAction(cmd.Context(), args[0], func(ctx context.Context, e engine.Engine, id string) (domain.Case, error) {
				return e.ScheduleInspection(ctx, id, opts)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "visit time (RFC3339), default now")
	cmd.Flags().StringVar(&inspector, "inspector", "", "inspector id")
	cmd.Flags().StringVar(&checklist, "checklist", "", "checklist entries to merge, as JSON")
	return cmd
}

func caseCompleteCmd() *cobra.Command {
	var result, remarks, inspector string
	var photos []string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Record the inspection result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.CompleteOptions{Photos: photos, Remarks: remarks, InspectorID: inspector, ActorID: actorID()}
			if err := parseJSONFlag("result", result, &opts.Result); err != nil {
				return err
			}
			if opts.InspectorID == "" {
				opts.InspectorID = opts.ActorID
			}
			return runAction(cmd.Context(), args[0], func(ctx context.Context, e engine.Engine, id string) (domain.Case, error) {
				return e.CompleteInspection(ctx, id, opts)
			})
		},
	}
	cmd.Flags().StringVar(&result, "result", "", `result as JSON, e.g. {"passed":true}`)
	cmd.Flags().StringVar(&remarks, "remarks", "", "remarks")
	cmd.Flags().StringVar(&inspector, "inspector", "", "inspector id, defaults to --actor-id")
	cmd.Flags().StringSliceVar(&photos, "photo", nil, "photo reference (repeatable)")
	_ = cmd.MarkFlagRequired("result")
	return cmd
}

func caseInspectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspections <id>",
		Short: "List inspections of a case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := lookupCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				items, err := e.ListInspections(ctx, c.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Scheduled", "Inspector", "Passed", "Inspected"})
				for _, in := range items {
					passed := ""
					if in.Status == domain.InspectionCompleted {
						passed = fmt.Sprint(in.Passed())
					}
					tw.AppendRow(table.Row{in.ID, in.Status, in.ScheduledAt, in.InspectedBy, passed, in.InspectedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func caseDocumentCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "document <id>",
		Short: "Write the issued PDF to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := lookupCase(ctx, e, args[0])
				if err != nil {
					return err
				}
				_, _, rc, err := e.Document(ctx, c.ID)
				if err != nil {
					return err
				}
				defer rc.Close()
				if out == "" {
					out = c.CertificateNo + ".pdf"
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				if _, err := io.Copy(f, rc); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("wrote %s (sha256 %s)\n", out, c.HashSHA256)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path, default <certificate_no>.pdf")
	return cmd
}

type caseAction func(ctx context.Context, e engine.Engine, id string) (domain.Case, error)

func runAction(ctx context.Context, ref string, fn caseAction) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		c, err := lookupCase(ctx, e, ref)
		if err != nil {
			return err
		}
		updated, err := fn(ctx, e, c.ID)
		if err != nil {
			return err
		}
		return printCase(e, updated)
	})
}

func caseSimpleCmd(use, short string, fn func(engine.Engine, context.Context, string, string) (domain.Case, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd.Context(), args[0], func(ctx context.Context, e engine.Engine, id string) (domain.Case, error) {
				return fn(e, ctx, id, actorID())
			})
		},
	}
}

func caseReasonCmd(use, short string, fn func(engine.Engine, context.Context, string, string, string) (domain.Case, error)) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAction(cmd.Context(), args[0], func(ctx context.Context, e engine.Engine, id string) (domain.Case, error) {
				return fn(e, ctx, id, reason, actorID())
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded on the case")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

// lookupCase accepts a case id or a request/certificate number.
func lookupCase(ctx context.Context, e engine.Engine, ref string) (domain.Case, error) {
	c, err := e.GetCase(ctx, ref)
	if err == nil {
		return c, nil
	}
	if byNumber, nerr := e.Repo.GetCaseByNumber(ctx, ref); nerr == nil {
		return byNumber, nil
	}
	return domain.Case{}, err
}

func printCase(e engine.Engine, c domain.Case) error {
	actions := e.AllowedActions(c)
	if viper.GetBool("json") {
		return printJSON(struct {
			domain.Case
			AllowedActions []string `json:"allowed_actions"`
		}{c, actions})
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRows([]table.Row{
		{"ID", c.ID},
		{"Type", c.CaseType},
		{"Number", c.RequestNo},
		{"Status", c.Status},
		{"Subject", c.SubjectID},
		{"Party", c.PartyID},
	})
	if c.InspectionID != "" {
		tw.AppendRow(table.Row{"Inspection", c.InspectionID})
	}
	if c.Issued() {
		tw.AppendRows([]table.Row{
			{"Certificate", c.CertificateNo},
			{"Issued", c.IssuedAt + " by " + c.IssuedBy},
			{"Document", c.PDFPath},
			{"Verify", c.QRCode},
		})
	}
	if c.RejectionReason != "" {
		tw.AppendRow(table.Row{"Rejected", c.RejectionReason})
	}
	if c.ClosureReason != "" {
		tw.AppendRow(table.Row{"Closed", c.ClosureReason})
	}
	tw.AppendRow(table.Row{"Next", strings.Join(actions, ", ")})
	tw.Render()
	return nil
}
