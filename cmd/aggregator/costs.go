package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lvonguyen/cloudspend/internal/aggregator"
	"github.com/lvonguyen/cloudspend/internal/reporter"
)

var (
	costsReq      aggregator.Request
	summaryTenant string
	reportFmt     string
	saveReport    bool
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "Sum costs per group for one tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		format, err := reporter.ParseFormat(pick(reportFmt, a.cfg.Reporter.Format))
		if err != nil {
			return err
		}

		results, err := a.engine.GroupCosts(cmd.Context(), costsReq)
		if err != nil {
			return err
		}

		data := reporter.GroupReport{
			Title:       fmt.Sprintf("Costs by %s", costsReq.GroupBy),
			GroupBy:     costsReq.GroupBy,
			Results:     results,
			GeneratedAt: time.Now(),
		}
		if saveReport {
			path, err := a.reporter.SaveGroups(format, data)
			if err != nil {
				return err
			}
			fmt.Println("Report written to", path)
			return nil
		}
		return a.reporter.WriteGroups(os.Stdout, format, data)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the dashboard summary for one tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		tenantID, err := uuid.Parse(summaryTenant)
		if err != nil {
			return fmt.Errorf("--tenant must be a UUID: %w", err)
		}

		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		format, err := reporter.ParseFormat(pick(reportFmt, a.cfg.Reporter.Format))
		if err != nil {
			return err
		}

		summary, err := a.engine.Summary(cmd.Context(), tenantID)
		if err != nil {
			return err
		}

		data := reporter.SummaryReport{TenantID: tenantID.String(), Summary: summary, GeneratedAt: time.Now()}
		if saveReport {
			path, err := a.reporter.SaveSummary(format, data)
			if err != nil {
				return err
			}
			fmt.Println("Report written to", path)
			return nil
		}
		return a.reporter.WriteSummary(os.Stdout, format, data)
	},
}

func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}

func init() {
	f := costsCmd.Flags()
	f.StringVar(&costsReq.TenantID, "tenant", "", "tenant id (required)")
	f.StringVar(&costsReq.GroupBy, "group-by", "service", "grouping column: service, provider, environment, product_family, usage_type, resource_id, account_ref")
	f.StringVar(&costsReq.Provider, "provider", "", "only this provider (aws, gcp, azure)")
	f.StringVar(&costsReq.AccountID, "account", "", "only this account")
	f.StringVar(&costsReq.StartDate, "start", "", "first day, YYYY-MM-DD")
	f.StringVar(&costsReq.EndDate, "end", "", "last day, YYYY-MM-DD")
	f.StringVar(&costsReq.Order, "order", "", "group (default) or cost_desc")
	f.IntVar(&costsReq.Limit, "limit", 0, "keep only the first N groups")
	_ = costsCmd.MarkFlagRequired("tenant")

	summaryCmd.Flags().StringVar(&summaryTenant, "tenant", "", "tenant id (required)")
	_ = summaryCmd.MarkFlagRequired("tenant")

	for _, c := range []*cobra.Command{costsCmd, summaryCmd} {
		c.Flags().StringVarP(&reportFmt, "format", "f", "", "output format: table, csv, json, html")
		c.Flags().BoolVar(&saveReport, "save", false, "write the report to the configured output directory")
	}
}
