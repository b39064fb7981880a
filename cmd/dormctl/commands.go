package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/warp/dorm-engine/app"
	"github.com/warp/dorm-engine/billing"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/report"
)

// =============================================================================
// MIGRATE
// =============================================================================

func migrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App, _ dorm.Actor) error {
				if a.Migrate == nil {
					return fmt.Errorf("the configured store has no schema")
				}
				if err := a.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

// =============================================================================
// BILLS
// =============================================================================

func billsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bills",
		Short: "Monthly billing",
	}
	cmd.AddCommand(billsGenerateCmd(g), billsOverdueCmd(g))
	return cmd
}

func billsGenerateCmd(g *globals) *cobra.Command {
	var (
		month    string
		due      string
		readings map[string]string
		xlsxPath string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Bill every occupied room for a month",
		Example: "  dormctl bills generate --month 2024-06 --due 2024-07-05 \\\n" +
			"    --reading 101=1250 --reading 102=980.5 --xlsx june.xlsx",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := dorm.ParseMonth(month)
			if err != nil {
				return err
			}
			d, err := dorm.ParseDate(due)
			if err != nil {
				return err
			}
			return g.run(cmd, func(ctx context.Context, a *app.App, actor dorm.Actor) error {
				byRoom, err := readingsByRoomID(ctx, a, readings)
				if err != nil {
					return err
				}
				rep, err := a.Billing.GenerateMonthlyBills(ctx, actor, billing.BatchRequest{
					Month: m, DueDate: d, Readings: byRoom,
				})
				if err != nil {
					return err
				}
				printBatch(cmd, rep)
				if xlsxPath != "" {
					data, err := report.BatchWorkbook(rep)
					if err != nil {
						return err
					}
					if err := os.WriteFile(xlsxPath, data, 0o644); err != nil {
						return fmt.Errorf("write %s: %w", xlsxPath, err)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "billing month YYYY-MM")
	cmd.Flags().StringVar(&due, "due", "", "due date YYYY-MM-DD")
	cmd.Flags().StringToStringVar(&readings, "reading", nil, "meter reading as ROOM_NUMBER=VALUE (repeatable)")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "also write the batch outcome to this xlsx file")
	cmd.MarkFlagRequired("month")
	cmd.MarkFlagRequired("due")
	return cmd
}

// readingsByRoomID turns room-number keyed readings into the room-id keyed
// map the engine expects. Unknown room numbers are passed through so the
// batch reports them as RoomNotFound.
func readingsByRoomID(ctx context.Context, a *app.App, in map[string]string) (map[string]decimal.Decimal, error) {
	rooms, err := a.Occupancy.ListRoomSummaries(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(rooms))
	for _, s := range rooms {
		ids[s.Room.RoomNumber] = s.Room.ID
	}
	out := make(map[string]decimal.Decimal, len(in))
	for number, raw := range in {
		v, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return nil, dorm.Invalid("reading", "room %s: %q is not a number", number, raw)
		}
		id, ok := ids[number]
		if !ok {
			id = number
		}
		out[id] = v
	}
	return out, nil
}

func printBatch(cmd *cobra.Command, rep *billing.BatchReport) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tOUTCOME\tRECEIPT\tTOTAL")
	for _, res := range rep.Results {
		room := res.RoomNumber
		if room == "" {
			room = res.RoomID
		}
		receipt, total := "-", "-"
		if res.Bill != nil {
			receipt, total = res.Bill.ReceiptNumber, res.Bill.Sum.StringFixed(2)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", room, res.Outcome, receipt, total)
	}
	w.Flush()
	fmt.Fprintln(cmd.OutOrStdout(), rep.Summary())
}

func billsOverdueCmd(g *globals) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "overdue",
		Short: "Mark pending bills past their due date as overdue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App, actor dorm.Actor) error {
				day := dorm.Today(a.Clock)
				if asOf != "" {
					d, err := dorm.ParseDate(asOf)
					if err != nil {
						return err
					}
					day = d
				}
				n, err := a.Billing.MarkOverdue(ctx, actor, day)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d bills marked overdue as of %s\n", n, dorm.FormatDate(day))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "reference date YYYY-MM-DD (default today)")
	return cmd
}

// =============================================================================
// PRICES
// =============================================================================

func pricesCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prices",
		Short: "Room price synchronization",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "List rooms whose price differs from the system rent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App, _ dorm.Actor) error {
				status, err := a.Pricing.CheckSync(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if status.IsSynced {
					fmt.Fprintf(out, "all %d rooms at %s\n", status.TotalRooms, status.SystemRate.StringFixed(2))
					return nil
				}
				fmt.Fprintf(out, "%d of %d rooms differ from %s\n",
					len(status.MismatchedRooms), status.TotalRooms, status.SystemRate.StringFixed(2))
				for _, m := range status.MismatchedRooms {
					fmt.Fprintf(out, "  %s\t%s\n", m.RoomNumber, m.Price.StringFixed(2))
				}
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "sync",
		Short: "Overwrite every mismatching room price with the system rent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App, actor dorm.Actor) error {
				res, err := a.Pricing.SyncAll(ctx, actor)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d rooms updated to %s\n", res.UpdatedCount, res.NewPrice.StringFixed(2))
				return nil
			})
		},
	})
	return cmd
}

// =============================================================================
// SETTINGS
// =============================================================================

func settingsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "System rates",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored settings as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App, _ dorm.Actor) error {
				s, err := a.Settings.Current(ctx)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			})
		},
	}, &cobra.Command{
		Use:   "validate",
		Short: "Check the stored settings; exits non-zero when invalid",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App, _ dorm.Actor) error {
				v := a.Settings.Validate(ctx)
				out := cmd.OutOrStdout()
				if v.IsValid {
					fmt.Fprintln(out, "settings valid")
					return nil
				}
				for i, issue := range v.Issues {
					fmt.Fprintf(out, "- %s\n", issue)
					if i < len(v.Recommendations) {
						fmt.Fprintf(out, "  fix: %s\n", v.Recommendations[i])
					}
				}
				return fmt.Errorf("%d settings issues", len(v.Issues))
			})
		},
	})
	return cmd
}

// =============================================================================
// AUDIT
// =============================================================================

func auditCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Report occupancy inconsistencies; exits non-zero when any are found",
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.run(cmd, func(ctx context.Context, a *app.App, _ dorm.Actor) error {
				violations, err := a.Occupancy.Audit(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(violations) == 0 {
					fmt.Fprintln(out, "no violations")
					return nil
				}
				counts := map[string]int{}
				for _, v := range violations {
					counts[string(v.Rule)]++
					fmt.Fprintf(out, "%s\t%s\n", v.Rule, v.Detail)
				}
				rules := make([]string, 0, len(counts))
				for r := range counts {
					rules = append(rules, r)
				}
				sort.Strings(rules)
				return fmt.Errorf("%d violations (%s)", len(violations), strings.Join(rules, ", "))
			})
		},
	}
}
