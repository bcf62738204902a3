package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mmynk/tally/internal/ledger"
	"github.com/mmynk/tally/internal/models"
)

func (a *app) groupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage expense groups",
	}
	cmd.AddCommand(a.addGroupCmd())
	cmd.AddCommand(a.listGroupsCmd())
	cmd.AddCommand(a.deleteGroupCmd())
	return cmd
}

func (a *app) addGroupCmd() *cobra.Command {
	var members []string
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Store) error {
				created, err := l.Create(ctx, models.Group{Name: args[0], Members: members})
				if err != nil {
					return fmt.Errorf("failed to create group: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), created.EntityID())
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&members, "members", nil, "comma-separated person IDs")
	return cmd
}

func (a *app) listGroupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List groups with their expense totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLedger(cmd, func(_ context.Context, l *ledger.Store) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tMEMBERS\tEXPENSES\tTOTAL")
				for _, e := range l.Query(models.KindGroup, nil) {
					g := e.(models.Group)
					gb, err := l.GroupBalance(g.ID)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", g.ID, g.Name, len(g.Members), gb.Expenses, gb.Total)
				}
				return w.Flush()
			})
		},
	}
}

func (a *app) deleteGroupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a group and all of its expenses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Store) error {
				return l.Delete(ctx, models.KindGroup, args[0])
			})
		},
	}
}

func (a *app) expenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expense",
		Short: "Record group expenses",
	}
	cmd.AddCommand(a.addExpenseCmd())
	return cmd
}

func (a *app) addExpenseCmd() *cobra.Command {
	var (
		paidBy       string
		policy       string
		participants []string
		shares       map[string]string
		date         string
	)
	cmd := &cobra.Command{
		Use:   "add GROUP_ID DESCRIPTION AMOUNT",
		Short: "Add an expense paid by one member",
		Long: `Add an expense to a group.

With --split equal (the default) the amount is divided evenly between
--participants, and leftover cents go to the payer. With --split percent or
--split custom, pass one --share PERSON_ID=VALUE per participant, where VALUE
is a percentage or an amount.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, err := models.ParseMoney(args[2])
			if err != nil {
				return err
			}
			expense := models.GroupExpense{
				GroupID:     args[0],
				Description: args[1],
				Total:       total,
				PaidBy:      paidBy,
				Policy:      models.SplitPolicy(policy),
			}
			if expense.Splits, err = parseShares(expense.Policy, participants, shares); err != nil {
				return err
			}
			if date != "" {
				if expense.Date, err = time.Parse(time.DateOnly, date); err != nil {
					return fmt.Errorf("invalid date %q: %w", date, err)
				}
			}

			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Store) error {
				created, err := l.Create(ctx, expense)
				if err != nil {
					return fmt.Errorf("failed to add expense: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), created.EntityID())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&paidBy, "paid-by", "", "person ID of the payer")
	cmd.Flags().StringVar(&policy, "split", string(models.SplitEqual), "split policy (equal, percent, custom)")
	cmd.Flags().StringSliceVar(&participants, "participants", nil, "person IDs sharing an equal split")
	cmd.Flags().StringToStringVar(&shares, "share", nil, "PERSON_ID=VALUE for percent and custom splits")
	cmd.Flags().StringVar(&date, "date", "", "expense date (YYYY-MM-DD, default: today)")
	_ = cmd.MarkFlagRequired("paid-by")
	return cmd
}

// parseShares builds the requested shares. Custom and percent shares are
// ordered by person ID so the result does not depend on flag order.
func parseShares(policy models.SplitPolicy, participants []string, values map[string]string) ([]models.Share, error) {
	switch policy {
	case models.SplitEqual:
		if len(values) > 0 {
			return nil, fmt.Errorf("--share is not used with an equal split")
		}
		shares := make([]models.Share, len(participants))
		for i, id := range participants {
			shares[i] = models.Share{PersonID: strings.TrimSpace(id)}
		}
		return shares, nil
	case models.SplitPercent, models.SplitCustom:
		if len(participants) > 0 {
			return nil, fmt.Errorf("--participants is only used with an equal split")
		}
		ids := make([]string, 0, len(values))
		for id := range values {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		shares := make([]models.Share, 0, len(ids))
		for _, id := range ids {
			share := models.Share{PersonID: id}
			if policy == models.SplitPercent {
				pct, err := decimal.NewFromString(values[id])
				if err != nil {
					return nil, fmt.Errorf("invalid percentage for %s: %w", id, err)
				}
				share.Percent = &pct
			} else {
				amount, err := models.ParseMoney(values[id])
				if err != nil {
					return nil, fmt.Errorf("invalid share for %s: %w", id, err)
				}
				share.Amount = amount
			}
			shares = append(shares, share)
		}
		return shares, nil
	default:
		return nil, fmt.Errorf("unknown split policy %q", policy)
	}
}

func (a *app) settleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settle GROUP_ID",
		Short: "Show member balances and the payments that settle a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, func(_ context.Context, l *ledger.Store) error {
				gb, err := l.GroupBalance(args[0])
				if err != nil {
					return err
				}
				debts, err := l.SettleUp(args[0])
				if err != nil {
					return err
				}
				names := personNames(l)

				out := cmd.OutOrStdout()
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "MEMBER\tPAID\tSHARE\tNET")
				for _, m := range gb.Members {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", names(m.PersonID), m.TotalPaid, m.TotalOwed, m.NetBalance)
				}
				if err := w.Flush(); err != nil {
					return err
				}
				if len(debts) == 0 {
					fmt.Fprintln(out, "Everyone is settled up.")
					return nil
				}
				fmt.Fprintln(out)
				for _, d := range debts {
					fmt.Fprintf(out, "%s pays %s %s\n", names(d.From), names(d.To), d.Amount)
				}
				return nil
			})
		},
	}
}

// personNames returns a lookup from person ID to display name that falls
// back to the ID.
func personNames(l *ledger.Store) func(string) string {
	names := make(map[string]string)
	for _, e := range l.Query(models.KindPerson, nil) {
		p := e.(models.Person)
		names[p.ID] = p.Name
	}
	return func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}
}
