package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmynk/tally/internal/ledger"
	"github.com/mmynk/tally/internal/models"
)

func (a *app) subscriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscription",
		Aliases: []string{"sub"},
		Short:   "Manage recurring subscriptions",
	}
	cmd.AddCommand(a.addSubscriptionCmd())
	cmd.AddCommand(a.listSubscriptionsCmd())
	cmd.AddCommand(a.repriceCmd())
	cmd.AddCommand(a.shareSubscriptionCmd())
	cmd.AddCommand(a.deleteSubscriptionCmd())

	cmd.AddCommand(a.lifecycleCmd("convert", "End a free trial and start billing", (*ledger.Store).ConvertTrial))
	cmd.AddCommand(a.lifecycleCmd("pause", "Pause billing", (*ledger.Store).Pause))
	cmd.AddCommand(a.lifecycleCmd("resume", "Resume a paused subscription", (*ledger.Store).Resume))
	cmd.AddCommand(a.lifecycleCmd("cancel", "Cancel a subscription for good", (*ledger.Store).Cancel))
	cmd.AddCommand(a.lifecycleCmd("use", "Record one use of a subscription", (*ledger.Store).RecordUsage))
	return cmd
}

func (a *app) addSubscriptionCmd() *cobra.Command {
	var (
		cycle     string
		category  string
		start     string
		trialDays int
		notes     string
		website   string
	)
	cmd := &cobra.Command{
		Use:   "add NAME PRICE",
		Short: "Add a subscription",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := models.ParseMoney(args[1])
			if err != nil {
				return err
			}
			c, err := models.ParseCycle(cycle)
			if err != nil {
				return err
			}
			cat, err := models.ParseCategory(category)
			if err != nil {
				return err
			}
			sub := models.Subscription{
				Name:     args[0],
				Price:    price,
				Cycle:    c,
				Category: cat,
				Notes:    notes,
				Website:  website,
			}
			if start != "" {
				if sub.LastBillingDate, err = time.Parse(time.DateOnly, start); err != nil {
					return fmt.Errorf("invalid start date %q: %w", start, err)
				}
			}

			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Store) error {
				if trialDays > 0 {
					anchor := sub.LastBillingDate
					if anchor.IsZero() {
						anchor = a.now()
						sub.LastBillingDate = anchor
					}
					sub.State = models.StateTrial
					sub.Trial = &models.Trial{EndDate: models.TimePtr(anchor.AddDate(0, 0, trialDays))}
				}
				created, err := l.Create(ctx, sub)
				if err != nil {
					return fmt.Errorf("failed to add subscription: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), created.EntityID())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cycle, "cycle", string(models.CycleMonthly), "billing cycle (daily, weekly, biweekly, monthly, quarterly, semiAnnual, yearly, lifetime)")
	cmd.Flags().StringVar(&category, "category", "", "category (default: other)")
	cmd.Flags().StringVar(&start, "start", "", "first billing date (YYYY-MM-DD, default: today)")
	cmd.Flags().IntVar(&trialDays, "trial-days", 0, "length of a free trial before billing starts")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	cmd.Flags().StringVar(&website, "website", "", "provider website")
	return cmd
}

func (a *app) now() time.Time {
	if a.clock != nil {
		return a.clock().UTC()
	}
	return time.Now().UTC()
}

func (a *app) listSubscriptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLedger(cmd, func(_ context.Context, l *ledger.Store) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tPRICE\tCYCLE\tSTATE\tCATEGORY\tNEXT")
				for _, e := range l.Query(models.KindSubscription, nil) {
					sub := e.(models.Subscription)
					next := "-"
					if sub.NextBillingDate != nil {
						next = sub.NextBillingDate.Format(time.DateOnly)
					}
					price := sub.Price.String()
					if inc, ok := l.RecentPriceIncrease(sub.ID); ok {
						price += fmt.Sprintf(" (+%s)", inc.Delta())
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						sub.ID, sub.Name, price, sub.Cycle, sub.State, sub.Category.Display().Label, next)
				}
				return w.Flush()
			})
		},
	}
}

func (a *app) repriceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "price ID PRICE",
		Short: "Change a subscription's price",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := models.ParseMoney(args[1])
			if err != nil {
				return err
			}
			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Store) error {
				sub, err := l.Subscription(args[0])
				if err != nil {
					return err
				}
				sub.Price = price
				return l.Update(ctx, sub)
			})
		},
	}
}

func (a *app) shareSubscriptionCmd() *cobra.Command {
	var (
		owner   string
		members []string
	)
	cmd := &cobra.Command{
		Use:   "share ID",
		Short: "Split a subscription's price evenly with other people",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shares := []models.Share{{PersonID: owner}}
			for _, m := range members {
				if m != owner {
					shares = append(shares, models.Share{PersonID: m})
				}
			}
			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Store) error {
				created, err := l.Create(ctx, models.SharedSubscription{
					SubscriptionID: args[0],
					OwnerID:        owner,
					Policy:         models.SplitEqual,
					Members:        shares,
				})
				if err != nil {
					return fmt.Errorf("failed to share subscription: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), created.EntityID())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "person ID of the member who pays the provider")
	cmd.Flags().StringSliceVar(&members, "members", nil, "person IDs of the other members")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func (a *app) deleteSubscriptionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a subscription with its sharing and price history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Store) error {
				return l.Delete(ctx, models.KindSubscription, args[0])
			})
		},
	}
}

func (a *app) lifecycleCmd(use, short string, op func(*ledger.Store, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Store) error {
				return op(l, ctx, args[0])
			})
		},
	}
}

func (a *app) renewalsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "renewals",
		Short: "List charges due soon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("days") {
				days = a.cfg.RenewalWindowDays
			}
			return a.withLedger(cmd, func(_ context.Context, l *ledger.Store) error {
				renewals := l.UpcomingRenewals(days)
				if len(renewals) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No renewals in the next %d days.\n", days)
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DATE\tIN\tNAME\tPRICE")
				for _, r := range renewals {
					fmt.Fprintf(w, "%s\t%dd\t%s\t%s\n",
						r.Date.Format(time.DateOnly), r.DaysUntil, r.Subscription.Name, r.Subscription.Price)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "look-ahead window in days (default from renewal_window_days)")
	return cmd
}

func (a *app) monthlyTotalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monthly-total",
		Short: "Show the monthly cost of billing subscriptions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLedger(cmd, func(_ context.Context, l *ledger.Store) error {
				fmt.Fprintln(cmd.OutOrStdout(), l.MonthlyTotal())
				return nil
			})
		},
	}
}

func (a *app) pricesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prices SUBSCRIPTION_ID",
		Short: "Show a subscription's price history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, func(_ context.Context, l *ledger.Store) error {
				history, err := l.PriceHistory(args[0])
				if err != nil {
					return err
				}
				if len(history) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No price changes recorded.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "DATE\tFROM\tTO\tCHANGE")
				for _, pc := range history {
					change := pc.Delta().String()
					if pc.IsIncrease {
						change = "+" + change
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
						pc.ChangeDate.Format(time.DateOnly), pc.PreviousPrice, pc.NewPrice, change)
				}
				return w.Flush()
			})
		},
	}
}

func (a *app) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Convert elapsed trials and bring billing dates up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Store) error {
				changed, err := l.RefreshBilling(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d subscriptions updated\n", len(changed))
				return nil
			})
		},
	}
}
