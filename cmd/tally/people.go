package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mmynk/tally/internal/ledger"
	"github.com/mmynk/tally/internal/models"
)

func (a *app) personCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "person",
		Short: "Manage the people you share costs with",
	}
	cmd.AddCommand(a.addPersonCmd())
	cmd.AddCommand(a.listPeopleCmd())
	cmd.AddCommand(a.deletePersonCmd())
	return cmd
}

func (a *app) addPersonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add NAME",
		Short: "Add a person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Store) error {
				created, err := l.Create(ctx, models.Person{Name: args[0]})
				if err != nil {
					return fmt.Errorf("failed to add person: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), created.EntityID())
				return nil
			})
		},
	}
}

func (a *app) listPeopleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List people and their balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withLedger(cmd, func(_ context.Context, l *ledger.Store) error {
				people := l.Query(models.KindPerson, nil)
				if len(people) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No people yet. Use 'tally person add' to create one.")
					return nil
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tBALANCE")
				for _, e := range people {
					p := e.(models.Person)
					fmt.Fprintf(w, "%s\t%s\t%s\n", p.ID, p.Name, p.Balance)
				}
				return w.Flush()
			})
		},
	}
}

func (a *app) deletePersonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a person who is no longer referenced",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, func(ctx context.Context, l *ledger.Store) error {
				if err := l.Delete(ctx, models.KindPerson, args[0]); err != nil {
					return fmt.Errorf("failed to delete person: %w", err)
				}
				return nil
			})
		},
	}
}

func (a *app) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance PERSON_ID",
		Short: "Show what a person owes or is owed",
		Long:  `Positive balances are owed to the person; negative balances are owed by them.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withLedger(cmd, func(_ context.Context, l *ledger.Store) error {
				balance, err := l.PersonBalance(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), balance)
				return nil
			})
		},
	}
}
