package account

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/zenGate-Global/palmyra-tenancy/apps/cli/cmd/cmdutil"
	"github.com/zenGate-Global/palmyra-tenancy/domains/accounts/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
)

// Command groups account registry helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Account utilities (create, provision, status)",
	}

	cmd.AddCommand(createCommand())
	cmd.AddCommand(provisionCommand())
	cmd.AddCommand(statusCommand())
	cmd.AddCommand(auditCommand())
	return cmd
}

func createCommand() *cobra.Command {
	var (
		slug         string
		displayName  string
		trialEndsAt  string
		paymentDueAt string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Register an account in PROVISIONING",
		RunE: func(cmd *cobra.Command, args []string) error {
			input := service.CreateInput{Slug: slug, DisplayName: displayName}
			var err error
			if input.TrialEndsAt, err = parseTime("trial-ends-at", trialEndsAt); err != nil {
				return err
			}
			if input.PaymentDueAt, err = parseTime("payment-due-at", paymentDueAt); err != nil {
				return err
			}

			a, err := cmdutil.Open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			acc, err := a.Accounts.Create(cmdutil.Context(cmd), input)
			if err != nil {
				return fmt.Errorf("create account: %w", err)
			}
			printAccount(cmd.OutOrStdout(), acc)
			return nil
		},
	}

	c.Flags().StringVar(&slug, "slug", "", "account slug (lowercase letters, digits and hyphens)")
	c.Flags().StringVar(&displayName, "display-name", "", "display name (defaults to the slug)")
	c.Flags().StringVar(&trialEndsAt, "trial-ends-at", "", "RFC 3339 end of the free trial; provisioning then yields FREE_TRIAL")
	c.Flags().StringVar(&paymentDueAt, "payment-due-at", "", "RFC 3339 payment due date")
	_ = c.MarkFlagRequired("slug")

	return c
}

func provisionCommand() *cobra.Command {
	var owner service.Owner

	c := &cobra.Command{
		Use:   "provision <account-id>",
		Short: "Create the tenant schema, storage prefix and owner user, then enable the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid account id: %w", err)
			}
			input := service.ProvisionInput{}
			if owner.Email != "" {
				input.Owner = &owner
			}

			a, err := cmdutil.Open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Accounts.Provision(cmdutil.Context(cmd), id, input)
			if err != nil {
				return fmt.Errorf("provision account: %w", err)
			}
			out := cmd.OutOrStdout()
			printAccount(out, res.Account)
			if len(res.AppliedMigrations) > 0 {
				fmt.Fprintf(out, "Applied migrations: %s\n", strings.Join(res.AppliedMigrations, ", "))
			}
			if res.Owner != nil {
				fmt.Fprintf(out, "Owner user: %s\n", res.Owner.UserID)
			}
			return nil
		},
	}

	c.Flags().StringVar(&owner.Email, "owner-email", "", "email of the first tenant admin (skipped when empty)")
	c.Flags().StringVar(&owner.Username, "owner-username", "", "username of the owner (defaults to the email)")
	c.Flags().StringVar(&owner.FullName, "owner-full-name", "", "full name of the owner")
	c.Flags().StringVar(&owner.Password, "owner-password", "", "initial password of the owner")

	return c
}

func statusCommand() *cobra.Command {
	var (
		target string
		reason string
	)

	c := &cobra.Command{
		Use:   "status <account-id>",
		Short: "Show an account, or change its status with --set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid account id: %w", err)
			}

			a, err := cmdutil.Open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmdutil.Context(cmd)
			out := cmd.OutOrStdout()

			if target == "" {
				acc, err := a.Accounts.Get(ctx, id)
				if err != nil {
					return fmt.Errorf("get account: %w", err)
				}
				printAccount(out, acc)
				return nil
			}

			status, err := service.ParseStatus(strings.ToUpper(strings.TrimSpace(target)))
			if err != nil {
				return err
			}
			input := service.ChangeStatusInput{Status: status}
			if reason != "" {
				input.Reason = &reason
			}
			res, err := a.Accounts.ChangeStatus(ctx, id, input)
			if err != nil {
				return fmt.Errorf("change status: %w", err)
			}
			fmt.Fprintf(out, "%s: %s -> %s (action %s, users updated: %t, count: %d)\n",
				res.Account.Slug, res.PreviousStatus, res.Account.Status,
				res.SideEffects.Action.APIAction(), res.SideEffects.TenantUsersUpdated, res.SideEffects.TenantUsersCount)
			if res.Account.PendingCascade != "" {
				fmt.Fprintln(out, "Cascade is pending; run `tenancy cascade reconcile` to retry.")
			}
			return nil
		},
	}

	c.Flags().StringVar(&target, "set", "", "new status (ACTIVE, FREE_TRIAL, SUSPENDED, CANCELLED)")
	c.Flags().StringVar(&reason, "reason", "", "reason recorded with the status change")

	return c
}

func auditCommand() *cobra.Command {
	var limit int

	c := &cobra.Command{
		Use:   "audit <account-id>",
		Short: "List the latest audit events recorded for an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid account id: %w", err)
			}

			a, err := cmdutil.Open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.Audit.ListByAccount(cmdutil.Context(cmd), id, limit)
			if err != nil {
				return fmt.Errorf("list audit events: %w", err)
			}
			printAuditEvents(cmd.OutOrStdout(), events)
			return nil
		},
	}

	c.Flags().IntVar(&limit, "limit", 20, "maximum events to show")
	return c
}

func printAuditEvents(w io.Writer, events []persistence.AuditEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No audit events.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OCCURRED AT\tACTION\tACTOR\tTARGET\tCOMMITTED")
	for _, ev := range events {
		target := "-"
		if ev.Target != nil {
			target = *ev.Target
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", ev.OccurredAt.Format(time.RFC3339), ev.Action, ev.Actor, target, ev.Committed)
	}
	_ = tw.Flush()
}

func parseTime(flag, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return &t, nil
}

func printAccount(w io.Writer, acc service.Account) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", acc.ID)
	fmt.Fprintf(tw, "Slug\t%s\n", acc.Slug)
	fmt.Fprintf(tw, "Display name\t%s\n", acc.DisplayName)
	fmt.Fprintf(tw, "Status\t%s\n", acc.Status)
	fmt.Fprintf(tw, "Schema\t%s\n", acc.SchemaName)
	fmt.Fprintf(tw, "Base prefix\t%s\n", acc.BasePrefix)
	fmt.Fprintf(tw, "DB ready\t%t\n", acc.Provisioning.DBReady)
	fmt.Fprintf(tw, "Storage ready\t%t\n", acc.Provisioning.StorageReady)
	if acc.Provisioning.LastError != nil {
		fmt.Fprintf(tw, "Last error\t%s\n", *acc.Provisioning.LastError)
	}
	if acc.PendingCascade != "" {
		fmt.Fprintf(tw, "Pending cascade\t%s\n", acc.PendingCascade)
	}
	_ = tw.Flush()
}
