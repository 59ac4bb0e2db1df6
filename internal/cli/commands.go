package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/liamcoop/automations/automation"
	"github.com/liamcoop/automations/compiler"
	"github.com/liamcoop/automations/rules"
)

// NewAddCommand creates the add command.
func NewAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <sentence...>",
		Short: "Create an automation from a sentence",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withManager(opts, func(m *automation.Manager) error {
				rule, err := m.CompileFromText(text)
				if errors.Is(err, compiler.ErrUnparseable) {
					return fmt.Errorf("could not understand %q: try a schedule (\"every day at 8am\"), a message filter (\"when I get an email about invoices\") or a deadline (\"if a deadline is within 3 days\")", text)
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "✅ Created automation %s\n", rule.ID)
				fmt.Fprintf(out, "   %s\n", rule.Name)
				fmt.Fprintf(out, "   Trigger: %s | Action: %s\n", rule.TriggerType, rule.ActionType)
				return nil
			})
		},
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	JSON bool
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List automations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts.RootOptions, func(m *automation.Manager) error {
				out := cmd.OutOrStdout()
				if !opts.JSON {
					_, err := fmt.Fprintln(out, m.FormatList())
					return err
				}

				records := make([]*rules.Record, 0)
				for _, rule := range m.List() {
					rec, err := rules.NewRecord(rule)
					if err != nil {
						return err
					}
					records = append(records, rec)
				}
				return writeJSON(out, records)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the stored records as JSON")
	return cmd
}

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one automation's record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(m *automation.Manager) error {
				rule, err := m.Get(args[0])
				if errors.Is(err, rules.ErrRuleNotFound) {
					return errNotFound(args[0])
				}
				if err != nil {
					return err
				}
				data, err := rules.MarshalRule(rule)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			})
		},
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an automation",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(m *automation.Manager) error {
				if !m.Delete(args[0]) {
					return errNotFound(args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "🗑️ Deleted automation %s\n", args[0])
				return nil
			})
		},
	}
}

// NewToggleCommand creates the toggle command.
func NewToggleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Pause or resume an automation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts, func(m *automation.Manager) error {
				enabled, ok := m.Toggle(args[0])
				if !ok {
					return errNotFound(args[0])
				}
				state := "⏸️ paused"
				if enabled {
					state = "✅ enabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Automation %s is now %s\n", args[0], state)
				return nil
			})
		},
	}
}

// TickOptions holds flags for the tick command.
type TickOptions struct {
	*RootOptions
	At string
}

// NewTickCommand creates the tick command.
func NewTickCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TickOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one evaluation pass of the schedule and condition automations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(opts.RootOptions, func(m *automation.Manager) error {
				at := m.Now()
				if opts.At != "" {
					parsed, err := rules.ParseTimestamp(opts.At, m.Location())
					if err != nil {
						return fmt.Errorf("invalid --at %q: %w", opts.At, err)
					}
					at = parsed
				}

				out := cmd.OutOrStdout()
				firings := m.RunDue(cmd.Context(), at, printResult(out))
				if len(firings) == 0 {
					fmt.Fprintf(out, "No automations due at %s\n", at.In(m.Location()).Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.At, "at", "", "evaluate at this time instead of now (RFC 3339 or YYYY-MM-DDTHH:MM)")
	return cmd
}

// MessageOptions holds flags for the message command.
type MessageOptions struct {
	*RootOptions
	From string
}

// NewMessageCommand creates the message command.
func NewMessageCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MessageOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "message <text...>",
		Short: "Check an inbound message against the keyword automations",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return withManager(opts.RootOptions, func(m *automation.Manager) error {
				out := cmd.OutOrStdout()
				firings := m.HandleMessage(cmd.Context(), text, opts.From, printResult(out))
				if len(firings) == 0 {
					fmt.Fprintln(out, "No automations matched")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "sender of the message")
	return cmd
}

// printResult delivers executed results to the command output
func printResult(out io.Writer) automation.DeliverFunc {
	return func(_ context.Context, rule *rules.Rule, result string) error {
		_, err := fmt.Fprintf(out, "▶ %s: %s\n", rule.ID, result)
		return err
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
