package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/asa/internal/store"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage auto-response rules",
	}
	cmd.AddCommand(rulesListCmd())
	cmd.AddCommand(rulesAddCmd())
	cmd.AddCommand(rulesDeleteCmd())
	return cmd
}

func rulesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			stores, err := loadStores()
			if err != nil {
				return err
			}
			defer stores.Close()

			rules, err := stores.Rules.List(context.Background())
			if err != nil {
				return fmt.Errorf("list rules: %w", err)
			}
			if len(rules) == 0 {
				fmt.Println("No rules.")
				return nil
			}
			for _, r := range rules {
				fmt.Print(formatRule(r))
			}
			return nil
		},
	}
}

func formatRule(r store.AutoResponseRule) string {
	var b strings.Builder
	state := "active"
	if !r.Active {
		state = "inactive"
	}
	fmt.Fprintf(&b, "%s  %s (%s, %s, %s)\n", r.ID, r.Name, r.TriggerType, r.Presentation, state)
	if r.PauseAI {
		fmt.Fprintf(&b, "    %-10s yes\n", "Pause AI:")
	}
	switch r.Presentation {
	case store.PresentationMultipleChoice:
		fmt.Fprintf(&b, "    %-10s %s\n", "Question:", r.MainQuestion)
		for i, o := range r.Options() {
			fmt.Fprintf(&b, "    %-10s %s\n", fmt.Sprintf("%c)", 'A'+i), o)
		}
	default:
		fmt.Fprintf(&b, "    %-10s %s\n", "Reply:", r.ResponseText)
	}
	return b.String()
}

func rulesAddCmd() *cobra.Command {
	var (
		rule    store.AutoResponseRule
		trigger string
		options []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a rule (interactive unless --name is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			rule.TriggerType = store.TriggerType(trigger)
			if rule.Name == "" {
				if err := ruleForm(&rule).Run(); err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return nil
					}
					return err
				}
			} else if len(options) > 0 {
				rule.Presentation = store.PresentationMultipleChoice
				setOptions(&rule, options)
			}
			rule.Active = true
			if err := rule.Validate(); err != nil {
				return err
			}

			stores, err := loadStores()
			if err != nil {
				return err
			}
			defer stores.Close()

			if err := stores.Rules.Create(context.Background(), &rule); err != nil {
				return fmt.Errorf("create rule: %w", err)
			}
			fmt.Printf("Rule %q created (%s)\n", rule.Name, rule.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&rule.Name, "name", "", "rule name")
	cmd.Flags().StringVar(&trigger, "trigger", string(store.TriggerFirstMessage), "first_message or follow_up")
	cmd.Flags().StringVar(&rule.ResponseText, "text", "", "reply text for simple rules")
	cmd.Flags().StringVar(&rule.MainQuestion, "question", "", "question for multiple choice rules")
	cmd.Flags().StringSliceVar(&options, "option", nil, "choice for multiple choice rules (repeat up to 4 times)")
	cmd.Flags().BoolVar(&rule.PauseAI, "pause-ai", false, "pause the AI after this rule replies")
	return cmd
}

// ruleForm asks for the rule fields in two steps; the second group depends
// on the chosen presentation.
func ruleForm(r *store.AutoResponseRule) *huh.Form {
	if r.TriggerType == "" {
		r.TriggerType = store.TriggerFirstMessage
	}
	r.Presentation = store.PresentationSimple

	required := func(field string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s is required", field)
			}
			return nil
		}
	}
	isSimple := func() bool { return r.Presentation == store.PresentationSimple }

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Rule name").
				Value(&r.Name).
				Validate(required("name")),
			huh.NewSelect[store.TriggerType]().
				Title("When should it answer?").
				Options(
					huh.NewOption("First message of a new contact", store.TriggerFirstMessage),
					huh.NewOption("Any later message", store.TriggerFollowUp),
				).
				Value(&r.TriggerType),
			huh.NewSelect[store.Presentation]().
				Title("Reply format").
				Options(
					huh.NewOption("Simple text", store.PresentationSimple),
					huh.NewOption("Multiple choice", store.PresentationMultipleChoice),
				).
				Value(&r.Presentation),
			huh.NewConfirm().
				Title("Pause the AI after replying?").
				Value(&r.PauseAI),
		),
		huh.NewGroup(
			huh.NewText().
				Title("Reply text").
				Value(&r.ResponseText).
				Validate(required("reply text")),
		).WithHideFunc(func() bool { return !isSimple() }),
		huh.NewGroup(
			huh.NewInput().Title("Question").Value(&r.MainQuestion).Validate(required("question")),
			huh.NewInput().Title("Option A").Value(&r.OptionA).Validate(required("option A")),
			huh.NewInput().Title("Option B").Value(&r.OptionB),
			huh.NewInput().Title("Option C").Value(&r.OptionC),
			huh.NewInput().Title("Option D").Value(&r.OptionD),
		).WithHideFunc(isSimple),
	)
}

func setOptions(r *store.AutoResponseRule, options []string) {
	dst := []*string{&r.OptionA, &r.OptionB, &r.OptionC, &r.OptionD}
	for i, o := range options {
		if i >= len(dst) {
			break
		}
		*dst[i] = strings.TrimSpace(o)
	}
}

func rulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid rule id: %w", err)
			}
			stores, err := loadStores()
			if err != nil {
				return err
			}
			defer stores.Close()

			if err := stores.Rules.Delete(context.Background(), id); err != nil {
				return fmt.Errorf("delete rule: %w", err)
			}
			fmt.Printf("Rule %s deleted\n", id)
			return nil
		},
	}
}
