package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/memogarden/memogarden/internal/verb"
)

var createFormValues struct {
	Type string
	Name string
	Body string
}

var createInteractiveCmd = &cobra.Command{
	Use:   "create-form",
	Short: "Interactively create an entity",
	RunE: func(cmd *cobra.Command, args []string) error {
		typeOptions := []huh.Option[string]{
			huh.NewOption("Person", "person"),
			huh.NewOption("Project", "project"),
			huh.NewOption("Place", "place"),
			huh.NewOption("Concept", "concept"),
			huh.NewOption("Organization", "organization"),
		}

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title("Type").
					Description("Entity type; any free-form string is accepted beyond this baseline").
					Options(typeOptions...).
					Value(&createFormValues.Type),

				huh.NewInput().
					Title("Name").
					Description("Short label for this entity (required)").
					Value(&createFormValues.Name).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("name is required")
						}
						return nil
					}),

				huh.NewText().
					Title("Notes").
					Description("Free-form body text (optional)").
					Value(&createFormValues.Body),
			),
		).WithTheme(huh.ThemeDracula())

		if err := form.Run(); err != nil {
			return err
		}

		data, err := json.Marshal(map[string]string{"name": createFormValues.Name, "body": createFormValues.Body})
		if err != nil {
			return err
		}
		resp, err := dispatch(verb.OpCreate, map[string]any{"type": createFormValues.Type, "data": json.RawMessage(data)})
		if err != nil {
			return err
		}
		return printResult(resp)
	},
}

func init() {
	rootCmd.AddCommand(createInteractiveCmd)
}
