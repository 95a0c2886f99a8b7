package commands

import (
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/diogo/kiki/internal/models"
)

func newModelsCmd(deps *Dependencies, opts *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available models",
		Long: `List the models the relay reports, with the model picked for each
operation type. Falls back to the built-in list when the relay is down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			s, err := newSession(cfg, deps)
			if err != nil {
				return err
			}
			defer s.Close()

			catalog := s.router.Catalog(cmd.Context())
			if asJSON {
				data, err := json.MarshalIndent(catalog, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(deps.Stdout, string(data))
				return nil
			}
			fmt.Fprint(deps.Stdout, formatCatalog(catalog))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the catalog as JSON")
	return cmd
}

func formatCatalog(c models.ModelCatalog) string {
	idStyle := lipgloss.NewStyle().Foreground(colorPrimary)
	dimStyle := lipgloss.NewStyle().Foreground(colorTextDim)

	width := 0
	for _, m := range c.Models {
		width = max(width, len(m.ID))
	}

	var out string
	for _, m := range c.Models {
		name := m.Name
		if name == "" {
			name = models.ShortName(m.ID)
		}
		out += fmt.Sprintf("%s  %s\n",
			idStyle.Render(fmt.Sprintf("%-*s", width, m.ID)),
			dimStyle.Render(fmt.Sprintf("%s (%s)", name, m.Type)))
	}

	if len(c.BestByType) > 0 {
		out += "\nDefaults:\n"
		for _, op := range models.AllOperationTypes() {
			if id, ok := c.BestByType[op]; ok {
				out += fmt.Sprintf("  %-15s %s\n", op, id)
			}
		}
	}
	return out
}
