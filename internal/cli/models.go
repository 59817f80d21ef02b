package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/superninja/pkg/catalog"
	"github.com/harun/superninja/pkg/failure"
)

var modelsCategory string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog",
	RunE:  runModels,
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the configured agents",
	RunE:  runAgents,
}

func init() {
	modelsCmd.Flags().StringVar(&modelsCategory, "category", "", "only list models of this category")
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(agentsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	models := catalog.Default().List(catalog.Category(modelsCategory))
	if len(models) == 0 && modelsCategory != "" {
		return failure.Validation("no models in category %q", modelsCategory)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPROVIDER\tCATEGORY\tCOST/1K")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.4f\n", m.ID, m.Name, m.Provider, m.Category, m.CostPer1KTokens)
	}
	return w.Flush()
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	tiers := cfg.EntitlementMap()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TYPE\tNAME\tMODEL\tTIER\tCAPABILITIES")
	for _, def := range cfg.AgentDefinitions() {
		tier := "ninja"
		if t, ok := tiers[def.Type]; ok {
			tier = string(t)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", def.Type, def.Name, def.Model, tier, strings.Join(def.Capabilities, ","))
	}
	return w.Flush()
}
