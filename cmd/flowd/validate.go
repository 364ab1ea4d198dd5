package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a workflow definition file",
	Long: `Validate a YAML workflow definition: state membership of every
transition, trigger names, and reachability of an initial state.

Examples:
  # Validate a definition file
  flowd validate pipeline.yaml

  # Validate from stdin
  cat pipeline.yaml | flowd validate -`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	r := os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open definition file: %w", err)
		}
		defer f.Close()
		r = f
	}

	def, err := workflow.LoadDefinition(r)
	if err != nil {
		return err
	}

	fmt.Printf("definition %q is valid: %d states, %d transitions\n",
		def.ID, len(def.States), len(def.Transitions))
	return nil
}
