package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/superego-ai/superego/internal/adapter/outbound/cel"
	"github.com/superego-ai/superego/internal/adapter/outbound/rulefile"
	"github.com/superego-ai/superego/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a rule file without serving",
	Long: `Load and compile a rule file exactly as the server would, then exit.

Every rule's schema, regex patterns, and cel expressions are checked; the
first invalid rule fails the whole file. Exits 0 when the file is valid,
2 when it is not.

Examples:
  # Check the rules file named by the config
  superego validate

  # Check a specific file
  superego validate -f ./rules.yaml`,
	RunE: runValidate,
}

var validateFile string

func init() {
	validateCmd.Flags().StringVarP(&validateFile, "file", "f", "", "rules file to check (default: rules_file from config)")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := validateFile
	if path == "" {
		cfg, err := config.LoadConfigRaw()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(2)
		}
		path = cfg.RulesFile
	}

	compiler, err := cel.NewCompiler()
	if err != nil {
		return fmt.Errorf("failed to create rule expression compiler: %w", err)
	}

	set, err := rulefile.Load(path, compiler)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid rules file %s: %v\n", path, err)
		os.Exit(2)
	}

	fmt.Printf("%s: %d rules valid\n", path, set.Len())
	for _, cr := range set.Rules {
		fmt.Printf("  %-4d %-8s %s\n", cr.Rule.Priority, cr.Rule.Action, cr.Rule.ID)
	}
	return nil
}
