package main

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}

	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	out := cmd.OutOrStdout()

	if cc.Flags.JSON {
		return printJSON(out, cc.Cfg)
	}

	fmt.Fprintf(out, "# effective configuration (from %s)\n", cc.CfgPath)

	if err := toml.NewEncoder(out).Encode(cc.Cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}
