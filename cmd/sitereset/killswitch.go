package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lyndonlyu/sitereset/internal/killswitch"
)

var disableCmd = &cobra.Command{
	Use:   "disable [reason]",
	Short: "Refuse factory resets on this site until enabled again",
	RunE:  runDisable,
}

var enableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Allow factory resets again",
	RunE:  runEnable,
}

func init() {
	rootCmd.AddCommand(disableCmd, enableCmd)
}

func resetSwitch() (*killswitch.Switch, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return killswitch.InDir(cfg.StateDir()), nil
}

func runDisable(cmd *cobra.Command, args []string) error {
	sw, err := resetSwitch()
	if err != nil {
		return err
	}
	if sw.IsActive() {
		fmt.Printf("Resets already disabled at %s\n", sw.Path())
		return nil
	}

	reason := "manual activation"
	if len(args) > 0 {
		reason = strings.Join(args, " ")
	}
	if err := sw.Activate(reason); err != nil {
		return fmt.Errorf("failed to disable resets: %w", err)
	}

	fmt.Println(styleWarning.Render("Resets DISABLED"))
	fmt.Printf("Marker: %s\nReason: %s\n", sw.Path(), reason)
	fmt.Println("Use 'sitereset enable' to allow resets again.")
	return nil
}

func runEnable(cmd *cobra.Command, args []string) error {
	sw, err := resetSwitch()
	if err != nil {
		return err
	}
	if !sw.IsActive() {
		fmt.Println("Resets are not disabled.")
		return nil
	}
	if err := sw.Clear(); err != nil {
		return fmt.Errorf("failed to enable resets: %w", err)
	}
	fmt.Println(styleSuccess.Render("Resets ENABLED"))
	return nil
}
