package cmd

import (
	"fmt"

	"mcpgate/internal/instance"

	"github.com/spf13/cobra"
)

var stopAll bool

var stopCmd = &cobra.Command{
	Use:   "stop [name]",
	Short: "Stop a running gateway instance",
	Long: `Sends SIGTERM to the named instance and waits briefly for it to
exit, escalating to SIGKILL if it does not. The instance record is
removed either way. With --all every recorded instance is stopped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	if stopAll {
		instances, err := instance.List()
		if err != nil {
			return err
		}
		if len(instances) == 0 {
			fmt.Println("No running instances.")
			return nil
		}
		for _, inst := range instances {
			if err := instance.Stop(inst); err != nil {
				fmt.Printf("Failed to stop %s: %v\n", inst.Name, err)
				continue
			}
			fmt.Printf("Stopped %s\n", inst.Name)
		}
		return nil
	}

	var inst *instance.Instance
	if len(args) == 1 {
		loaded, err := instance.Load(args[0])
		if err != nil {
			return err
		}
		inst = loaded
	} else {
		// No name: unambiguous only when exactly one instance runs.
		instances, err := instance.List()
		if err != nil {
			return err
		}
		switch len(instances) {
		case 0:
			return fmt.Errorf("no running instances")
		case 1:
			inst = instances[0]
		default:
			return fmt.Errorf("%d instances running, specify a name or use --all", len(instances))
		}
	}
	if err := instance.Stop(inst); err != nil {
		return err
	}
	fmt.Printf("Stopped %s\n", inst.Name)
	return nil
}

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().BoolVar(&stopAll, "all", false, "Stop every recorded instance")
}
