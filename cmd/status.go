package cmd

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"mcpgate/internal/instance"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status [name]",
	Short: "Show running gateway instances",
	Long: `Lists the gateway instances recorded in the state directory.
Records whose process has exited are cleaned up on the way. With a name
argument only that instance is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	instances, err := instance.List()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		name := args[0]
		var found []*instance.Instance
		for _, inst := range instances {
			if inst.Name == name {
				found = append(found, inst)
			}
		}
		if len(found) == 0 {
			return fmt.Errorf("%w: %s", instance.ErrNotFound, name)
		}
		instances = found
	}

	switch statusOutput {
	case "yaml":
		return printStatusYAML(instances)
	case "table", "":
		printStatusTable(instances)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (expected table or yaml)", statusOutput)
	}
}

func printStatusTable(instances []*instance.Instance) {
	if len(instances) == 0 {
		fmt.Println("No running instances.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(rootCmd.OutOrStdout())
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"NAME", "PID", "ADDRESS", "UPTIME", "STATUS"})

	for _, inst := range instances {
		t.AppendRow(table.Row{
			inst.Name,
			inst.PID,
			net.JoinHostPort(inst.Host, strconv.Itoa(inst.Port)),
			inst.Uptime().Truncate(time.Second),
			probeInstance(inst),
		})
	}
	t.Render()
}

// statusRecord is the YAML output shape for one instance.
type statusRecord struct {
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Config    string    `json:"config,omitempty"`
	LogFile   string    `json:"logFile,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	Status    string    `json:"status"`
}

func printStatusYAML(instances []*instance.Instance) error {
	records := make([]statusRecord, 0, len(instances))
	for _, inst := range instances {
		records = append(records, statusRecord{
			Name:      inst.Name,
			PID:       inst.PID,
			Host:      inst.Host,
			Port:      inst.Port,
			Config:    inst.Config,
			LogFile:   inst.LogFile,
			StartedAt: inst.StartedAt,
			Status:    probeInstance(inst),
		})
	}
	out, err := yaml.Marshal(records)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

// probeInstance checks whether the instance's endpoint accepts
// connections.
func probeInstance(inst *instance.Instance) string {
	addr := net.JoinHostPort(inst.Host, strconv.Itoa(inst.Port))
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return "unreachable"
	}
	conn.Close()
	return "running"
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table or yaml)")
}
