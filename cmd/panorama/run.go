// ABOUTME: run command: executes a tool plan through the orchestrator
// ABOUTME: Reads the plan from a file or stdin and prints each step's outcome

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/panorama/internal/memory"
	"github.com/2389/panorama/internal/orchestrator"
)

// maxOutput bounds how much of a step's output is echoed.
const maxOutput = 200

func newRunCmd() *cobra.Command {
	var (
		planPath    string
		allowWrites bool
		ids         map[string]string
		loadServers bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a tool plan ({\"steps\": [...], \"stopWhen\": {\"have\": [...]}})",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readPlan(cmd, planPath)
			if err != nil {
				return err
			}
			plan, err := orchestrator.ParsePlan(data)
			if err != nil {
				return err
			}

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if allowWrites {
				cfg.Orchestrator.AllowWrites = true
			}
			gw, _, err := openGateway(cmd, cfg)
			if err != nil {
				return err
			}
			defer gw.Close()

			if loadServers {
				if _, err := gw.LoadExternalTools(cmd.Context()); err != nil {
					return err
				}
			}

			mem := memory.New()
			for k, v := range ids {
				mem.SetID(k, v)
			}

			out, err := gw.Orchestrator().Run(cmd.Context(), plan, mem)
			if out != nil {
				printOutcome(cmd.OutOrStdout(), out, mem)
			}
			if err != nil {
				return err
			}
			if f := out.Failed(); f > 0 && f == len(out.Steps) {
				return fmt.Errorf("all %d steps failed", f)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&planPath, "plan", "p", "-", "plan file, - for stdin")
	cmd.Flags().BoolVar(&allowWrites, "allow-writes", false, "permit tools that modify data")
	cmd.Flags().StringToStringVar(&ids, "id", nil, "seed memory ids, e.g. --id projectId=p42")
	cmd.Flags().BoolVar(&loadServers, "servers", true, "connect to configured tool servers first")
	return cmd
}

func readPlan(cmd *cobra.Command, path string) ([]byte, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	return data, nil
}

func printOutcome(w io.Writer, out *orchestrator.Outcome, mem *memory.Memory) {
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	for _, step := range out.Steps {
		args, _ := json.Marshal(step.Args)
		if step.Err != nil {
			red.Fprint(w, "✗ ")
			fmt.Fprintf(w, "%s %s\n", step.Tool, args)
			red.Fprintf(w, "    %v\n", step.Err)
			continue
		}
		green.Fprint(w, "✓ ")
		fmt.Fprintf(w, "%s %s\n", step.Tool, args)
		gray.Fprintf(w, "    %s\n", clip(step.Output, maxOutput))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "steps: %d  failed: %d  dropped: %d  stopWhen: %t\n",
		len(out.Steps), out.Failed(), out.Dropped, out.Stopped)
	gray.Fprintf(w, "memory: %v\n", mem.Keys())
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
