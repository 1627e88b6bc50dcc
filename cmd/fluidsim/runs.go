package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/fluidsim/internal/storage"
)

func listRuns(cmd *cobra.Command, args []string) error {
	store := storage.New(dataDir)
	runs, err := store.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENARIO\tSOLVER\tPARTICLES\tFRAMES\tEND TIME\tREASON")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.4g\t%s\n",
			r.ID, r.Scenario, r.Solver, r.NumParticles, r.Frames, r.EndTime, r.Reason)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	store := storage.New(dataDir)
	runID := args[0]
	meta, err := store.Load(runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	names := args[1:]
	if len(names) == 0 {
		for _, c := range meta.Columns {
			if c != "exec.sim_time" {
				names = append(names, c)
			}
		}
	}

	for _, name := range names {
		data, err := store.LoadColumn(runID, name)
		if err != nil {
			return err
		}
		if len(data) < 2 {
			fmt.Printf("%s: not enough samples to plot\n", name)
			continue
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("%s (%s)", name, runID)))
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	store := storage.New(dataDir)
	meta, err := store.Load(args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}
