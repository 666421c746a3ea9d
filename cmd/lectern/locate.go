package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/benaskins/lectern/internal/locator"
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Show where the backend project is found",
	Long:  "List the candidate project roots in search order and mark the one that will be used.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		b := cfg.Backend
		loc := locator.New(locator.Options{
			Root:          b.Root,
			ProjectName:   b.ProjectName,
			SearchParents: b.SearchParents,
			BackendDir:    b.Dir,
			EntryScript:   b.EntryScript,
		})

		root, locErr := loc.Locate()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\tSOURCE\tPATH\tMARKER")
		for _, c := range loc.Candidates() {
			mark := " "
			if locErr == nil && c.Path == root.Path {
				mark = "*"
			}
			marker := "missing"
			if _, err := os.Stat(loc.Marker(c.Path)); err == nil {
				marker = "found"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, c.Source, c.Path, marker)
		}
		w.Flush()

		if locErr != nil {
			return locErr
		}
		fmt.Printf("\nusing %s (%s)\n", root.Path, root.Source)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(locateCmd)
}
