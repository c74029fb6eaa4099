package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sitebooks/importer/internal/schema"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "List the target collections and their fields",
	Run: func(cmd *cobra.Command, args []string) {
		group := ""
		for _, c := range schema.All() {
			if c.Group != group {
				group = c.Group
				fmt.Printf("\n%s\n", group)
			}
			fmt.Printf("  %-20s %s\n", c.Key, c.Label)
			for _, f := range c.Fields {
				req := " "
				if f.Required {
					req = "*"
				}
				fmt.Printf("    %s %-24s %s\n", req, f.Name, f.Label)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(collectionsCmd)
}
