package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sitebooks/importer/internal/engine"
)

var detectCmd = &cobra.Command{
	Use:   "detect <file>",
	Short: "Detect the format and likely target collection of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		res := engine.DetectFormat(string(data), args[0])
		fmt.Printf("Format:     %s\n", res.Format)
		fmt.Printf("Confidence: %.0f%%\n", res.Confidence*100)
		if res.Delimiter != "" {
			fmt.Printf("Delimiter:  %q\n", res.Delimiter)
		}
		if res.Collection != "" {
			fmt.Printf("Collection: %s\n", res.Collection)
		}
		if len(res.Headers) > 0 {
			fmt.Printf("Columns:    %s\n", strings.Join(res.Headers, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}
