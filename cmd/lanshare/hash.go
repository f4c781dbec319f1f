package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"lanshare/pkg/storage"
)

var hashCmd = &cobra.Command{
	Use:   "hash <file>...",
	Short: "Print the content hash of files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			sum, err := storage.HashFile(path)
			if err != nil {
				return err
			}
			fmt.Printf("%s  %8s  %s\n", sum, humanize.Bytes(uint64(info.Size())), path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashCmd)
}
