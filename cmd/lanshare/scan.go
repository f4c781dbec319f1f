package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lanshare/pkg/discovery"
)

var scanTimeout time.Duration

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List nodes advertising over mDNS",
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver, err := discovery.NewResolver()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), scanTimeout)
		defer cancel()

		ch, err := resolver.Browse(ctx)
		if err != nil {
			return err
		}
		found := 0
		for s := range ch {
			found++
			fmt.Printf("%s  %s  transfer=%d discovery=%d  id=%s\n",
				s.Instance, strings.Join(s.IPs, ","), s.TransferPort, s.DiscoveryPort, s.ID)
		}
		fmt.Printf("%d node(s) found\n", found)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().DurationVarP(&scanTimeout, "timeout", "t", 3*time.Second, "How long to listen")
}
