package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aura-remote/backend/internal/client"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Measure the link to the coordinator and print the capture constraints",
	RunE: func(cmd *cobra.Command, args []string) error {
		prober, err := client.NewProber(flagServer, nil)
		if err != nil {
			return err
		}
		tier, rtt, err := prober.Probe(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("rtt:        %s\n", rtt)
		fmt.Printf("quality:    %s\n", tier.Label)
		fmt.Printf("resolution: %s\n", tier.Resolution())
		fmt.Printf("fps:        %d\n", tier.FPS)
		return nil
	},
}
