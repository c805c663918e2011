package main

import (
	"github.com/spf13/cobra"
)

var unpackCmd = &cobra.Command{
	Use:   "unpack",
	Short: "Unpack every triggered payload into staging",
	Args:  cobra.NoArgs,
	RunE:  runUnpack,
}

func runUnpack(cmd *cobra.Command, _ []string) error {
	p, closeFn, err := newPipeline(cmd.Context())
	if err != nil {
		return err
	}
	defer closeFn()

	sum, err := p.Unpack(cmd.Context())
	return printRun(cmd, sum, err)
}
