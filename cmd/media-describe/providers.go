package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/fpang/media-describe/internal/provider"
)

var flagRefresh bool

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show configured providers, their availability, and their models",
	Long: `Probe every provider that has the configuration it needs and list its
available vision models. Results are cached for 30 seconds; --refresh
discards the cache and probes again.`,
	RunE: runProviders,
}

func init() {
	providersCmd.Flags().BoolVar(&flagRefresh, "refresh", false, "discard cached probe results")
}

func runProviders(cmd *cobra.Command, args []string) error {
	clients := buildAllClients(cmd.Context(), cfg)
	if len(clients) == 0 {
		cmd.Println("no providers configured; set an API key or run an Ollama server")
		return nil
	}

	registry := provider.NewRegistry(clients...)
	if flagRefresh {
		registry.RefreshAll()
	}

	for _, name := range registry.Names() {
		d, err := registry.Describe(cmd.Context(), name)
		if err != nil {
			return err
		}
		cmd.Printf("%-12s %s\n", d.Name, d.Availability)
		switch {
		case d.ProbeErr != nil:
			cmd.Printf("             %v\n", d.ProbeErr)
		case len(d.Models) > 0:
			cmd.Printf("             models: %s\n", strings.Join(d.Models, ", "))
		}
	}
	return nil
}
