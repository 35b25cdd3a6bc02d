package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "payments",
	Short: "Payment reconciliation service",
	Long: `Reconciles storefront orders and subscriptions against the payment
gateway through webhooks, checkout callbacks and catch-up polling.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
