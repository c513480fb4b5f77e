package main

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/sangoma/labcoord/marks"
)

var (
	cmdMarks = &cobra.Command{
		Use:   "marks",
		Short: "Fetch dynamic test marks from the marking service",
		Args:  cobra.NoArgs,
		Run:   runMarks,
	}

	apiService string
	marksEnv   string
	marksName  string
)

func init() {
	cmdMarks.Flags().StringVar(&apiService, "api-service", "", "URL of the centralized marking service")
	cmdMarks.Flags().StringVar(&marksEnv, "env", "", "Environment to fetch marks for")
	cmdMarks.Flags().StringVar(&marksName, "name", "", "Test name to fetch marks for")
	cmdMain.AddCommand(cmdMarks)
}

func runMarks(cmd *cobra.Command, args []string) {
	if apiService == "" {
		Exitf("Please specify --api-service")
	}
	client, err := marks.NewClient(apiService)
	if err != nil {
		Exitf("Marking service client setup failed: %v", err)
	}

	params := make(map[string]string)
	if marksEnv != "" {
		params["env"] = marksEnv
	}
	if marksName != "" {
		params["name"] = marksName
	}
	out, err := client.Marks(context.Background(), params)
	if err != nil {
		Exitf("Fetch marks failed: %v", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		Exitf("Encode marks failed: %v", err)
	}
}
