package main

import (
	"context"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sangoma/labcoord/labenv"
)

var (
	cmdEnv = &cobra.Command{
		Use:   "env",
		Short: "Inspect and edit environment to host mappings",
	}
	cmdEnvList = &cobra.Command{
		Use:   "list",
		Short: "List all defined environment names",
		Args:  cobra.NoArgs,
		Run:   runEnvList,
	}
	cmdEnvShow = &cobra.Command{
		Use:   "show <environment>",
		Short: "Show the role to host mapping of an environment",
		Args:  cobra.ExactArgs(1),
		Run:   runEnvShow,
	}
	cmdEnvRegister = &cobra.Command{
		Use:   "register <environment> <role> <host>",
		Short: "Register a host under a role in an environment",
		Args:  cobra.ExactArgs(3),
		Run:   runEnvRegister,
	}
	cmdEnvUnregister = &cobra.Command{
		Use:   "unregister <environment> <role> [host]",
		Short: "Unregister a host, or a whole role, from an environment",
		Args:  cobra.RangeArgs(2, 3),
		Run:   runEnvUnregister,
	}
)

func init() {
	cmdEnv.AddCommand(cmdEnvList, cmdEnvShow, cmdEnvRegister, cmdEnvUnregister)
	cmdMain.AddCommand(cmdEnv)
}

func envRegistry(ctx context.Context) *labenv.Registry {
	return labenv.NewRegistry(connectStore(ctx).Client())
}

func runEnvList(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	names, err := envRegistry(ctx).Names(ctx)
	if err != nil {
		Exitf("List environments failed: %v", err)
	}
	for _, name := range names {
		cmd.Println(name)
	}
}

func runEnvShow(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	view, err := envRegistry(ctx).View(ctx, args[0])
	if err != nil {
		Exitf("Show environment %s failed: %v", args[0], err)
	}
	if len(view) == 0 {
		log.Warn().Str("environment", args[0]).Msg("environment is not defined")
		return
	}
	roles := make([]string, 0, len(view))
	for role := range view {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	defer w.Flush()
	w.Write([]byte("role\thosts\n"))
	for _, role := range roles {
		w.Write([]byte(role + "\t" + strings.Join(view[role], ", ") + "\n"))
	}
}

func runEnvRegister(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	if err := envRegistry(ctx).Register(ctx, args[0], args[1], args[2]); err != nil {
		Exitf("Register failed: %v", err)
	}
	log.Info().Str("environment", args[0]).Str("role", args[1]).Str("host", args[2]).Msg("registered")
}

func runEnvUnregister(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	host := ""
	if len(args) == 3 {
		host = args[2]
	}
	if err := envRegistry(ctx).Unregister(ctx, args[0], args[1], host); err != nil {
		Exitf("Unregister failed: %v", err)
	}
	log.Info().Str("environment", args[0]).Str("role", args[1]).Str("host", host).Msg("unregistered")
}
