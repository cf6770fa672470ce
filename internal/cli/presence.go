package cli

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/mossy-p/coderoom/config"
	"github.com/mossy-p/coderoom/internal/redis"
	"github.com/spf13/cobra"
)

func newPresenceCmd(opts *config.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presence <roomId>",
		Short: "List the members of a room from the Redis presence mirror",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			p, err := redis.Connect(cmd.Context(), cfg.Redis, slog.Default())
			if err != nil {
				return err
			}
			defer p.Close()

			members, err := p.Members(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(members) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "room %s has no members\n", args[0])
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONNECTION\tNAME")
			for _, m := range members {
				fmt.Fprintf(w, "%s\t%s\n", m.ConnectionID, m.Label())
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&opts.RedisHost, "redis-host", "", "redis host (env REDIS_HOST)")
	return cmd
}
