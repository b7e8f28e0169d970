package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/glizzus/moshi-cli/internal/config"
	"github.com/glizzus/moshi-cli/internal/datalayer"
	"github.com/glizzus/moshi-cli/internal/repository"
	"github.com/urfave/cli/v2"
)

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect past conversations stored in Postgres",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List the most recent conversations",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of conversations to show",
						Value: 20,
					},
				},
				Action: func(c *cli.Context) error {
					pgConfig, err := config.NewPostgresConfigFromEnv()
					if err != nil {
						return fmt.Errorf("failed to load postgres config: %w", err)
					}
					if !pgConfig.Enabled() {
						return cli.Exit("History needs POSTGRES_HOST to be set", 1)
					}

					pool, err := datalayer.NewPostgresPool(c.Context, pgConfig)
					if err != nil {
						return fmt.Errorf("failed to connect to postgres: %w", err)
					}
					defer pool.Close()
					if err := datalayer.MigratePostgres(pool); err != nil {
						return fmt.Errorf("failed to migrate postgres: %w", err)
					}

					conversations, err := repository.NewPostgresConversationRepository(pool).List(c.Context, c.Int("limit"))
					if err != nil {
						return cli.Exit("Failed to retrieve conversations: "+err.Error(), 1)
					}
					if len(conversations) == 0 {
						fmt.Fprintln(c.App.Writer, "No conversations found.")
						return nil
					}
					return printConversations(c.App.Writer, conversations)
				},
			},
		},
	}
}

const transcriptPreview = 40

func printConversations(w io.Writer, conversations []repository.Conversation) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tHOST\tARTIFACT\tTRANSCRIPT")
	for _, c := range conversations {
		fmt.Fprintf(
			tw,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			c.StartedAt.Local().Format(time.DateTime),
			c.Duration().Round(time.Second),
			c.Host,
			c.ArtifactKey,
			preview(c.Transcript, transcriptPreview),
		)
	}
	return tw.Flush()
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
