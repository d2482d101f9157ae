package main

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jnst/event-publication-outbox/internal/bootstrap"
	"github.com/jnst/event-publication-outbox/internal/model"
)

// AppLoader builds the wired application for one command invocation.
type AppLoader func(ctx context.Context) (*bootstrap.App, error)

// withApp loads the application, runs fn and closes the store afterwards.
func withApp(cmd *cobra.Command, load AppLoader, fn func(app *bootstrap.App) error) (err error) {
	app, err := load(cmd.Context())
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := app.Close(); err == nil {
			err = closeErr
		}
	}()

	return fn(app)
}

// newRootCommand constructs the outboxctl command tree.
func newRootCommand(load AppLoader) *cobra.Command {
	root := &cobra.Command{
		Use:           "outboxctl",
		Short:         "Inspect and maintain the event publication store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newSchemaCommand(load),
		newStatsCommand(load),
		newListCommand(load),
		newCompleteCommand(load),
		newDeleteCommand(load),
		newPurgeCommand(load),
	)

	return root
}

func newSchemaCommand(load AppLoader) *cobra.Command {
	schemaCmd := &cobra.Command{Use: "schema", Short: "Schema operations"}
	schemaCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Verify the store and create the indexes publication queries need",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(app *bootstrap.App) error {
				if err := app.InitializeSchema(cmd.Context()); err != nil {
					return err
				}

				fmt.Fprintln(cmd.OutOrStdout(), "schema initialized")

				return nil
			})
		},
	})

	return schemaCmd
}

func newStatsCommand(load AppLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the number of incomplete and completed publications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, load, func(app *bootstrap.App) error {
				counts, err := app.Repository.CountPublications(cmd.Context())
				if err != nil {
					return err
				}

				return json.NewEncoder(cmd.OutOrStdout()).Encode(counts)
			})
		},
	}
}

type publicationView struct {
	ID              uuid.UUID  `json:"id"`
	ListenerID      string     `json:"listenerId"`
	EventType       string     `json:"eventType"`
	PublicationDate time.Time  `json:"publicationDate"`
	CompletionDate  *time.Time `json:"completionDate,omitempty"`
}

func newPublicationView(p *model.Publication) publicationView {
	return publicationView{
		ID:              p.ID,
		ListenerID:      p.ListenerID,
		EventType:       p.EventType,
		PublicationDate: p.PublicationDate,
		CompletionDate:  p.CompletionDate,
	}
}

func newListCommand(load AppLoader) *cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List publications as JSON lines, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			completed, _ := cmd.Flags().GetBool("completed")

			return withApp(cmd, load, func(app *bootstrap.App) error {
				publications, err := app.Repository.ListPublications(cmd.Context(), completed)
				if err != nil {
					return err
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, p := range publications {
					if err := enc.Encode(newPublicationView(p)); err != nil {
						return err
					}
				}

				return nil
			})
		},
	}
	listCmd.Flags().Bool("completed", false, "List completed instead of incomplete publications")

	return listCmd
}

func newCompleteCommand(load AppLoader) *cobra.Command {
	completeCmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a publication as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid id %q: %w", args[0], err)
			}

			at, err := timeFlag(cmd, "at")
			if err != nil {
				return err
			}

			if at.IsZero() {
				at = time.Now()
			}

			return withApp(cmd, load, func(app *bootstrap.App) error {
				return app.Repository.MarkCompleted(cmd.Context(), id, at)
			})
		},
	}
	completeCmd.Flags().String("at", "", "Completion time (RFC3339); defaults to now")

	return completeCmd
}

func newDeleteCommand(load AppLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete publications by identifier",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, 0, len(args))
			for _, arg := range args {
				id, err := uuid.Parse(arg)
				if err != nil {
					return fmt.Errorf("invalid id %q: %w", arg, err)
				}

				ids = append(ids, id)
			}

			return withApp(cmd, load, func(app *bootstrap.App) error {
				return app.Repository.DeletePublications(cmd.Context(), ids)
			})
		},
	}
}

func newPurgeCommand(load AppLoader) *cobra.Command {
	purgeCmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete completed publications, including those whose event type is unknown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			before, err := timeFlag(cmd, "before")
			if err != nil {
				return err
			}

			var cutoff *time.Time
			if !before.IsZero() {
				cutoff = &before
			}

			return withApp(cmd, load, func(app *bootstrap.App) error {
				n, err := app.Repository.PurgeCompletedPublications(cmd.Context(), cutoff)
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "purged %d publications\n", n)

				return nil
			})
		},
	}
	purgeCmd.Flags().String("before", "", "Only purge publications completed before this time (RFC3339)")

	return purgeCmd
}

// timeFlag parses an RFC3339 flag value; an empty value yields the zero time.
func timeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw, _ := cmd.Flags().GetString(name)
	if raw == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s; expected RFC3339: %w", name, err)
	}

	return t, nil
}
