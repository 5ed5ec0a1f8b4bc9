package main

import (
	"database/sql"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/italolelis/assetflow/internal/asset"
	"github.com/italolelis/assetflow/internal/auth"
	"github.com/italolelis/assetflow/internal/storage/sqlite"
)

// The admin commands work on the database directly. A running server picks
// up remote server changes made here only after a restart, and keeps
// accepting a revoked token until its cache entry expires. The /api/admin
// endpoints change a live service without those delays.

func (a *app) withDB(fn func(cmd *cobra.Command, args []string, db *sql.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := a.openDB()
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		return fn(cmd, args, db)
	}
}

func newServerCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Manage remote S3 compatible servers",
	}

	var server asset.RemoteServer

	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add or replace a remote server",
		Args:  cobra.ExactArgs(1),
		RunE: a.withDB(func(cmd *cobra.Command, args []string, db *sql.DB) error {
			if args[0] == asset.LocalRepository {
				return fmt.Errorf("%q is reserved for the local storage", asset.LocalRepository)
			}

			server.Name = args[0]

			if err := sqlite.NewServerRepository(db).Save(cmd.Context(), &server); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "server %s saved\n", server.Name)

			return nil
		}),
	}

	add.Flags().StringVar(&server.BucketURL, "bucket-url", "", "object store endpoint, e.g. https://s3.eu-central-1.amazonaws.com")
	add.Flags().StringVar(&server.BucketName, "bucket", "", "bucket name")
	add.Flags().StringVar(&server.AccessKey, "access-key", "", "access key id")
	add.Flags().StringVar(&server.SecretKey, "secret-key", "", "secret access key")
	add.Flags().StringVar(&server.Region, "region", "us-east-1", "bucket region")
	_ = add.MarkFlagRequired("bucket-url")
	_ = add.MarkFlagRequired("bucket")

	list := &cobra.Command{
		Use:   "list",
		Short: "List remote servers",
		Args:  cobra.NoArgs,
		RunE: a.withDB(func(cmd *cobra.Command, _ []string, db *sql.DB) error {
			servers, err := sqlite.NewServerRepository(db).List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tBUCKET URL\tBUCKET\tREGION")

			for _, s := range servers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, s.BucketURL, s.BucketName, s.Region)
			}

			return w.Flush()
		}),
	}

	remove := &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a remote server",
		Args:  cobra.ExactArgs(1),
		RunE: a.withDB(func(cmd *cobra.Command, args []string, db *sql.DB) error {
			if err := sqlite.NewServerRepository(db).Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to remove server %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "server %s removed\n", args[0])

			return nil
		}),
	}

	cmd.AddCommand(add, list, remove)

	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	var description string

	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a token and print it once",
		Args:  cobra.ExactArgs(1),
		RunE: a.withDB(func(cmd *cobra.Command, args []string, db *sql.DB) error {
			token, record, err := auth.GenerateToken(args[0], description)
			if err != nil {
				return err
			}

			if err := sqlite.NewTokenRepository(db).Save(cmd.Context(), record); err != nil {
				return fmt.Errorf("failed to save token %s: %w", args[0], err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)

			return nil
		}),
	}

	create.Flags().StringVar(&description, "description", "", "what the token is used for")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tokens",
		Args:  cobra.NoArgs,
		RunE: a.withDB(func(cmd *cobra.Command, _ []string, db *sql.DB) error {
			tokens, err := sqlite.NewTokenRepository(db).List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION\tCREATED")

			for _, t := range tokens {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.Description, t.CreatedAt.Format("2006-01-02 15:04"))
			}

			return w.Flush()
		}),
	}

	revoke := &cobra.Command{
		Use:   "revoke NAME",
		Short: "Revoke a token",
		Long: "Revoke a token. A running server keeps accepting a token it has " +
			"cached until TOKEN_CACHE_TTL elapses; revoke through the admin API to " +
			"take effect immediately.",
		Args: cobra.ExactArgs(1),
		RunE: a.withDB(func(cmd *cobra.Command, args []string, db *sql.DB) error {
			if err := sqlite.NewTokenRepository(db).Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to revoke token %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "token %s revoked\n", args[0])

			return nil
		}),
	}

	cmd.AddCommand(create, list, revoke)

	return cmd
}

func newGroupCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group",
		Short: "Manage asset groups",
	}

	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create an empty group",
		Args:  cobra.ExactArgs(1),
		RunE: a.withDB(func(cmd *cobra.Command, args []string, db *sql.DB) error {
			if _, err := sqlite.NewGroupRepository(db).Create(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to create group %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "group %s created\n", args[0])

			return nil
		}),
	}

	add := &cobra.Command{
		Use:   "add GROUP ASSET",
		Short: "Add an asset to a group",
		Args:  cobra.ExactArgs(2),
		RunE: a.withDB(func(cmd *cobra.Command, args []string, db *sql.DB) error {
			found, err := sqlite.NewAssetRepository(db).FindByName(cmd.Context(), args[1])
			if err != nil {
				return fmt.Errorf("failed to find asset %s: %w", args[1], err)
			}

			if err := sqlite.NewGroupRepository(db).AddAsset(cmd.Context(), args[0], found.UUID); err != nil {
				return fmt.Errorf("failed to add %s to %s: %w", args[1], args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "asset %s added to group %s\n", args[1], args[0])

			return nil
		}),
	}

	remove := &cobra.Command{
		Use:   "remove GROUP ASSET",
		Short: "Remove an asset from a group",
		Args:  cobra.ExactArgs(2),
		RunE: a.withDB(func(cmd *cobra.Command, args []string, db *sql.DB) error {
			found, err := sqlite.NewAssetRepository(db).FindByName(cmd.Context(), args[1])
			if err != nil {
				return fmt.Errorf("failed to find asset %s: %w", args[1], err)
			}

			if err := sqlite.NewGroupRepository(db).RemoveAsset(cmd.Context(), args[0], found.UUID); err != nil {
				return fmt.Errorf("failed to remove %s from %s: %w", args[1], args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "asset %s removed from group %s\n", args[1], args[0])

			return nil
		}),
	}

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a group; its assets are kept",
		Args:  cobra.ExactArgs(1),
		RunE: a.withDB(func(cmd *cobra.Command, args []string, db *sql.DB) error {
			if err := sqlite.NewGroupRepository(db).Delete(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete group %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "group %s deleted\n", args[0])

			return nil
		}),
	}

	cmd.AddCommand(create, add, remove, del)

	return cmd
}

func newDeployPathCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy-path",
		Short: "Manage deploy paths",
	}

	create := &cobra.Command{
		Use:   "create NAME PATH",
		Short: "Create a named deploy path",
		Args:  cobra.ExactArgs(2),
		RunE: a.withDB(func(cmd *cobra.Command, args []string, db *sql.DB) error {
			if _, err := sqlite.NewDeployPathRepository(db).Create(cmd.Context(), args[0], args[1]); err != nil {
				return fmt.Errorf("failed to create deploy path %s: %w", args[0], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deploy path %s -> %s created\n", args[0], args[1])

			return nil
		}),
	}

	assign := &cobra.Command{
		Use:   "assign ASSET DEPLOY_PATH",
		Short: "Associate an asset with a deploy path",
		Args:  cobra.ExactArgs(2),
		RunE: a.withDB(func(cmd *cobra.Command, args []string, db *sql.DB) error {
			found, err := sqlite.NewAssetRepository(db).FindByName(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to find asset %s: %w", args[0], err)
			}

			if err := sqlite.NewDeployPathRepository(db).Assign(cmd.Context(), found.UUID, args[1]); err != nil {
				return fmt.Errorf("failed to assign %s to %s: %w", args[0], args[1], err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "asset %s assigned to deploy path %s\n", args[0], args[1])

			return nil
		}),
	}

	cmd.AddCommand(create, assign)

	return cmd
}
