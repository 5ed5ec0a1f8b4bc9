package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/italolelis/assetflow/internal/client"
	"github.com/italolelis/assetflow/internal/config"
	"github.com/italolelis/assetflow/internal/downloader"
	"github.com/italolelis/assetflow/internal/logctx"
)

var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// options are resolved from the environment first and then from flags.
type options struct {
	cfg *config.ClientConfig

	server      string
	token       string
	maxParallel int
	timeout     time.Duration
}

func (o *options) client() (*client.Client, error) {
	return client.New(o.server, o.token, client.WithTimeout(o.timeout))
}

func newRootCmd() *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:           "assetflow-client",
		Short:         "Download and publish assets",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadClientConfig()
			if err != nil {
				return err
			}

			o.cfg = cfg

			flags := cmd.Flags()
			if !flags.Changed("server") {
				o.server = cfg.Server
			}

			if !flags.Changed("token") {
				o.token = cfg.Token
			}

			if !flags.Changed("parallel") {
				o.maxParallel = cfg.MaxParallel
			}

			if !flags.Changed("timeout") {
				o.timeout = cfg.Timeout
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
			slog.SetDefault(logger)

			cmd.SetContext(logctx.WithLogger(cmd.Context(), logger))

			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&o.server, "server", "", "asset service address (ASSETFLOW_SERVER)")
	flags.StringVar(&o.token, "token", "", "API token (ASSETFLOW_TOKEN)")
	flags.IntVar(&o.maxParallel, "parallel", 0, "concurrent downloads (ASSETFLOW_MAX_PARALLEL)")
	flags.DurationVar(&o.timeout, "timeout", 0, "API call timeout (ASSETFLOW_TIMEOUT)")

	root.AddCommand(
		newDownloadCmd(o),
		newUploadCmd(o),
		newUpdateCmd(o),
		newDeleteCmd(o),
	)

	return root
}

func newDownloadCmd(o *options) *cobra.Command {
	var (
		target string
		group  bool
	)

	cmd := &cobra.Command{
		Use:   "download NAME",
		Short: "Download an asset, or every asset of a group with --group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}

			d := downloader.New(c, downloader.WithMaxParallel(o.maxParallel))

			if group {
				return downloadGroup(cmd.Context(), cmd.OutOrStdout(), d, args[0])
			}

			start := time.Now()

			res, err := d.DownloadAsset(cmd.Context(), args[0], target)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "[1/1] downloaded %s in %.2f seconds (%s -> %s)\n",
				res.Asset.AssetName, time.Since(start).Seconds(), humanize.Bytes(uint64(res.Size)), res.Path)

			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "target file or directory")
	cmd.Flags().BoolVarP(&group, "group", "g", false, "NAME is a group")
	cmd.MarkFlagsMutuallyExclusive("target", "group")

	return cmd
}

// downloadGroup prints one line per task as it settles and fails if any
// task failed.
func downloadGroup(ctx context.Context, out io.Writer, d *downloader.Downloader, name string) error {
	session, err := d.DownloadGroup(ctx, name)
	if err != nil {
		return err
	}

	total := len(session.Tasks())

	var (
		mu       sync.Mutex
		finished int
		wg       sync.WaitGroup
	)

	for _, task := range session.Tasks() {
		wg.Add(1)

		go func() {
			defer wg.Done()

			err := task.Err()

			mu.Lock()
			defer mu.Unlock()

			finished++

			if err != nil {
				fmt.Fprintf(out, "[%d/%d] failed %s: %v\n", finished, total, task.Asset.AssetName, err)

				return
			}

			fmt.Fprintf(out, "[%d/%d] downloaded %s in %.2f seconds\n", finished, total, task.Asset.AssetName, task.Duration().Seconds())
		}()
	}

	wg.Wait()

	if err := session.Wait(ctx); err != nil {
		return fmt.Errorf("group %s: %w", name, err)
	}

	fmt.Fprintf(out, "group %s: %d asset(s) in %.2f seconds\n", name, total, time.Since(session.StartedAt).Seconds())

	return nil
}

func newUploadCmd(o *options) *cobra.Command {
	var repository, deployPath string

	cmd := &cobra.Command{
		Use:   "upload NAME FILE",
		Short: "Publish a new asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}

			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			resp, err := c.Upload(cmd.Context(), client.UploadRequest{
				Name:       args[0],
				Repository: repository,
				DeployPath: deployPath,
				FileName:   filepath.Base(args[1]),
				Content:    f,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s as %s\n", resp.AssetName, resp.AssetUUID)

			return nil
		},
	}

	cmd.Flags().StringVarP(&repository, "repository", "r", "local", "storage to upload to")
	cmd.Flags().StringVar(&deployPath, "deploy-path", "", "named deploy path to associate")

	return cmd
}

func newUpdateCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "update NAME FILE",
		Short: "Replace the content of an asset",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}

			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			if _, err := c.Update(cmd.Context(), args[0], filepath.Base(args[1]), f); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", args[0])

			return nil
		},
	}
}

func newDeleteCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete UUID",
		Short: "Delete an asset and its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid asset id %q: %w", args[0], err)
			}

			c, err := o.client()
			if err != nil {
				return err
			}

			resp, err := c.Delete(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", resp.Result["assetName"])

			return nil
		},
	}
}
