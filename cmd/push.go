package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/release-engineering/pulp-push/cmd/util"
	"github.com/release-engineering/pulp-push/internal/pipeline"
	"github.com/release-engineering/pulp-push/internal/push"
	"github.com/release-engineering/pulp-push/internal/push/collect"
	"github.com/release-engineering/pulp-push/internal/push/item"
	"github.com/release-engineering/pulp-push/internal/push/source"
	"github.com/release-engineering/pulp-push/pkg/logger"
	"github.com/release-engineering/pulp-push/pkg/pulp"
	"github.com/release-engineering/pulp-push/pkg/pulp/fake"
	"github.com/release-engineering/pulp-push/pkg/pulp/pulphttp"
)

const (
	sourceFlag             = "source"
	pulpURLFlag            = "pulp-url"
	pulpUsernameFlag       = "pulp-username"
	pulpPasswordFlag       = "pulp-password"
	pulpInsecureFlag       = "pulp-insecure"
	pulpMaxConcurrencyFlag = "pulp-max-concurrency"
	prePushFlag            = "pre-push"
	skipFlag               = "skip"
	allowUnsignedFlag      = "allow-unsigned"
	publishForceFlag       = "publish-force"
	publishCleanFlag       = "publish-clean"
	batchSizeFlag          = "batch-size"
	queueSizeFlag          = "queue-size"
	logFormatFlag          = "log-format"
	logLevelFlag           = "log-level"
)

// NewPushCommand returns the push command, which runs one complete push
// of content from a source into Pulp.
func NewPushCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push",
		Short: "Push and publish content via Pulp",
		RunE:  runPush,
		Args:  cobra.NoArgs,

		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.Flags()
	flags.String(sourceFlag, "", "source of content to be pushed, e.g. staged:/mnt/staging")
	flags.String(pulpURLFlag, "", "base URL of the Pulp server, or fake: for an in-memory server")
	flags.String(pulpUsernameFlag, "", "username for Pulp authentication")
	flags.String(pulpPasswordFlag, "", "password for Pulp authentication")
	flags.Bool(pulpInsecureFlag, false, "skip TLS verification on the Pulp server")
	flags.Int(pulpMaxConcurrencyFlag, 0, "max concurrent requests to the Pulp server")
	flags.Bool(prePushFlag, false, "upload content without making it visible; a later full push completes it")
	flags.StringSlice(skipFlag, nil, "skip identified steps (currently only: publish)")
	flags.Bool(allowUnsignedFlag, false, "permit pushing unsigned RPMs")
	flags.Bool(publishForceFlag, false, "force full publish of affected repos")
	flags.Bool(publishCleanFlag, false, "clean orphaned content during publish")
	flags.Int(batchSizeFlag, 0, "max number of items per Pulp query")
	flags.Int(queueSizeFlag, 0, "max batches buffered between phases")
	flags.String(logFormatFlag, "text", "log output format (text, json)")
	flags.String(logLevelFlag, "info", "minimum log level")

	cmd.MarkFlagRequired(sourceFlag)
	cmd.MarkFlagRequired(pulpURLFlag)

	cmd.PreRun = func(cmd *cobra.Command, _ []string) {
		for _, name := range []string{
			sourceFlag, pulpURLFlag, pulpUsernameFlag, pulpPasswordFlag,
			pulpInsecureFlag, pulpMaxConcurrencyFlag, prePushFlag, skipFlag,
			allowUnsignedFlag, publishForceFlag, publishCleanFlag,
			batchSizeFlag, queueSizeFlag, logFormatFlag, logLevelFlag,
		} {
			util.MustBindPFlag(name, cmd.Flags().Lookup(name))
		}
	}

	return cmd
}

func runPush(cmd *cobra.Command, _ []string) error {
	log := logger.MustNewLogger(viper.GetString(logFormatFlag), viper.GetString(logLevelFlag))

	var skipPublish bool
	for _, s := range viper.GetStringSlice(skipFlag) {
		if s != "publish" {
			return fmt.Errorf("unsupported value for --%s: %s", skipFlag, s)
		}
		skipPublish = true
	}

	src, err := source.FromURL(viper.GetString(sourceFlag))
	if err != nil {
		return err
	}

	client, err := pulpClient(cmd.Context(), src, log)
	if err != nil {
		return err
	}

	opts := push.Options{
		Source:        src,
		Client:        client,
		Collector:     collect.NewLogCollector(log),
		PrePush:       viper.GetBool(prePushFlag),
		SkipPublish:   skipPublish,
		AllowUnsigned: viper.GetBool(allowUnsignedFlag),
		Publish: pulp.PublishOptions{
			Force: viper.GetBool(publishForceFlag),
			Clean: viper.GetBool(publishCleanFlag),
		},
		Pipeline: pipeline.Config{
			QueueSize: viper.GetInt(queueSizeFlag),
			BatchSize: viper.GetInt(batchSizeFlag),
		},
	}

	start := time.Now()
	if err := push.Run(cmd.Context(), log, opts); err != nil {
		log.Error("Push failed: " + err.Error())
		return err
	}
	log.Info("Push finished in " + time.Since(start).Round(time.Second).String())
	return nil
}

// pulpClient builds the Pulp client named by --pulp-url. The fake:
// scheme gives an in-memory server pre-seeded with every repo the
// source content is destined for, usable for dry runs.
func pulpClient(ctx context.Context, src source.Source, log logger.Logger) (pulp.Client, error) {
	url := viper.GetString(pulpURLFlag)
	if !strings.HasPrefix(url, "fake:") {
		return pulphttp.NewClient(pulphttp.Config{
			URL:                url,
			Username:           viper.GetString(pulpUsernameFlag),
			Password:           viper.GetString(pulpPasswordFlag),
			InsecureSkipVerify: viper.GetBool(pulpInsecureFlag),
			MaxConcurrency:     viper.GetInt64(pulpMaxConcurrencyFlag),
		}, log)
	}

	client := fake.New().AddRepository(item.RPMUploadRepo)
	err := src.Each(ctx, func(pi item.PushItem) error {
		client.AddRepository(pi.Dest...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}
