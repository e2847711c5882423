// internal/cli/root.go

package cli

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/imadgeboyega/tradelink-inbox/internal/config"
	"github.com/imadgeboyega/tradelink-inbox/internal/messaging"
)

var (
	version = "dev"

	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "inbox",
	Short: "TradeLink marketplace inbox client",
	Long: `inbox talks to the TradeLink messaging API as one buyer or supplier.
It lists conversations, opens general or product inquiries, and sends,
edits, deletes and watches messages.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !verbose {
			log.SetOutput(io.Discard)
		}
	},
}

// Execute runs the root command until it finishes or the process is interrupted
func Execute() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file applied over the environment")
}

func loadConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadFile(cfgFile)
	}
	return config.Load(), nil
}

// openInbox builds an inbox over the REST API and loads the conversation list
func openInbox(ctx context.Context, device messaging.AudioDevice) (*messaging.Inbox, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}

	burst := int(cfg.RequestsPerSecond)
	client := messaging.NewClient(cfg.APIURL, cfg.Token, messaging.WithRateLimit(cfg.RequestsPerSecond, burst))

	uploader, err := newUploader(cfg, client)
	if err != nil {
		return nil, err
	}

	inbox := messaging.NewInbox(client, messaging.Options{
		SelfID:            cfg.UserID,
		SelfRole:          messaging.Role(cfg.UserRole),
		PollInterval:      cfg.PollInterval,
		FailureThreshold:  cfg.FailureThreshold,
		ReconcileWindow:   cfg.ReconcileWindow,
		MaxAttachmentSize: cfg.MaxAttachmentSize,
		Uploader:          uploader,
		AudioDevice:       device,
	})
	if err := inbox.Load(ctx); err != nil {
		inbox.Close()
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	return inbox, nil
}

func newUploader(cfg *config.Config, client *messaging.Client) (messaging.Uploader, error) {
	if cfg.UploadMode != "s3" {
		return client, nil
	}
	sess, err := messaging.NewAWSSession(cfg.AWSRegion, cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	log.Printf("Uploading attachments to s3://%s", cfg.S3BucketName)
	return messaging.NewS3Uploader(sess, cfg.S3BucketName, cfg.CDNURL, cfg.MaxAttachmentSize), nil
}
