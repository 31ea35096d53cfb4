package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/creasty/defaults"
	"github.com/ethpandaops/resthub/pkg/engine"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var (
	serverCfgFile string
)

//nolint:gochecknoglobals // Cobra commands are typically global
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the resthub server",
	Long:  `The server executes registered queries and serves their results over HTTP.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVar(&serverCfgFile, "config", "config.yaml", "config file")
}

func loadConfigFromFile(file string) (*engine.Config, error) {
	if file == "" {
		file = "config.yaml"
	}

	config := &engine.Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(file) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, err
	}

	return config, nil
}

func runServer(cmd *cobra.Command, _ []string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := loadConfigFromFile(serverCfgFile)
	if err != nil {
		return err
	}

	// The flag wins over the file when given explicitly
	if cmd.Flags().Changed("log-level") {
		config.Logging = logger.GetLevel().String()
	}

	level, err := logrus.ParseLevel(config.Logging)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	logger.WithField("config", serverCfgFile).Info("Configuration loaded")

	app, err := engine.NewService(logger, config)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		_ = app.Stop()
		return err
	}

	<-ctx.Done()

	return app.Stop()
}
