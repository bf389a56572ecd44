package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aluiziolira/go-book-lookup/config"
)

// newRootCmd builds the booklookup command tree with its own viper instance.
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	v := viper.New()
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "booklookup [input] [output]",
		Short: "Look up book titles and write their metadata as JSON",
		Long: `booklookup reads one book title per line from the input file, queries the
volumes search API for each title, and writes name, title, author and cover
image link for every title to the output file.

Blank lines are skipped. Titles without a match are recorded as "Not Found".`,
		Args:         cobra.MaximumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigFile(cmd, v, stderr); err != nil {
				return err
			}
			if len(args) > 0 {
				v.Set(config.KeyInput, args[0])
			}
			if len(args) > 1 {
				v.Set(config.KeyOutput, args[1])
			}

			cfg, err := config.FromViper(v)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.String("config", "", "config file (default: ./booklookup.yaml if present)")
	flags.String(config.KeyInput, defaults.InputFile, "input file with one title per line")
	flags.String(config.KeyOutput, defaults.OutputFile, "output file")
	flags.String(config.KeyFormat, defaults.OutputFormat, "output format: json, csv, yaml, or dual")
	flags.String(config.KeyAPIURL, defaults.APIURL, "volumes search endpoint")
	flags.Duration(config.KeyTimeout, defaults.Timeout, "HTTP request timeout")
	flags.Duration(config.KeyDelay, defaults.Delay, "delay between requests")
	flags.String(config.KeyUserAgent, defaults.UserAgent, "User-Agent header sent with requests")
	flags.Bool(config.KeyContinueOnError, defaults.ContinueOnError, "record failed lookups as Not Found instead of aborting")
	flags.String(config.KeyProgress, defaults.Progress, "progress output: lines or bar")
	flags.Int(config.KeyRepeatWindow, defaults.RepeatWindow, "number of recent titles remembered for repeat reporting")
	flags.String(config.KeyMetricsAddr, defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	flags.BoolP(config.KeyVerbose, "v", defaults.Verbose, "enable verbose logging")

	config.SetDefaults(v)
	config.BindEnv(v)
	_ = v.BindPFlags(flags)

	cmd.AddCommand(newVersionCmd(stdout))
	return cmd
}

func loadConfigFile(cmd *cobra.Command, v *viper.Viper, stderr io.Writer) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("booklookup")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	fmt.Fprintln(stderr, "Using config file:", v.ConfigFileUsed())
	return nil
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of booklookup",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "booklookup %s\n", version)
		},
	}
}
