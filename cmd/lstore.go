package cmd

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gracexichen/L-Store-Database/config"
)

var (
	lstoreCmd = &cobra.Command{
		Use:               "lstore",
		Short:             "An L-Store storage engine",
		Long:              "lstore stores tables of integer columns as base and tail records.",
		PersistentPreRunE: lstorePreRun,
		PersistentPostRun: lstorePostRun,
		SilenceUsage:      true,
	}

	cfg = config.Default()

	logStderr = false
	logWriter io.WriteCloser

	configFile = "lstore.hcl"
	noConfig   = false
)

func init() {
	log.SetFormatter(&log.TextFormatter{
		DisableLevelTruncation: true,
	})

	fs := lstoreCmd.PersistentFlags()
	cfg.Flags(fs)

	fs.BoolVarP(&logStderr, "log-stderr", "s", logStderr, "log to standard error")
	fs.StringVar(&configFile, "config-file", configFile, "`file` to load config from")
	fs.BoolVar(&noConfig, "no-config", noConfig, "don't load config file")
}

func Execute() error {
	return lstoreCmd.Execute()
}

// Run executes the command line in args and writes the output to w.
func Run(args []string, w io.Writer) error {
	lstoreCmd.SetArgs(args)
	lstoreCmd.SetOutput(w)
	return lstoreCmd.Execute()
}

func lstorePreRun(cmd *cobra.Command, args []string) error {
	cfg.Parsed(cmd.Flags())

	if configFile != "" && !noConfig {
		err := cfg.Load(configFile)
		if os.IsNotExist(err) && !cmd.Flags().Changed("config-file") {
			err = nil
		}
		if err != nil {
			return fmt.Errorf("lstore: %s", err)
		}
	}

	if !logStderr && cfg.LogFile != "" {
		var err error
		logWriter, err = os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
		if err != nil {
			logWriter = nil
			return fmt.Errorf("lstore: %s", err)
		}
		log.SetOutput(logWriter)
	}

	ll, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("lstore: %s", err)
	}
	log.SetLevel(ll)

	log.WithField("pid", os.Getpid()).Info("lstore starting")
	return nil
}

func lstorePostRun(cmd *cobra.Command, args []string) {
	log.WithField("pid", os.Getpid()).Info("lstore done")

	if logWriter != nil {
		log.SetOutput(os.Stderr)
		logWriter.Close()
		logWriter = nil
	}
}

func init() {
	lstoreCmd.AddCommand(
		&cobra.Command{
			Use:   "config",
			Short: "List the config variables and where their values came from",
			Run: func(cmd *cobra.Command, args []string) {
				listConfig(cmd.OutOrStdout())
			},
		})
}

func listConfig(w io.Writer) {
	tw := newTable(w, []string{"name", "value", "by"})
	for _, v := range cfg.Variables() {
		tw.Append([]string{v.Name, v.Value, v.By})
	}
	tw.Render()
}
