package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/gracexichen/L-Store-Database/db"
	"github.com/gracexichen/L-Store-Database/repl"
)

var (
	replCmd = &cobra.Command{
		Use:   "repl [file ...]",
		Short: "Run commands from files or an interactive console session",
		RunE:  replRun,
	}

	replCommands = []string{}
)

func init() {
	replCmd.Flags().StringArrayVarP(&replCommands, "command", "c", replCommands,
		"`command` to execute; multiple allowed")

	lstoreCmd.AddCommand(replCmd)
}

func replRun(cmd *cobra.Command, args []string) (err error) {
	d, err := db.Open(cfg, log.StandardLogger())
	if err != nil {
		return err
	}
	defer func() {
		cerr := d.Close()
		if err == nil {
			err = cerr
		}
	}()

	w := cmd.OutOrStdout()
	r := repl.New(d, w)
	for _, c := range replCommands {
		err := r.Exec(c)
		if err != nil {
			fmt.Fprintln(w, err)
		}
	}

	for _, arg := range args {
		f, err := os.Open(arg)
		if err != nil {
			return err
		}
		err = r.Run(repl.NewReader(f))
		f.Close()
		if err != nil {
			return err
		}
	}

	if len(args) == 0 && len(replCommands) == 0 {
		return r.Interact()
	}
	return nil
}
