package app

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/otaagent/internal/agent/hal"
	"github.com/autopeer-io/otaagent/internal/agent/ota"
	"github.com/autopeer-io/otaagent/pkg/options"
)

// newStatusCommand prints the persisted update state and the flash bank table.
// It never modifies either.
func newStatusCommand() *cobra.Command {
	halOpts := options.NewHALOptions()
	otaOpts := options.NewOTAOptions()

	cmd := &cobra.Command{
		Use:          "status",
		Short:        "Show installed firmware and flash bank state",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			table, err := statusTable(halOpts.DataDir, otaOpts.Namespace)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), table)
			return err
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&halOpts.DataDir, "hal.data-dir", halOpts.DataDir, "Directory holding flash banks, boot record and persistent store.")
	fs.StringVar(&otaOpts.Namespace, "ota.namespace", otaOpts.Namespace, "Persistent store namespace for update bookkeeping.")

	return cmd
}

func statusTable(dataDir, namespace string) (*uitable.Table, error) {
	store, err := hal.NewFileStore(filepath.Join(dataDir, "nvs"))
	if err != nil {
		return nil, err
	}
	ns, err := store.Open(namespace, true)
	if err != nil {
		return nil, err
	}
	defer ns.Close()

	rec, err := hal.LoadBootRecord(filepath.Join(dataDir, "flash"))
	if err != nil {
		return nil, fmt.Errorf("failed to read boot record: %w", err)
	}

	version := ns.String(ota.KeyAppVersion, "")
	if version == "" {
		version = "<none>"
	}

	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("APP VERSION:", version)
	table.AddRow("PENDING VALIDATION:", strconv.FormatBool(ns.Bool(ota.KeyPendingValidation, false)))
	table.AddRow("")
	table.AddRow("BANK", "STATE", "SIZE", "SEQ", "BOOT")
	for i, bank := range rec.Banks {
		boot := ""
		if i == rec.Boot {
			boot = "*"
		}
		table.AddRow(i, bank.State, bank.Size, bank.Seq, boot)
	}
	return table, nil
}
