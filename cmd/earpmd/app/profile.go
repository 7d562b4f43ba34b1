package app

import (
	"fmt"
	"net"
	"strconv"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/autopeer-io/earpm/internal/discovery"
)

func newProfileCommand() *cobra.Command {
	file := discovery.DefaultProfilePath

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Print the broker listeners declared in a mosquitto profile",
		Args:  cobra.NoArgs,
		// The daemon configuration is not needed to inspect a profile.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			listeners, err := discovery.ParseProfileFile(file)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), listenerTable(listeners))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", file, "Path of the mosquitto profile.")
	return cmd
}

func listenerTable(listeners []discovery.Listener) *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 60
	table.AddRow("PORT", "ADDRESS", "INTERFACE", "PROTOCOL", "URL")
	for _, l := range listeners {
		host := l.Address
		if host == "" {
			host = "*"
		}
		url := fmt.Sprintf("%s://%s", l.Scheme(), net.JoinHostPort(host, strconv.Itoa(l.Port)))
		table.AddRow(l.Port, orDash(l.Address), orDash(l.Interface), l.Protocol, url)
	}
	return table
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
