// Command socksd runs a SOCKS5 proxy server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "socksd",
		Short:   "socksd - SOCKS5 proxy server",
		Long:    "socksd is a SOCKS5 proxy server supporting CONNECT over TCP and WebSocket, with optional username/password authentication.",
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(usersCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
