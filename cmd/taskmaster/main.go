package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/taskmaster/internal/control"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags are shared by every client command.
type GlobalFlags struct {
	Socket  string
	Timeout time.Duration
	HTTP    string // daemon HTTP API base URL; replaces the socket when set
}

func buildRoot() *cobra.Command {
	global := &GlobalFlags{}
	root := createRootCommand(global)
	root.AddCommand(
		createStatusCommand(global),
		createNamedCommand(global, control.CmdStart, "Start every instance of a program"),
		createNamedCommand(global, control.CmdStop, "Stop every instance of a program"),
		createNamedCommand(global, control.CmdRestart, "Restart every instance of a program"),
		createPlainCommand(global, control.CmdReload, "Re-read the configuration and reconcile"),
		createPlainCommand(global, control.CmdShutdown, "Ask the daemon to stop supervising and exit"),
		createShellCommand(global),
		createServeCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskmaster",
		Short: "Job control daemon and client",
		Long: `Taskmaster keeps a set of configured programs running, restarts them
according to their policy and answers control requests on a unix socket.

Examples:
  taskmaster serve /etc/taskmaster        # run the daemon
  taskmaster status
  taskmaster restart web
  taskmaster status --http http://127.0.0.1:8080
  taskmaster shell                        # interactive client`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.Socket, "socket", control.DefaultSocketPath, "control socket path")
	root.PersistentFlags().DurationVar(&flags.Timeout, "timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().StringVar(&flags.HTTP, "http", "", "use the daemon HTTP API at this base URL instead of the socket")
	return root
}
