package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/taskmaster/internal/control"
	"github.com/loykin/taskmaster/pkg/client"
)

func newClient(flags *GlobalFlags) *client.Client {
	return client.New(client.Config{Socket: flags.Socket, Timeout: flags.Timeout})
}

// send runs one request and prints the daemon's text. A refused request is
// reported as an error so the exit status is non-zero.
func send(ctx context.Context, out io.Writer, c *client.Client, cmd control.Command, name string) error {
	resp, err := c.Do(ctx, cmd, name)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(out, resp.Message)
	if !resp.Success {
		return fmt.Errorf("%s failed", cmd)
	}
	return nil
}

// sendHTTP is send over the daemon's HTTP API. Shutdown has no endpoint.
func sendHTTP(ctx context.Context, out io.Writer, c *client.HTTPClient, cmd control.Command, name string) error {
	var (
		resp client.CommandResponse
		err  error
	)
	switch cmd {
	case control.CmdStatus:
		text, err := c.StatusText(ctx)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprint(out, text)
		return nil
	case control.CmdStart, control.CmdStop, control.CmdRestart:
		resp, err = c.Command(ctx, cmd.String(), name)
	case control.CmdReload:
		resp, err = c.Reload(ctx)
	default:
		return fmt.Errorf("%s is only available on the control socket", cmd)
	}
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(out, resp.Message)
	return nil
}

// dispatch picks the HTTP API when --http is set, the socket otherwise.
func dispatch(ctx context.Context, out io.Writer, flags *GlobalFlags, cmd control.Command, name string) error {
	if flags.HTTP != "" {
		return sendHTTP(ctx, out, client.NewHTTP(flags.HTTP, flags.Timeout, nil), cmd, name)
	}
	return send(ctx, out, newClient(flags), cmd, name)
}

func createStatusCommand(flags *GlobalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show every instance with its state and pid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !asJSON {
				return dispatch(cmd.Context(), cmd.OutOrStdout(), flags, control.CmdStatus, "")
			}
			if flags.HTTP == "" {
				return errors.New("--json needs --http")
			}
			st, err := client.NewHTTP(flags.HTTP, flags.Timeout, nil).Status(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the HTTP status snapshot as JSON")
	return cmd
}

func createNamedCommand(flags *GlobalFlags, c control.Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   c.String() + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args[0]) > control.MaxNameLen {
				return fmt.Errorf("program name longer than %d bytes", control.MaxNameLen)
			}
			return dispatch(cmd.Context(), cmd.OutOrStdout(), flags, c, args[0])
		},
	}
}

func createPlainCommand(flags *GlobalFlags, c control.Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   c.String(),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd.Context(), cmd.OutOrStdout(), flags, c, "")
		},
	}
}

func createShellCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive control shell",
		Long: `Read commands line by line and send each to the daemon:
  status | start <name> | stop <name> | restart <name> | reload | shutdown
exit or quit leaves the shell.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShell(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), newClient(flags), isTerminal(cmd.InOrStdin()))
		},
	}
}

// runShell keeps going after a failed request; only exit, quit or end of
// input end it.
func runShell(ctx context.Context, in io.Reader, out io.Writer, c *client.Client, prompt bool) error {
	sc := bufio.NewScanner(in)
	for {
		if prompt {
			_, _ = fmt.Fprint(out, "taskmaster> ")
		}
		if !sc.Scan() {
			if prompt {
				_, _ = fmt.Fprintln(out)
			}
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		resp, err := c.Exec(ctx, line)
		switch {
		case errors.Is(err, client.ErrQuit):
			return nil
		case err != nil:
			_, _ = fmt.Fprintf(out, "error: %v\n", err)
		default:
			_, _ = fmt.Fprint(out, resp.Message)
		}
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
