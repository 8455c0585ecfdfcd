// cmd/btmonitor/probe.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tamzrod/bt-monitor/internal/client"
	"github.com/tamzrod/bt-monitor/internal/protocol"
)

type probeFlags struct {
	endpoint string
	timeout  time.Duration
}

func newProbeCommand() *cobra.Command {
	var f probeFlags

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Talk to a running publisher like a remote debugger would",
		Example: `  btmonitor probe status
  btmonitor probe break 7 --interactive
  btmonitor probe unlock 7 --status FAILURE --remove
  btmonitor probe watch`,
	}
	cmd.PersistentFlags().StringVar(&f.endpoint, "endpoint", "tcp://127.0.0.1:1667", "publisher request endpoint")
	cmd.PersistentFlags().DurationVar(&f.timeout, "timeout", 5*time.Second, "per command timeout (0 waits forever)")

	cmd.AddCommand(
		probeSimple(&f, "tree", "Print the tree XML", func(c *client.Client, out io.Writer) error {
			xml, err := c.FullTree()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, xml)
			return err
		}),
		probeSimple(&f, "status", "Print every node status", func(c *client.Client, out io.Writer) error {
			recs, err := c.Status()
			if err != nil {
				return err
			}
			for _, r := range recs {
				fmt.Fprintf(out, "%5d  %s\n", r.UID, r.Status)
			}
			return nil
		}),
		probeSimple(&f, "hooks", "Print the registered breakpoints", func(c *client.Client, out io.Writer) error {
			ds, err := c.Hooks()
			if err != nil {
				return err
			}
			return printJSON(out, ds)
		}),
		probeSimple(&f, "clear", "Remove every breakpoint", func(c *client.Client, _ io.Writer) error {
			return c.RemoveAllHooks()
		}),
		probeSimple(&f, "disable", "Disable every breakpoint", func(c *client.Client, _ io.Writer) error {
			return c.DisableAllHooks()
		}),
		probeSimple(&f, "transitions", "Fetch and clear the recorded transitions", func(c *client.Client, out io.Writer) error {
			ts, err := c.Transitions()
			if err != nil {
				return err
			}
			for _, t := range ts {
				fmt.Fprintf(out, "%12s  %5d  %s\n", t.Offset, t.UID, t.Status)
			}
			return nil
		}),
		newProbeBlackboardCommand(&f),
		newProbeBreakCommand(&f),
		newProbeUnlockCommand(&f),
		newProbeRemoveCommand(&f),
		newProbeRecordCommand(&f),
		newProbeWatchCommand(&f),
	)
	return cmd
}

// withClient dials, runs fn and closes.
func withClient(cmd *cobra.Command, f *probeFlags, fn func(c *client.Client) error) error {
	ctx := cmd.Context()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	c, err := client.Dial(ctx, f.endpoint, f.timeout)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

func probeSimple(f *probeFlags, use, short string, fn func(c *client.Client, out io.Writer) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withClient(cmd, f, func(c *client.Client) error {
				return fn(c, cmd.OutOrStdout())
			})
		},
	}
}

func newProbeBlackboardCommand(f *probeFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "blackboard <subtree>...",
		Short: "Dump the blackboards of the named subtrees",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, f, func(c *client.Client) error {
				doc, err := c.Blackboard(args...)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), doc)
			})
		},
	}
}

func newProbeBreakCommand(f *probeFlags) *cobra.Command {
	var (
		post        bool
		interactive bool
		once        bool
		disabled    bool
		desired     string
	)

	cmd := &cobra.Command{
		Use:   "break <uid>",
		Short: "Insert a breakpoint on a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}
			d := protocol.HookDescriptor{
				Enabled:       !disabled,
				UID:           uid,
				Interactive:   interactive,
				Once:          once,
				DesiredStatus: strings.ToUpper(desired),
				Position:      position(post),
			}
			return withClient(cmd, f, func(c *client.Client) error {
				return c.InsertHooks(d)
			})
		},
	}
	cmd.Flags().BoolVar(&post, "post", false, "break after the node ticks instead of before")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "park execution until unlocked")
	cmd.Flags().BoolVar(&once, "once", false, "remove the breakpoint after it is consumed")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "insert the breakpoint disabled")
	cmd.Flags().StringVar(&desired, "status", "SKIPPED", "status forced by a non-interactive breakpoint")
	return cmd
}

func newProbeUnlockCommand(f *probeFlags) *cobra.Command {
	var (
		post    bool
		remove  bool
		desired string
	)

	cmd := &cobra.Command{
		Use:   "unlock <uid>",
		Short: "Release execution parked on an interactive breakpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}
			req := protocol.UnlockRequest{
				UID:            uid,
				DesiredStatus:  strings.ToUpper(desired),
				Position:       position(post),
				RemoveWhenDone: remove,
			}
			return withClient(cmd, f, func(c *client.Client) error {
				return c.Unlock(req)
			})
		},
	}
	cmd.Flags().BoolVar(&post, "post", false, "unlock the post-tick breakpoint")
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the breakpoint once released")
	cmd.Flags().StringVar(&desired, "status", "IDLE", "status to force on the node (IDLE lets it run)")
	return cmd
}

func newProbeRemoveCommand(f *probeFlags) *cobra.Command {
	var post bool

	cmd := &cobra.Command{
		Use:   "remove <uid>",
		Short: "Remove a breakpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := parseUID(args[0])
			if err != nil {
				return err
			}
			return withClient(cmd, f, func(c *client.Client) error {
				return c.RemoveHook(uid, position(post))
			})
		},
	}
	cmd.Flags().BoolVar(&post, "post", false, "remove the post-tick breakpoint")
	return cmd
}

func newProbeRecordCommand(f *probeFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "record start|stop",
		Short:     "Start or stop transition recording",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"start", "stop"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd, f, func(c *client.Client) error {
				if args[0] == "stop" {
					return c.StopRecording()
				}
				start, err := c.StartRecording()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "recording since", start.Format(time.RFC3339Nano))
				return nil
			})
		},
	}
}

func newProbeWatchCommand(f *probeFlags) *cobra.Command {
	var notify string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print breakpoint notifications until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if notify == "" {
				ep, err := notifyEndpoint(f.endpoint)
				if err != nil {
					return err
				}
				notify = ep
			}

			sub, err := client.Subscribe(cmd.Context(), notify)
			if err != nil {
				return err
			}
			defer sub.Close()

			for {
				uid, err := sub.Next()
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  breakpoint reached on node %d\n", time.Now().Format(time.TimeOnly), uid)
			}
		},
	}
	cmd.Flags().StringVar(&notify, "notify", "", "notification endpoint (default: request endpoint port + 1)")
	return cmd
}

// ---- helpers ----

func parseUID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid node uid %q", s)
	}
	return uint16(v), nil
}

func position(post bool) int {
	if post {
		return protocol.PositionPost
	}
	return protocol.PositionPre
}

// notifyEndpoint derives "tcp://host:port+1" from a request endpoint.
func notifyEndpoint(endpoint string) (string, error) {
	i := strings.LastIndex(endpoint, ":")
	if i < 0 {
		return "", fmt.Errorf("endpoint %q has no port", endpoint)
	}
	port, err := strconv.Atoi(endpoint[i+1:])
	if err != nil {
		return "", fmt.Errorf("endpoint %q: %w", endpoint, err)
	}
	return endpoint[:i+1] + strconv.Itoa(port+1), nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
