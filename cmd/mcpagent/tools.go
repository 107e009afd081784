package main

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/process"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/effective-security/mcpagent/tools"
	"github.com/spf13/cobra"
)

type serverConfig struct {
	desc *process.Descriptor
	opts []mcp.Option
}

func (s *serverConfig) withSession(ctx context.Context, cmd *cobra.Command, fn func(ctx context.Context, session *mcp.Session) error) error {
	opts := append(slices.Clone(s.opts), mcp.WithStderr(cmd.ErrOrStderr()))
	return mcp.WithSession(ctx, s.desc, fn, opts...)
}

func newToolsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools of the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, srv, err := flags.load()
			if err != nil {
				return err
			}
			return srv.withSession(cmd.Context(), cmd, func(_ context.Context, session *mcp.Session) error {
				out := cmd.OutOrStdout()
				info := session.ServerInfo()
				fmt.Fprintf(out, "%s %s, protocol %s\n", info.ServerInfo.Name, info.ServerInfo.Version, info.ProtocolVersion)
				for _, d := range session.Tools() {
					fmt.Fprintf(out, "- %s: %s\n", d.Name, d.Description)
					if flags.verbose && d.Schema != nil {
						fmt.Fprint(out, llmutils.EnsureEndsWithNewline(llmutils.ToJSONIndent(d.Schema)))
					}
				}
				if flags.verbose {
					fmt.Fprint(out, tools.GetDescriptions(session.Tools()...))
				}
				fmt.Fprintf(out, "%d tools, fingerprint %x\n", session.Registry().Len(), session.Registry().Fingerprint())
				return nil
			})
		},
	}
}

func newCallCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "call <tool> [json arguments]",
		Short: "Call a tool of the server",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, srv, err := flags.load()
			if err != nil {
				return err
			}

			var input map[string]any
			if len(args) > 1 && strings.TrimSpace(args[1]) != "" {
				if err = json.Unmarshal(llmutils.ExtractJSON([]byte(args[1])), &input); err != nil {
					return errors.Wrap(err, "invalid arguments")
				}
			}

			return srv.withSession(cmd.Context(), cmd, func(ctx context.Context, session *mcp.Session) error {
				res, err := session.CallTool(ctx, args[0], input, 0)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, llmutils.EnsureEndsWithNewline(res.Text()))
				if flags.verbose && len(res.Structured) > 0 {
					fmt.Fprint(out, llmutils.EnsureEndsWithNewline(llmutils.IndentJSON(string(res.Structured))))
				}
				if res.Failed() {
					return errors.Newf("tool %s failed", res.Name)
				}
				return nil
			})
		},
	}
}
