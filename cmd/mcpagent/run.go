package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/effective-security/mcpagent/assistants"
	"github.com/effective-security/mcpagent/callbacks"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/pkg/llmfactory"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/effective-security/xlog"
	"github.com/spf13/cobra"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var chatID, model string

	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Run the agent with the prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, srv, err := flags.load()
			if err != nil {
				return err
			}

			var models []string
			if model != "" {
				models = append(models, model)
			}
			engine, err := llmfactory.New(&cfg.LLM).AgentEngine(cfg.Agent.Name, models...)
			if err != nil {
				return err
			}
			st, err := cfg.Store.New()
			if err != nil {
				return err
			}

			mode := callbacks.ModeDefault
			if flags.verbose {
				mode = callbacks.ModeVerbose
			}
			pad := callbacks.NewScratchpad(mode)
			cb := callbacks.NewFanout(
				callbacks.NewPrinter(cmd.ErrOrStderr(), mode),
				callbacks.NewPackageLogger(logger),
				pad,
			)

			chatCtx := chatmodel.NewChatContext(chatID, nil)
			ctx := chatmodel.WithChatContext(cmd.Context(), chatCtx)
			input := strings.Join(args, " ")

			return srv.withSession(ctx, cmd, func(ctx context.Context, session *mcp.Session) error {
				opts := append(cfg.Agent.Options(),
					assistants.WithCallback(cb),
					assistants.WithStore(st),
				)
				agent := assistants.NewAgent(engine, session, opts...)

				pad.StartRun(ctx)
				res, err := agent.Run(ctx, input)
				stats, scratch := pad.EndRun(ctx)
				if flags.verbose {
					_, _ = cmd.ErrOrStderr().Write(scratch)
				}
				if stats != nil {
					logger.ContextKV(ctx, xlog.DEBUG,
						"status", "run_stats",
						"chat_id", stats.ChatID,
						"duration", stats.Duration.String(),
						"decisions", stats.Decisions,
						"tool_calls", stats.ToolsCalls,
						"tool_calls_failed", stats.ToolsCallsFailed,
						"input_tokens", stats.LLMInputTokens,
						"output_tokens", stats.LLMOutputTokens,
					)
				}
				if err != nil {
					return err
				}

				fmt.Fprintf(cmd.ErrOrStderr(), "Chat: %s\n", chatCtx.GetChatID())
				fmt.Fprint(cmd.OutOrStdout(), llmutils.EnsureEndsWithNewline(res.Answer))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&chatID, "chat", "", "Chat ID to continue, a new chat by default")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Preferred model")
	return cmd
}
