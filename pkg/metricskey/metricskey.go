package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	// StatsMCPSessionsOpened is base for counter metric for sessions that completed the handshake
	StatsMCPSessionsOpened = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_sessions_opened",
		Help:         "stats_mcp_sessions_opened provides total sessions opened",
		RequiredTags: []string{"server"},
	}

	StatsMCPSessionsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_sessions_failed",
		Help:         "stats_mcp_sessions_failed provides total sessions failed to open",
		RequiredTags: []string{"server"},
	}

	StatsMCPSessionsCrashed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_sessions_crashed",
		Help:         "stats_mcp_sessions_crashed provides total sessions terminated by a process crash",
		RequiredTags: []string{"server"},
	}

	StatsMCPProtocolAnomalies = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_protocol_anomalies",
		Help:         "stats_mcp_protocol_anomalies provides total messages without an owner, such as duplicate responses",
		RequiredTags: []string{"server"},
	}

	StatsMCPRequestsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_requests_succeeded",
		Help:         "stats_mcp_requests_succeeded provides total requests succeeded",
		RequiredTags: []string{"method"},
	}

	StatsMCPRequestsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_requests_failed",
		Help:         "stats_mcp_requests_failed provides total requests failed",
		RequiredTags: []string{"method"},
	}

	StatsMCPRequestsTimedOut = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_mcp_requests_timed_out",
		Help:         "stats_mcp_requests_timed_out provides total requests timed out",
		RequiredTags: []string{"method"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsInvalid = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_invalid",
		Help:         "stats_tool_calls_invalid provides total tool calls rejected by argument validation",
		RequiredTags: []string{"tool"},
	}

	StatsAgentTurns = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_agent_turns",
		Help:         "stats_agent_turns provides total agent loop steps",
		RequiredTags: []string{"agent"},
	}

	StatsAgentRunsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_agent_runs_succeeded",
		Help:         "stats_agent_runs_succeeded provides total agent runs that produced a final answer",
		RequiredTags: []string{"agent"},
	}

	StatsAgentRunsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_agent_runs_failed",
		Help:         "stats_agent_runs_failed provides total agent runs failed",
		RequiredTags: []string{"agent"},
	}

	StatsLLMInputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_input_tokens",
		Help:         "stats_llm_input_tokens provides total input tokens sent to LLM",
		RequiredTags: []string{"model"},
	}

	StatsLLMOutputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_output_tokens",
		Help:         "stats_llm_output_tokens provides total output tokens received from LLM",
		RequiredTags: []string{"model"},
	}
)

// Perf
var (
	PerfMCPRequest = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_mcp_request",
		Help:         "perf_mcp_request provides duration of JSON-RPC request",
		RequiredTags: []string{"method"},
	}

	PerfMCPSessionOpen = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_mcp_session_open",
		Help:         "perf_mcp_session_open provides duration of spawn, handshake and tool discovery",
		RequiredTags: []string{"server"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}

	PerfAgentRun = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_agent_run",
		Help:         "perf_agent_run provides duration of agent run",
		RequiredTags: []string{"agent"},
	}

	PerfAgentDecision = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_agent_decision",
		Help:         "perf_agent_decision provides duration of decision engine call",
		RequiredTags: []string{"agent"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfAgentDecision,
	&PerfAgentRun,
	&PerfMCPRequest,
	&PerfMCPSessionOpen,
	&PerfToolCall,
	&StatsAgentRunsFailed,
	&StatsAgentRunsSucceeded,
	&StatsAgentTurns,
	&StatsLLMInputTokens,
	&StatsLLMOutputTokens,
	&StatsMCPProtocolAnomalies,
	&StatsMCPRequestsFailed,
	&StatsMCPRequestsSucceeded,
	&StatsMCPRequestsTimedOut,
	&StatsMCPSessionsCrashed,
	&StatsMCPSessionsFailed,
	&StatsMCPSessionsOpened,
	&StatsToolCallsFailed,
	&StatsToolCallsInvalid,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
}
