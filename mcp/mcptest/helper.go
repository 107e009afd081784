package mcptest

import (
	"context"
	"fmt"
	"os"

	"github.com/effective-security/mcpagent/mcp/process"
	"github.com/effective-security/xlog"
)

// Environment of a stub server subprocess
const (
	EnvHelper   = "MCPTEST_HELPER"
	EnvScenario = "MCPTEST_SCENARIO"
)

// CrashExitCode is the exit code of a subprocess in ScenarioCrash
const CrashExitCode = 3

// IsHelper returns true when the test binary was started as a stub server.
// Call it first in TestMain:
//
//	func TestMain(m *testing.M) {
//		if mcptest.IsHelper() {
//			os.Exit(mcptest.RunHelper())
//		}
//		os.Exit(m.Run())
//	}
func IsHelper() bool {
	return os.Getenv(EnvHelper) == "1"
}

// RunHelper serves the payments preset on stdin and stdout,
// and returns the process exit code.
func RunHelper() int {
	// stdout carries the protocol
	xlog.SetFormatter(xlog.NewStringFormatter(os.Stderr))

	srv, _ := NewPayments(
		WithScenario(Scenario(os.Getenv(EnvScenario))),
		WithCrashHandler(func() {
			os.Exit(CrashExitCode)
		}),
	)
	fmt.Fprintln(os.Stderr, "payments stub started")
	if err := srv.Serve(context.Background(), os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}

// Descriptor returns a descriptor that starts the current test binary
// as a payments stub server with the scenario.
func Descriptor(scenario Scenario) *process.Descriptor {
	name := "payments"
	if scenario != ScenarioNormal {
		name += "-" + string(scenario)
	}
	return &process.Descriptor{
		Name:    name,
		Command: os.Args[0],
		Args:    []string{"-test.run=^$"},
		Env: map[string]string{
			EnvHelper:   "1",
			EnvScenario: string(scenario),
		},
	}
}
