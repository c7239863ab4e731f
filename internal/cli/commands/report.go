package commands

import (
	"bufio"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/testwire-labs/testwire/internal/protocol"
)

// NewReportCommand creates the report command, a relay for test
// frameworks that can print but not open sockets. It reads one JSON
// event per line on stdin and forwards each to the reporter socket named
// by the environment.
func NewReportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Relay reporter events from stdin to the engine",
		Long: `Read newline-delimited JSON events on stdin and forward them to the
engine's reporter socket. The socket address comes from the environment
the engine injects into spawned test processes, so this command works as
a drop-in pipe target inside a test run:

  my_test_runner --format testwire | testwire report`,
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reporter, err := protocol.NewReporterFromEnv()
			if err != nil {
				return fmt.Errorf("no reporter socket available: %w", err)
			}
			defer reporter.Close()

			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Bytes()
				if len(line) == 0 {
					continue
				}
				event, err := protocol.Decode(line)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skipping line: %v\n", err)
					continue
				}
				if err := reporter.Emit(event); err != nil {
					return fmt.Errorf("relay failed: %w", err)
				}
			}
			return scanner.Err()
		},
	}
}
