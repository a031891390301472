/*
Package cli provides helpers shared by the nimbus command.

Output Formatting:

Commands print results as text or JSON:

	format, err := cli.ParseFormat(flagValue)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(os.Stdout, report)

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

Exit Codes:

ExitCode maps a command error to the process exit status: 2 for
configuration errors, 1 for anything else.
*/
package cli
