package reporting

import (
	"fmt"
	"io"
	"os"

	"github.com/specterhq/specterqa/internal/oracle"
	"github.com/specterhq/specterqa/internal/runner"
)

// Reporter writes a finished run to an output in one format.
type Reporter interface {
	// Write renders the run result. cost may be nil when no tracker ran.
	Write(run *runner.RunResult, cost *oracle.CostSummary) error
	// Close finalizes the report and releases the underlying writer.
	Close() error
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// New creates a reporter for the given format. An empty or "stdout" path
// writes to standard output.
func New(format, outputPath string) (Reporter, error) {
	var writer io.WriteCloser
	isStdOut := outputPath == "" || outputPath == "stdout"

	if isStdOut {
		writer = &nopWriteCloser{os.Stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	cleanup := func() {
		if !isStdOut {
			writer.Close()
		}
	}

	switch format {
	case "markdown", "md":
		return NewMarkdownReporter(writer), nil
	case "json":
		return NewJSONReporter(writer), nil
	default:
		cleanup()
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}
