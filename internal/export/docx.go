package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// PandocDOCX returns a renderer converting HTML to DOCX with the pandoc binary at path.
func PandocDOCX(path string) Renderer {
	if path == "" {
		path = "pandoc"
	}
	return func(ctx context.Context, html string, title string) (*Result, error) {
		if _, err := exec.LookPath(path); err != nil {
			return nil, fmt.Errorf("%w: pandoc not installed", ErrDOCXDependencyMissing)
		}

		cmd := exec.CommandContext(ctx, path,
			"-f", "html",
			"-t", "docx",
			"--standalone",
			"--metadata", "title="+title,
			"-o", "-",
		)
		cmd.Stdin = strings.NewReader(html)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		output, err := cmd.Output()
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				return nil, fmt.Errorf("pandoc failed: %s", strings.TrimSpace(stderr.String()))
			}
			return nil, fmt.Errorf("pandoc execution failed: %w", err)
		}

		return &Result{
			Data:     output,
			Filename: sanitizeFilename(title) + ".docx",
			MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		}, nil
	}
}
