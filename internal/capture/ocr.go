package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// TextExtractor reads the instruction text out of a challenge image.
type TextExtractor interface {
	ExtractText(ctx context.Context, img []byte) (string, error)
}

// Tesseract runs the tesseract CLI, feeding the image on stdin and reading
// the recognised text from stdout.
type Tesseract struct {
	Binary   string
	Language string
	Timeout  time.Duration
}

// ExtractText implements TextExtractor.
func (t Tesseract) ExtractText(ctx context.Context, img []byte) (string, error) {
	binary := t.Binary
	if binary == "" {
		binary = "tesseract"
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	args := []string{"stdin", "stdout"}
	if t.Language != "" {
		args = append(args, "-l", t.Language)
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, binary, args...)
	cmd.Stdin = bytes.NewReader(img)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("ocr timed out after %s", timeout)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("ocr exited with %d: %s", exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("running ocr: %w", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
