// Package clipboard copies transcripts to the system clipboard through the
// platform's clipboard command.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

const copyTimeout = 4 * time.Second

var ErrUnavailable = errors.New("no clipboard command available")

type command struct {
	name string
	args []string
	// detach for tools that keep running to own the selection.
	detach bool
}

func CopyText(ctx context.Context, text string) error {
	cmd, err := detect(runtime.GOOS, exec.LookPath)
	if err != nil {
		return err
	}
	return cmd.run(ctx, text)
}

func detect(goos string, lookPath func(string) (string, error)) (command, error) {
	candidates := []command{
		{name: "wl-copy"},
		{name: "xclip", args: []string{"-selection", "clipboard", "-in", "-silent"}, detach: true},
		{name: "xsel", args: []string{"--clipboard", "--input"}},
	}
	if goos == "darwin" {
		candidates = []command{{name: "pbcopy"}}
	}

	for _, c := range candidates {
		if _, err := lookPath(c.name); err == nil {
			return c, nil
		}
	}
	return command{}, ErrUnavailable
}

func (c command) run(ctx context.Context, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.detach {
		return c.runDetached(text)
	}

	copyCtx, cancel := context.WithTimeout(ctx, copyTimeout)
	defer cancel()

	cmd := exec.CommandContext(copyCtx, c.name, c.args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		if errors.Is(copyCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("copy to clipboard timed out: %w", copyCtx.Err())
		}
		return fmt.Errorf("copy to clipboard: %w", err)
	}
	return nil
}

func (c command) runDetached(text string) error {
	cmd := exec.Command(c.name, c.args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open clipboard stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start clipboard command: %w", err)
	}

	if _, err := io.WriteString(stdin, text); err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		return fmt.Errorf("write clipboard data: %w", err)
	}
	if err := stdin.Close(); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("close clipboard stdin: %w", err)
	}

	_ = cmd.Process.Release()
	return nil
}
