// Package console is a line-oriented chat transport on stdin/stdout, used
// when no bot token is configured. It serves a single chat.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

const ChatID = "console"

var (
	styleHeader = lipgloss.NewStyle().Foreground(lipgloss.Color("#fe8019")).Bold(true)
	styleOption = lipgloss.NewStyle().Foreground(lipgloss.Color("#83a598"))
	styleDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("#928374"))
	styleReply  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ebdbb2"))
)

type Handler interface {
	Handle(ctx context.Context, chatID, text string) error
}

type Console struct {
	in       io.Reader
	out      io.Writer
	imageDir string
	logger   *zap.Logger

	mu      sync.Mutex
	options []string // from the latest prompt, for numbered answers
}

func New(in io.Reader, out io.Writer, imageDir string, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{in: in, out: out, imageDir: imageDir, logger: logger}
}

func (c *Console) DeliverPrompt(_ context.Context, chatID, text string, options []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.options = append(c.options[:0], options...)

	var b strings.Builder
	b.WriteString(styleHeader.Render(text))
	b.WriteString("\n")
	for i, opt := range options {
		b.WriteString(styleOption.Render(fmt.Sprintf("%2d. %-10s", i+1, opt)))
		if (i+1)%3 == 0 || i == len(options)-1 {
			b.WriteString("\n")
		}
	}
	b.WriteString(styleDim.Render("answer with a number, a category, or a sentence"))
	b.WriteString("\n")
	_, err := io.WriteString(c.out, b.String())
	return err
}

func (c *Console) DeliverMessage(_ context.Context, chatID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, styleReply.Render(text))
	return err
}

// DeliverImage writes the image under the image directory and prints its path.
func (c *Console) DeliverImage(_ context.Context, chatID, name string, image []byte, caption string) error {
	if err := os.MkdirAll(c.imageDir, 0o755); err != nil {
		return fmt.Errorf("creating image dir: %w", err)
	}
	path := filepath.Join(c.imageDir, name)
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s\n%s\n", styleReply.Render(caption), styleDim.Render("chart saved to "+path))
	return err
}

// Run feeds input lines to h until EOF, "exit", or ctx is done.
func (c *Console) Run(ctx context.Context, h Handler) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-errc
			}
			input := strings.TrimSpace(line)
			if input == "exit" || input == "quit" {
				return nil
			}
			if input == "" {
				continue
			}
			if err := h.Handle(ctx, ChatID, c.resolve(input)); err != nil {
				c.logger.Error("handling message", zap.String("chat_id", ChatID), zap.Error(err))
			}
		}
	}
}

// resolve maps a numbered answer onto the latest prompt's option.
func (c *Console) resolve(input string) string {
	n, err := strconv.Atoi(input)
	if err != nil {
		return input
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 || n > len(c.options) {
		return input
	}
	return c.options[n-1]
}
