package loader

import (
	"context"
	"errors"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/refereehq/referee/core/canary"
)

// ClipboardIO reads and writes the system clipboard.
type ClipboardIO interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error) { return clipboard.ReadAll() }

func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// ErrClipboardUnsupported is reported when no clipboard utility is available.
var ErrClipboardUnsupported = errors.New("clipboard unsupported on this system")

// Clipboard loads canary configs from, and copies them to, the clipboard.
type Clipboard struct {
	io      ClipboardIO
	onError ErrorHandler
}

// NewClipboard wraps io, or the system clipboard when io is nil.
func NewClipboard(io ClipboardIO, onError ErrorHandler) *Clipboard {
	if io == nil {
		io = systemClipboard{}
	}
	if onError == nil {
		onError = LogErrors
	}
	return &Clipboard{io: io, onError: onError}
}

// Load reads the clipboard in the background. The channel yields exactly one
// value: the parsed document, or nil when reading or parsing failed (the
// failure goes to the error handler) or ctx ended first.
func (c *Clipboard) Load(ctx context.Context) <-chan *canary.Config {
	out := make(chan *canary.Config, 1)
	go func() {
		defer close(out)
		type result struct {
			text string
			err  error
		}
		read := make(chan result, 1)
		go func() {
			text, err := c.read()
			read <- result{text: text, err: err}
		}()
		select {
		case <-ctx.Done():
			c.onError(&LoadError{Source: "clipboard", Err: ctx.Err()})
			out <- nil
		case r := <-read:
			if r.err != nil {
				c.onError(&LoadError{Source: "clipboard", Err: r.err})
				out <- nil
				return
			}
			cfg, err := parse("clipboard", []byte(r.text))
			if err != nil {
				c.onError(err)
				out <- nil
				return
			}
			out <- cfg
		}
	}()
	return out
}

// Copy writes the pretty JSON of cfg to the clipboard.
func (c *Clipboard) Copy(cfg canary.Config) error {
	data, err := Pretty(cfg)
	if err != nil {
		return err
	}
	if _, ok := c.io.(systemClipboard); ok && clipboard.Unsupported {
		return ErrClipboardUnsupported
	}
	return c.io.WriteAll(string(data))
}

func (c *Clipboard) read() (string, error) {
	if _, ok := c.io.(systemClipboard); ok && clipboard.Unsupported {
		return "", ErrClipboardUnsupported
	}
	text, err := c.io.ReadAll()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}
