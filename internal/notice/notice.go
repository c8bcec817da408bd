// Package notice delivers short user-facing messages about sync progress.
package notice

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/robinsync/internal/theme"
)

// Level classifies a notice.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notice is one user-facing message.
type Notice struct {
	Level   Level
	Message string
	Time    time.Time
}

// Notifier surfaces notices to the user.
type Notifier interface {
	Notify(level Level, msg string)
}

// Infof sends a formatted info notice.
func Infof(n Notifier, format string, args ...any) {
	n.Notify(LevelInfo, fmt.Sprintf(format, args...))
}

// Successf sends a formatted success notice.
func Successf(n Notifier, format string, args ...any) {
	n.Notify(LevelSuccess, fmt.Sprintf(format, args...))
}

// Errorf sends a formatted error notice.
func Errorf(n Notifier, format string, args ...any) {
	n.Notify(LevelError, fmt.Sprintf(format, args...))
}

// Console prints styled notices to a writer, one per line.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Notify implements Notifier.
func (c *Console) Notify(level Level, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, Style(level).Render(Prefix(level))+" "+msg)
}

// Prefix returns the marker printed before a notice.
func Prefix(level Level) string {
	switch level {
	case LevelSuccess:
		return "✓"
	case LevelError:
		return "✗"
	default:
		return "•"
	}
}

// Style returns the color style of a notice level.
func Style(level Level) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch level {
	case LevelSuccess:
		return base.Foreground(theme.ColorGreen)
	case LevelError:
		return base.Foreground(theme.ColorRed)
	default:
		return base.Foreground(theme.ColorBlue)
	}
}

// Channel forwards notices to a channel. Notify waits for buffer space so
// no notice is lost; Close releases pending and future writers once the
// reader is gone.
type Channel struct {
	ch     chan Notice
	done   chan struct{}
	closer sync.Once
}

// NewChannel returns a Channel with the given buffer size.
func NewChannel(size int) *Channel {
	return &Channel{ch: make(chan Notice, size), done: make(chan struct{})}
}

// Notify implements Notifier.
func (c *Channel) Notify(level Level, msg string) {
	n := Notice{Level: level, Message: msg, Time: time.Now()}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.ch <- n:
	case <-c.done:
	}
}

// Close stops delivery. Notices sent afterwards are discarded.
func (c *Channel) Close() {
	c.closer.Do(func() { close(c.done) })
}

// C returns the receive side of the channel.
func (c *Channel) C() <-chan Notice {
	return c.ch
}

// Recorder keeps every notice in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

// Notify implements Notifier.
func (r *Recorder) Notify(level Level, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, Notice{Level: level, Message: msg, Time: time.Now()})
}

// Notices returns a copy of the recorded notices.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Messages returns the recorded messages in order.
func (r *Recorder) Messages() []string {
	notices := r.Notices()
	out := make([]string, len(notices))
	for i, n := range notices {
		out[i] = n.Message
	}
	return out
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(level Level, msg string) {
	for _, n := range m {
		if n != nil {
			n.Notify(level, msg)
		}
	}
}

// Discard drops every notice.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(Level, string) {}
