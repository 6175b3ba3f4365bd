//go:build !(android || ios)

package gui

import (
	"fmt"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	log "github.com/sirupsen/logrus"
)

type LogEvent struct {
	Time    time.Time
	Level   log.Level
	Message string
}

// LogPane mirrors logrus entries into a read-only text area.
type LogPane struct {
	events    chan LogEvent
	logView   *widget.Entry
	scroll    *container.Scroll
	container fyne.CanvasObject
	maxLines  int
	lines     []string
}

func NewLogPane(maxLines int) *LogPane {
	p := &LogPane{
		events:   make(chan LogEvent, 1000),
		maxLines: maxLines,
		lines:    make([]string, 0, maxLines),
	}

	p.logView = widget.NewMultiLineEntry()
	p.logView.Disable()
	p.logView.TextStyle = fyne.TextStyle{Monospace: true}

	p.scroll = container.NewScroll(p.logView)
	p.scroll.SetMinSize(fyne.NewSize(420, 220))

	p.container = widget.NewCard("Logs", "", p.scroll)

	go p.processEvents()
	log.AddHook(&logrusHook{pane: p})

	return p
}

func (p *LogPane) processEvents() {
	for event := range p.events {
		line := fmt.Sprintf("%s [%-5s] %s", event.Time.Format("15:04:05"), event.Level.String(), event.Message)

		p.lines = append(p.lines, line)
		if len(p.lines) > p.maxLines {
			p.lines = p.lines[1:]
		}

		text := strings.Join(p.lines, "\n")
		fyne.Do(func() {
			p.logView.SetText(text)
			p.scroll.ScrollToBottom()
		})
	}
}

// AddEvent never blocks; when the pane falls behind, entries are dropped.
func (p *LogPane) AddEvent(level log.Level, msg string) {
	select {
	case p.events <- LogEvent{Time: time.Now(), Level: level, Message: msg}:
	default:
	}
}

func (p *LogPane) GetContainer() fyne.CanvasObject {
	return p.container
}

type logrusHook struct {
	pane *LogPane
}

func (h *logrusHook) Levels() []log.Level {
	return []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel, log.WarnLevel, log.InfoLevel}
}

func (h *logrusHook) Fire(entry *log.Entry) error {
	msg := entry.Message
	if len(entry.Data) > 0 {
		msg = fmt.Sprintf("%s %v", msg, entry.Data)
	}
	h.pane.AddEvent(entry.Level, msg)
	return nil
}
