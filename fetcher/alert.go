package fetcher

import (
	"fmt"
	"time"

	"github.com/fatih/color"
)

// AlertLevel tags operator-visible signals.
type AlertLevel int

const (
	AlertInfo AlertLevel = iota
	AlertWarning
	AlertError
)

func (l AlertLevel) String() string {
	switch l {
	case AlertInfo:
		return "INFO"
	case AlertWarning:
		return "WARNING"
	case AlertError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Alert is one operator-visible signal emitted by the ingestor.
type Alert struct {
	Level   AlertLevel
	Message string
	Time    time.Time
}

// Notifier receives alerts. Implementations must not block the ingestor.
type Notifier interface {
	Notify(alert Alert)
}

// ConsoleNotifier writes level-colored alerts to stdout.
type ConsoleNotifier struct {
	info  *color.Color
	warn  *color.Color
	error *color.Color
}

func NewConsoleNotifier() *ConsoleNotifier {
	return &ConsoleNotifier{
		info:  color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		error: color.New(color.FgRed, color.Bold),
	}
}

func (n *ConsoleNotifier) Notify(alert Alert) {
	line := fmt.Sprintf("[%s] %s %s", alert.Level, alert.Time.Format(time.RFC3339), alert.Message)
	switch alert.Level {
	case AlertWarning:
		n.warn.Println(line)
	case AlertError:
		n.error.Println(line)
	default:
		n.info.Println(line)
	}
}

// ChannelNotifier forwards alerts to a channel, dropping on overflow so a
// slow consumer cannot stall the loop.
type ChannelNotifier struct {
	C chan Alert
}

func NewChannelNotifier(size int) *ChannelNotifier {
	return &ChannelNotifier{C: make(chan Alert, size)}
}

func (n *ChannelNotifier) Notify(alert Alert) {
	select {
	case n.C <- alert:
	default:
	}
}

// notify is the nil-safe emission helper used across the loop.
func notify(n Notifier, level AlertLevel, format string, args ...interface{}) {
	if n == nil {
		return
	}
	n.Notify(Alert{Level: level, Message: fmt.Sprintf(format, args...), Time: time.Now()})
}
