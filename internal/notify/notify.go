package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Notifier surfaces non-blocking, fire-and-forget messages to the user.
type Notifier interface {
	ShowSuccess(title, message string)
	ShowError(title string, err error)
}

// Level classifies a notification.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is a single recorded message.
type Notification struct {
	Level   Level
	Title   string
	Message string
	Err     error
	At      time.Time
}

// Recorder keeps notifications in memory so a caller can render or inspect
// them later.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// ShowSuccess implements Notifier.
func (r *Recorder) ShowSuccess(title, message string) {
	r.add(Notification{Level: LevelSuccess, Title: title, Message: message})
}

// ShowError implements Notifier.
func (r *Recorder) ShowError(title string, err error) {
	n := Notification{Level: LevelError, Title: title, Err: err}
	if err != nil {
		n.Message = err.Error()
	}
	r.add(n)
}

// All returns a copy of every recorded notification in arrival order.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Last returns the newest notification, if any.
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return Notification{}, false
	}
	return r.items[len(r.items)-1], true
}

// Drain returns and clears recorded notifications.
func (r *Recorder) Drain() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items
	r.items = nil
	return items
}

func (r *Recorder) add(n Notification) {
	n.At = time.Now()
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// LogNotifier writes notifications to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier wraps logger.
func NewLogNotifier(logger zerolog.Logger) LogNotifier {
	return LogNotifier{logger: logger}
}

// ShowSuccess implements Notifier.
func (n LogNotifier) ShowSuccess(title, message string) {
	n.logger.Info().Str("title", title).Msg(message)
}

// ShowError implements Notifier.
func (n LogNotifier) ShowError(title string, err error) {
	n.logger.Error().Err(err).Msg(title)
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

// ShowSuccess implements Notifier.
func (m Multi) ShowSuccess(title, message string) {
	for _, n := range m {
		n.ShowSuccess(title, message)
	}
}

// ShowError implements Notifier.
func (m Multi) ShowError(title string, err error) {
	for _, n := range m {
		n.ShowError(title, err)
	}
}
