package alert

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"unicode/utf8"

	"github.com/matheus3301/portalchat/internal/thread"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrUnavailable is returned by sinks that cannot run on this host.
var ErrUnavailable = errors.New("alert sink unavailable")

// Permission is the desktop notification grant.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Desktop shows a desktop notification.
type Desktop interface {
	Notify(title, body string) error
}

// Requester asks for notification permission. It is called at most once
// per Alerter, the first time a notification is due.
type Requester interface {
	Request() (Permission, error)
}

// Chime plays a short audible cue.
type Chime interface {
	Play() error
}

// Focus describes what the user is currently looking at.
type Focus struct {
	Partner string
	Visible bool
}

// Sees reports whether a message from partner would land in plain view.
func (f Focus) Sees(partner string) bool {
	return f.Visible && f.Partner != "" && thread.Same(f.Partner, partner)
}

// Bell writes the terminal bell character.
type Bell struct {
	W io.Writer
}

func (b Bell) Play() error {
	if b.W == nil {
		return ErrUnavailable
	}
	_, err := b.W.Write([]byte{'\a'})
	return err
}

// Command delivers notifications through an external program such as
// notify-send, called as `<name> <title> <body>`.
type Command struct {
	Name string
}

func (c Command) Notify(title, body string) error {
	path, err := exec.LookPath(c.Name)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if out, err := exec.Command(path, title, body).CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", c.Name, err, out)
	}
	return nil
}

// Request grants permission when the program is installed.
func (c Command) Request() (Permission, error) {
	if _, err := exec.LookPath(c.Name); err != nil {
		return PermissionDenied, nil
	}
	return PermissionGranted, nil
}

// Log writes notifications to the logger. It always has permission.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(title, body string) error {
	l.Logger.Info("notification", zap.String("title", title), zap.String("body", body))
	return nil
}

func (Log) Request() (Permission, error) { return PermissionGranted, nil }

// Options configures an Alerter.
type Options struct {
	Desktop   Desktop
	Requester Requester
	Chime     Chime
	// PerMinute caps alerts per minute; zero or less disables the cap.
	PerMinute int
	// Name maps an identifier to a display name for the notification title.
	Name func(id string) string
}

// Alerter fires best-effort notifications for inbound messages.
type Alerter struct {
	opts    Options
	limiter *rate.Limiter
	logger  *zap.Logger

	mu         sync.Mutex
	permission Permission
}

// New creates an alerter. Sinks left nil are skipped.
func New(opts Options, logger *zap.Logger) *Alerter {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit, burst := rate.Inf, 1
	if opts.PerMinute > 0 {
		limit = rate.Limit(float64(opts.PerMinute) / 60.0)
		burst = max(1, min(opts.PerMinute, 3))
	}
	perm := PermissionDefault
	if opts.Requester == nil {
		perm = PermissionGranted
	}
	return &Alerter{
		opts:       opts,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
		permission: perm,
	}
}

// Permission returns the current notification permission.
func (a *Alerter) Permission() Permission {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.permission
}

// OnMessage alerts me about m unless m is not addressed to me or the thread
// with its sender is in view. It reports whether an alert was attempted.
// Sink failures and panics are logged and never propagate.
func (a *Alerter) OnMessage(me string, m thread.Message, focus Focus) bool {
	if !m.IsFor(me) || m.IsFrom(me) || focus.Sees(m.From) {
		return false
	}
	if !a.limiter.Allow() {
		a.logger.Debug("alert throttled", zap.String("id", m.ID))
		return false
	}

	title := m.From
	if a.opts.Name != nil {
		if n := a.opts.Name(m.From); n != "" {
			title = n
		}
	}
	body := preview(m)

	if a.opts.Desktop != nil && a.ensurePermission() == PermissionGranted {
		a.safely("desktop", func() error { return a.opts.Desktop.Notify(title, body) })
	}
	if a.opts.Chime != nil {
		a.safely("chime", a.opts.Chime.Play)
	}
	return true
}

func (a *Alerter) ensurePermission() Permission {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.permission != PermissionDefault {
		return a.permission
	}
	perm := PermissionDenied
	a.safely("permission", func() error {
		p, err := a.opts.Requester.Request()
		if err != nil {
			return err
		}
		perm = p
		return nil
	})
	if perm == PermissionDefault {
		// Dismissed without an answer; ask again next time.
		return perm
	}
	a.permission = perm
	return perm
}

func (a *Alerter) safely(sink string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Warn("alert sink panicked", zap.String("sink", sink), zap.Any("panic", r))
		}
	}()
	if err := fn(); err != nil {
		a.logger.Debug("alert sink failed", zap.String("sink", sink), zap.Error(err))
	}
}

const previewLen = 80

func preview(m thread.Message) string {
	text := m.Text
	if text == "" && m.AttachmentName != "" {
		return "Attachment: " + m.AttachmentName
	}
	if utf8.RuneCountInString(text) <= previewLen {
		return text
	}
	r := []rune(text)
	return string(r[:previewLen-1]) + "…"
}
