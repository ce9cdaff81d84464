package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/hearth/pkg/logger"
	"github.com/charlesng35/hearth/pkg/mail"
	"github.com/charlesng35/hearth/pkg/metrics"
)

const defaultNotificationTimeout = 10 * time.Second

// Notification kinds used as metric labels.
const (
	NotificationVerification  = "email_verification"
	NotificationPasswordReset = "password_reset"
)

// Notifier delivers account emails carrying raw tokens.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, email, token string) error
	SendPasswordResetEmail(ctx context.Context, email, token string) error
}

// MailNotifier renders plain-text account emails and sends them through a Mailer.
type MailNotifier struct {
	mailer  mail.Mailer
	baseURL string
}

// NewMailNotifier constructs a MailNotifier. baseURL is the public web origin
// that hosts the verification and reset pages.
func NewMailNotifier(mailer mail.Mailer, baseURL string) (*MailNotifier, error) {
	if mailer == nil {
		return nil, errors.New("mail notifier: mailer is required")
	}
	return &MailNotifier{mailer: mailer, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// SendVerificationEmail sends the email-confirmation link.
func (n *MailNotifier) SendVerificationEmail(ctx context.Context, email, token string) error {
	link := n.link("/verify-email", token)
	return n.mailer.Send(ctx, mail.Message{
		To:      []string{email},
		Subject: "Confirm your Hearth account",
		Body: fmt.Sprintf("Welcome to Hearth!\n\nPlease confirm your email address by visiting the link below:\n%s\n\n"+
			"If you did not create an account, you can ignore this message.\n", link),
	})
}

// SendPasswordResetEmail sends the password-reset link.
func (n *MailNotifier) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	link := n.link("/reset-password", token)
	return n.mailer.Send(ctx, mail.Message{
		To:      []string{email},
		Subject: "Reset your Hearth password",
		Body: fmt.Sprintf("Someone asked to reset the password for this account.\n\nUse the link below within the next hour:\n%s\n\n"+
			"If this wasn't you, no action is needed.\n", link),
	})
}

func (n *MailNotifier) link(path, token string) string {
	if n.baseURL == "" {
		return token
	}
	return n.baseURL + path + "?token=" + url.QueryEscape(token)
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchTimeout bounds each delivery attempt.
func WithDispatchTimeout(d time.Duration) DispatcherOption {
	return func(dp *Dispatcher) {
		if d > 0 {
			dp.timeout = d
		}
	}
}

// WithDispatchLogger overrides the module logger.
func WithDispatchLogger(log *zap.Logger) DispatcherOption {
	return func(dp *Dispatcher) {
		if log != nil {
			dp.log = log
		}
	}
}

// Dispatcher sends notifications in the background so callers never block on
// delivery. Failures are logged and counted, never returned.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      *zap.Logger
	wg       sync.WaitGroup
}

// NewDispatcher wraps notifier. A nil notifier yields a dispatcher that drops every message.
func NewDispatcher(notifier Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifier: notifier,
		timeout:  defaultNotificationTimeout,
		log:      logger.WithModule("notifications"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Timeout reports the per-delivery bound.
func (d *Dispatcher) Timeout() time.Duration {
	return d.timeout
}

// VerificationEmail queues an email-verification message.
func (d *Dispatcher) VerificationEmail(email, token string) {
	d.dispatch(NotificationVerification, email, func(ctx context.Context, n Notifier) error {
		return n.SendVerificationEmail(ctx, email, token)
	})
}

// PasswordResetEmail queues a password-reset message.
func (d *Dispatcher) PasswordResetEmail(email, token string) {
	d.dispatch(NotificationPasswordReset, email, func(ctx context.Context, n Notifier) error {
		return n.SendPasswordResetEmail(ctx, email, token)
	})
}

// Wait blocks until every queued delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(kind, email string, send func(context.Context, Notifier) error) {
	if d == nil || d.notifier == nil {
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				metrics.Notifications.WithLabelValues(kind, "failure").Inc()
				d.log.Error("notification panicked", zap.String("kind", kind), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		err := send(ctx, d.notifier)
		switch {
		case err == nil:
			metrics.Notifications.WithLabelValues(kind, "success").Inc()
		case errors.Is(err, mail.ErrSMTPDisabled):
			metrics.Notifications.WithLabelValues(kind, "disabled").Inc()
			d.log.Debug("smtp disabled, notification dropped", zap.String("kind", kind))
		default:
			metrics.Notifications.WithLabelValues(kind, "failure").Inc()
			d.log.Warn("notification delivery failed",
				zap.String("kind", kind),
				zap.String("email", email),
				zap.Error(err),
			)
		}
	}()
}
