package notification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

const defaultSMTPTimeout = 10 * time.Second

var (
	ErrSMTPHostPortRequired = errors.New("smtp host and port are required")
	ErrSMTPNoSender         = errors.New("smtp sender is required")
	errLineBreak            = errors.New("smtp: address contains a line break")
	errNoAuth               = errors.New("smtp: server doesn't support AUTH")
)

// SMTPConfig configures the SMTP notifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From defaults to Username when empty.
	From       string
	MaxRetries uint64
	// Timeout bounds one attempt: dial, handshake and transfer. A deadline
	// on the Send context takes precedence when it is earlier.
	Timeout time.Duration
}

type sendMailFunc func(ctx context.Context, to string, msg []byte) error

// SMTPNotifier delivers messages as plain-text email. Transient failures are
// retried with capped exponential backoff; permanent 5xx replies are not.
type SMTPNotifier struct {
	host       string
	addr       string
	from       string
	auth       smtp.Auth
	maxRetries uint64
	baseDelay  time.Duration
	timeout    time.Duration
	send       sendMailFunc
	logger     *slog.Logger
}

func NewSMTPNotifier(cfg SMTPConfig, logger *slog.Logger) (*SMTPNotifier, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, ErrSMTPHostPortRequired
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	if from == "" {
		return nil, ErrSMTPNoSender
	}

	if logger == nil {
		logger = slog.Default()
	}

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}

	n := &SMTPNotifier{
		host:       cfg.Host,
		addr:       net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		from:       from,
		auth:       auth,
		maxRetries: cfg.MaxRetries,
		baseDelay:  200 * time.Millisecond,
		timeout:    timeout,
		logger:     logger,
	}
	n.send = n.sendMail
	return n, nil
}

func (n *SMTPNotifier) Send(ctx context.Context, message Message) error {
	if message.Destination == "" {
		return ErrNoDestination
	}
	raw := n.compose(message)

	b := retry.NewExponential(n.baseDelay)
	b = retry.WithCappedDuration(5*time.Second, b)
	b = retry.WithMaxRetries(n.maxRetries, b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := ctx.Err(); err != nil {
			return err
		}
		err := n.send(ctx, message.Destination, raw)
		if err == nil {
			return nil
		}
		if permanent(err) {
			return err
		}
		n.logger.WarnContext(ctx, "smtp send failed", "destination", message.Destination, "attempt", attempt, "error", err)
		return retry.RetryableError(err)
	})
	if err != nil {
		return fmt.Errorf("send %s email: %w", message.Kind, err)
	}
	return nil
}

// sendMail runs one SMTP transaction. The dial and every read and write
// share a single deadline, and cancelling ctx interrupts a blocked exchange.
func (n *SMTPNotifier) sendMail(ctx context.Context, to string, msg []byte) error {
	if strings.ContainsAny(n.from+to, "\r\n") {
		return errLineBreak
	}

	deadline := time.Now().Add(n.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", n.addr)
	if err != nil {
		return err
	}
	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	c, err := smtp.NewClient(conn, n.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: n.host}); err != nil {
			return err
		}
	}
	if n.auth != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errNoAuth
		}
		if err := c.Auth(n.auth); err != nil {
			return err
		}
	}
	if err := c.Mail(n.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (n *SMTPNotifier) compose(message Message) []byte {
	headers := []string{
		fmt.Sprintf("From: %s", n.from),
		fmt.Sprintf("To: %s", message.Destination),
		fmt.Sprintf("Subject: %s", message.Subject),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + message.Body)
}

// permanent reports whether another attempt cannot succeed.
func permanent(err error) bool {
	if errors.Is(err, errLineBreak) || errors.Is(err, errNoAuth) {
		return true
	}
	var tpErr *textproto.Error
	return errors.As(err, &tpErr) && tpErr.Code >= 500
}
