package notification

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/otpmail/otpmail/internal/logging"
)

type recordedMail struct {
	to  string
	msg string
}

func newTestNotifier(t *testing.T, retries uint64, failures ...error) (*SMTPNotifier, *[]recordedMail) {
	t.Helper()
	n, err := NewSMTPNotifier(SMTPConfig{
		Host:       "smtp.example.com",
		Port:       587,
		Username:   "noreply@example.com",
		Password:   "secret",
		MaxRetries: retries,
	}, logging.Discard())
	require.NoError(t, err)
	n.baseDelay = time.Millisecond

	var sent []recordedMail
	n.send = func(_ context.Context, to string, msg []byte) error {
		if len(failures) > 0 {
			err := failures[0]
			failures = failures[1:]
			return err
		}
		sent = append(sent, recordedMail{to: to, msg: string(msg)})
		return nil
	}
	return n, &sent
}

func otpMessage() Message {
	return Message{
		Kind:        KindOTP,
		Destination: "ada@example.com",
		Subject:     "Your OTP Code",
		Body:        "Your OTP code is 123456. It is valid for 10 minutes.",
	}
}

func TestNewSMTPNotifierValidation(t *testing.T) {
	_, err := NewSMTPNotifier(SMTPConfig{Port: 587, From: "a@example.com"}, logging.Discard())
	require.ErrorIs(t, err, ErrSMTPHostPortRequired)

	_, err = NewSMTPNotifier(SMTPConfig{Host: "smtp.example.com", Port: 587}, logging.Discard())
	require.ErrorIs(t, err, ErrSMTPNoSender)
}

func TestSMTPNotifierSend(t *testing.T) {
	n, sent := newTestNotifier(t, 0)

	require.NoError(t, n.Send(context.Background(), otpMessage()))
	require.Len(t, *sent, 1)

	require.Equal(t, "smtp.example.com:587", n.addr)
	require.Equal(t, "noreply@example.com", n.from)

	mail := (*sent)[0]
	require.Equal(t, "ada@example.com", mail.to)
	require.Contains(t, mail.msg, "Subject: Your OTP Code\r\n")
	require.True(t, strings.HasSuffix(mail.msg, "\r\n\r\nYour OTP code is 123456. It is valid for 10 minutes."))
}

func TestSMTPNotifierRetriesTransientFailures(t *testing.T) {
	n, sent := newTestNotifier(t, 2, errors.New("connection reset"), &textproto.Error{Code: 421, Msg: "try later"})

	require.NoError(t, n.Send(context.Background(), otpMessage()))
	require.Len(t, *sent, 1)
}

func TestSMTPNotifierGivesUp(t *testing.T) {
	n, sent := newTestNotifier(t, 1, errors.New("dial"), errors.New("dial"), errors.New("dial"))

	err := n.Send(context.Background(), otpMessage())
	require.Error(t, err)
	require.Empty(t, *sent)
}

func TestSMTPNotifierPermanentFailure(t *testing.T) {
	rejected := &textproto.Error{Code: 550, Msg: "mailbox unavailable"}
	n, sent := newTestNotifier(t, 3, rejected)

	err := n.Send(context.Background(), otpMessage())
	require.ErrorIs(t, err, rejected)
	require.Empty(t, *sent)
}

func TestNotifiersRequireDestination(t *testing.T) {
	n, _ := newTestNotifier(t, 0)
	require.ErrorIs(t, n.Send(context.Background(), Message{Kind: KindOTP}), ErrNoDestination)
	require.ErrorIs(t, NewLoggerNotifier(logging.Discard()).Send(context.Background(), Message{}), ErrNoDestination)
}

// smtpServer answers one plaintext SMTP session and reports the transcript.
func smtpServer(t *testing.T) (string, <-chan []string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	out := make(chan []string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		var transcript []string
		_ = tp.PrintfLine("220 localhost ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				_ = tp.PrintfLine("250 localhost")
			case strings.HasPrefix(cmd, "MAIL FROM:"), strings.HasPrefix(cmd, "RCPT TO:"):
				transcript = append(transcript, line)
				_ = tp.PrintfLine("250 OK")
			case cmd == "DATA":
				_ = tp.PrintfLine("354 go ahead")
				body, err := tp.ReadDotBytes()
				if err != nil {
					return
				}
				transcript = append(transcript, string(body))
				_ = tp.PrintfLine("250 queued")
			case cmd == "QUIT":
				_ = tp.PrintfLine("221 bye")
				out <- transcript
				return
			default:
				_ = tp.PrintfLine("502 unsupported")
			}
		}
	}()
	return ln.Addr().String(), out
}

// silentServer accepts connections and never says anything.
func silentServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	held := make(chan net.Conn, 16)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			held <- conn
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		for {
			select {
			case conn := <-held:
				conn.Close()
			default:
				return
			}
		}
	})
	return ln.Addr().String()
}

func notifierFor(t *testing.T, addr string, timeout time.Duration, retries uint64) *SMTPNotifier {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	n, err := NewSMTPNotifier(SMTPConfig{
		Host:       host,
		Port:       port,
		From:       "noreply@example.com",
		MaxRetries: retries,
		Timeout:    timeout,
	}, logging.Discard())
	require.NoError(t, err)
	n.baseDelay = time.Millisecond
	return n
}

func TestSMTPNotifierDeliversOverSMTP(t *testing.T) {
	addr, transcripts := smtpServer(t)
	n := notifierFor(t, addr, 5*time.Second, 0)

	require.NoError(t, n.Send(context.Background(), otpMessage()))

	select {
	case transcript := <-transcripts:
		require.Len(t, transcript, 3)
		require.Equal(t, "MAIL FROM:<noreply@example.com>", transcript[0])
		require.Equal(t, "RCPT TO:<ada@example.com>", transcript[1])
		require.Contains(t, transcript[2], "Subject: Your OTP Code")
		require.Contains(t, transcript[2], "Your OTP code is 123456. It is valid for 10 minutes.")
	case <-time.After(5 * time.Second):
		t.Fatal("server saw no complete session")
	}
}

func TestSMTPNotifierStopsAtContextDeadline(t *testing.T) {
	n := notifierFor(t, silentServer(t), time.Minute, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := n.Send(ctx, otpMessage())
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestSMTPNotifierAttemptTimeout(t *testing.T) {
	n := notifierFor(t, silentServer(t), 100*time.Millisecond, 0)

	start := time.Now()
	err := n.Send(context.Background(), otpMessage())
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestSMTPNotifierRejectsHeaderInjection(t *testing.T) {
	addr, _ := smtpServer(t)
	n := notifierFor(t, addr, time.Second, 3)

	msg := otpMessage()
	msg.Destination = "ada@example.com\r\nBcc: eve@example.com"
	require.ErrorIs(t, n.Send(context.Background(), msg), errLineBreak)
}
