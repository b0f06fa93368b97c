package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSMTPClient struct {
	mailFrom string
	rcpts    []string
	data     bytes.Buffer
	quit     bool
}

func (f *fakeSMTPClient) Mail(from string) error { f.mailFrom = from; return nil }
func (f *fakeSMTPClient) Rcpt(to string) error   { f.rcpts = append(f.rcpts, to); return nil }
func (f *fakeSMTPClient) Data() (io.WriteCloser, error) {
	return nopWriteCloser{&f.data}, nil
}
func (f *fakeSMTPClient) Quit() error                    { f.quit = true; return nil }
func (f *fakeSMTPClient) Close() error                   { return nil }
func (f *fakeSMTPClient) StartTLS(*tls.Config) error     { return nil }
func (f *fakeSMTPClient) Auth(smtp.Auth) error           { return nil }
func (f *fakeSMTPClient) Extension(string) (bool, string) { return false, "" }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newTestMailer(client *fakeSMTPClient, cfg SMTPSettings) Mailer {
	return &smtpMailer{
		cfg: cfg,
		dialFn: func(ctx context.Context, cfg SMTPSettings) (net.Conn, smtpClient, error) {
			server, _ := net.Pipe()
			return server, client, nil
		},
		authFn: func(smtpClient, SMTPSettings) error { return nil },
	}
}

func TestSendDisabledReturnsSentinel(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{To: []string{"user@example.com"}})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestSendWritesHTMLMessage(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestMailer(client, SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "warden@example.com",
	})

	err := mailer.Send(context.Background(), Message{
		To:      []string{"user@example.com", "user@example.com"},
		Subject: "Confirm your account",
		HTML:    "<p>Welcome aboard</p>",
	})
	require.NoError(t, err)

	require.Equal(t, "warden@example.com", client.mailFrom)
	require.Equal(t, []string{"user@example.com"}, client.rcpts)
	require.True(t, client.quit)

	body := client.data.String()
	require.Contains(t, body, "Content-Type: text/html")
	require.Contains(t, body, "<p>Welcome aboard</p>")
	require.Contains(t, body, "Subject: Confirm your account")
}

func TestSendRejectsInvalidAddresses(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newTestMailer(client, SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "warden@example.com",
	})

	err := mailer.Send(context.Background(), Message{To: []string{"not-an-address"}})
	require.Error(t, err)

	err = mailer.Send(context.Background(), Message{To: nil})
	require.Error(t, err)
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.Error(t, err)

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.Error(t, err)

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 25})
	require.NoError(t, err)
}

func TestEscapeHeaderStripsNewlines(t *testing.T) {
	require.Equal(t, "a b c", escapeHeader("a\rb\nc"))
}
