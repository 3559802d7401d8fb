package mail

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSMTPClient struct {
	mailFrom string
	rcptTo   string
	body     strings.Builder
	quit     bool
}

func (f *fakeSMTPClient) Mail(from string) error { f.mailFrom = from; return nil }
func (f *fakeSMTPClient) Rcpt(to string) error   { f.rcptTo = to; return nil }
func (f *fakeSMTPClient) Data() (io.WriteCloser, error) {
	return nopWriteCloser{&f.body}, nil
}
func (f *fakeSMTPClient) Quit() error                     { f.quit = true; return nil }
func (f *fakeSMTPClient) Close() error                    { return nil }
func (f *fakeSMTPClient) StartTLS(*tls.Config) error      { return nil }
func (f *fakeSMTPClient) Auth(smtp.Auth) error            { return nil }
func (f *fakeSMTPClient) Extension(string) (bool, string) { return false, "" }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func newTestMailer(t *testing.T, cfg SMTPSettings, client *fakeSMTPClient) Mailer {
	t.Helper()

	m, err := NewSMTPMailer(cfg)
	require.NoError(t, err)

	impl := m.(*smtpMailer)
	impl.dialFn = func(ctx context.Context, cfg SMTPSettings) (net.Conn, smtpClient, error) {
		server, conn := net.Pipe()
		_ = server.Close()
		return conn, client, nil
	}
	impl.authFn = func(smtpClient, SMTPSettings) error { return nil }
	return impl
}

func TestSendDisabled(t *testing.T) {
	m, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = m.Send(context.Background(), Message{To: "a@example.com"})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestSendWritesMessage(t *testing.T) {
	client := &fakeSMTPClient{}
	m := newTestMailer(t, SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "noreply@example.com",
	}, client)

	err := m.Send(context.Background(), Message{
		To:      "alice@example.com",
		Subject: "Verification Code",
		Body:    "your code is 123456",
	})
	require.NoError(t, err)

	require.Equal(t, "noreply@example.com", client.mailFrom)
	require.Equal(t, "alice@example.com", client.rcptTo)
	require.Contains(t, client.body.String(), "Subject: Verification Code")
	require.Contains(t, client.body.String(), "your code is 123456")
	require.True(t, client.quit)
}

func TestSendRejectsInvalidAddresses(t *testing.T) {
	client := &fakeSMTPClient{}
	m := newTestMailer(t, SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "noreply@example.com",
	}, client)

	err := m.Send(context.Background(), Message{To: "not-an-address"})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSMTPDisabled)
}

func TestSendEscapesHeaderInjection(t *testing.T) {
	client := &fakeSMTPClient{}
	m := newTestMailer(t, SMTPSettings{
		Enabled: true,
		Host:    "smtp.example.com",
		Port:    587,
		From:    "noreply@example.com",
	}, client)

	err := m.Send(context.Background(), Message{
		To:      "alice@example.com",
		Subject: "hi\r\nBcc: eve@example.com",
		Body:    "body",
	})
	require.NoError(t, err)
	require.NotContains(t, client.body.String(), "Bcc: eve@example.com")
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.Error(t, err)

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.Error(t, err)
}
