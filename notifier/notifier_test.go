package notifier

import (
	"bytes"
	"errors"
	"mime"
	"net/smtp"
	"strings"
	"testing"

	"github.com/aweist/lab-booking/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var overdue = models.Reservation{
	ID:        "r1",
	Date:      "2024-10-15",
	StartTime: "10:00",
	EndTime:   "12:00",
	Team:      "第一研究班 <A&B>",
	Status:    models.StatusInUse,
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifierWith(zerolog.New(&buf))

	require.NoError(t, n.NotifyOverdue(overdue))
	assert.Equal(t, "log", n.GetType())
	assert.Contains(t, buf.String(), `"reservation_id":"r1"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestEmailNotifier(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	n := NewEmailNotifier(EmailConfig{
		SMTPHost:   "smtp.example.org",
		SMTPPort:   "587",
		Username:   "bot",
		Password:   "secret",
		From:       "bot@example.org",
		Recipients: []string{"lab@example.org", "pi@example.org"},
		AppURL:     "https://booking.example.org",
		Send: func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
			gotAddr, gotTo, gotMsg = addr, to, string(msg)
			return nil
		},
	})

	require.NoError(t, n.NotifyOverdue(overdue))
	assert.Equal(t, "email", n.GetType())
	assert.Equal(t, "smtp.example.org:587", gotAddr)
	assert.Equal(t, []string{"lab@example.org", "pi@example.org"}, gotTo)

	head, body, ok := strings.Cut(gotMsg, "\r\n\r\n")
	require.True(t, ok)
	assert.Equal(t, "Usage report overdue: 第一研究班 <A&B> 2024-10-15", subjectOf(t, head))
	assert.Contains(t, head, "To: lab@example.org, pi@example.org\r\n")
	assert.Contains(t, body, "10:00 - 12:00")
	assert.Contains(t, body, "第一研究班 &lt;A&amp;B&gt;")
	assert.Contains(t, body, `href="https://booking.example.org"`)
}

func subjectOf(t *testing.T, head string) string {
	t.Helper()
	for _, line := range strings.Split(head, "\r\n") {
		if value, ok := strings.CutPrefix(line, "Subject: "); ok {
			decoded, err := new(mime.WordDecoder).DecodeHeader(value)
			require.NoError(t, err)
			return decoded
		}
	}
	t.Fatalf("no Subject header in %q", head)
	return ""
}

func TestEmailNotifier_HeaderInjection(t *testing.T) {
	var gotMsg string
	n := NewEmailNotifier(EmailConfig{
		From:       "bot@example.org",
		Recipients: []string{"lab@example.org"},
		Send: func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
			gotMsg = string(msg)
			return nil
		},
	})

	evil := overdue
	evil.Team = "Evil\r\nBcc: attacker@example.com"
	require.NoError(t, n.NotifyOverdue(evil))

	head, _, ok := strings.Cut(gotMsg, "\r\n\r\n")
	require.True(t, ok)
	for _, line := range strings.Split(head, "\r\n") {
		assert.False(t, strings.HasPrefix(line, "Bcc:"), "header line %q", line)
	}
	assert.Equal(t, "Usage report overdue: Evil\r\nBcc: attacker@example.com 2024-10-15", subjectOf(t, head))
}

func TestEmailNotifier_Errors(t *testing.T) {
	n := NewEmailNotifier(EmailConfig{})
	assert.Error(t, n.NotifyOverdue(overdue))

	failing := NewEmailNotifier(EmailConfig{
		Recipients: []string{"lab@example.org"},
		Send: func(string, smtp.Auth, string, []string, []byte) error {
			return errors.New("connection refused")
		},
	})
	err := failing.NotifyOverdue(overdue)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sending email")
}
