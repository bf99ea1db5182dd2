package notifier

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"sort"
	"strings"

	"github.com/aweist/lab-booking/models"
)

// SendFunc has the signature of smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type EmailNotifier struct {
	smtpHost   string
	smtpPort   string
	username   string
	password   string
	from       string
	recipients []string
	appURL     string
	send       SendFunc
}

type EmailConfig struct {
	SMTPHost   string
	SMTPPort   string
	Username   string
	Password   string
	From       string
	Recipients []string
	// AppURL is linked from the message so the team can file its report.
	AppURL string
	// Send defaults to smtp.SendMail.
	Send SendFunc
}

func NewEmailNotifier(config EmailConfig) *EmailNotifier {
	e := &EmailNotifier{
		smtpHost:   config.SMTPHost,
		smtpPort:   config.SMTPPort,
		username:   config.Username,
		password:   config.Password,
		from:       config.From,
		recipients: config.Recipients,
		appURL:     config.AppURL,
		send:       config.Send,
	}
	if e.send == nil {
		e.send = smtp.SendMail
	}
	return e
}

func (e *EmailNotifier) GetType() string {
	return "email"
}

func (e *EmailNotifier) NotifyOverdue(r models.Reservation) error {
	if len(e.recipients) == 0 {
		return errors.New("no email recipients configured")
	}

	subject := fmt.Sprintf("Usage report overdue: %s %s", r.Team, r.Date)
	body, err := e.buildEmailBody(r)
	if err != nil {
		return fmt.Errorf("building email body: %w", err)
	}

	message := e.buildMessage(subject, body)

	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.smtpHost)
	}
	addr := fmt.Sprintf("%s:%s", e.smtpHost, e.smtpPort)

	if err := e.send(addr, auth, e.from, e.recipients, []byte(message)); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}

func (e *EmailNotifier) buildMessage(subject, body string) string {
	headers := map[string]string{
		"From":         fmt.Sprintf("Lab Booking <%s>", e.from),
		"To":           strings.Join(e.recipients, ", "),
		"Subject":      mime.QEncoding.Encode("utf-8", subject),
		"MIME-Version": "1.0",
		"Content-Type": "text/html; charset=UTF-8",
	}

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var message strings.Builder
	for _, k := range keys {
		message.WriteString(fmt.Sprintf("%s: %s\r\n", k, headers[k]))
	}
	message.WriteString("\r\n")
	message.WriteString(body)

	return message.String()
}

var emailTemplate = template.Must(template.New("overdue").Parse(`
<!DOCTYPE html>
<html>
<head>
    <style>
        body {
            font-family: Arial, sans-serif;
            line-height: 1.6;
            color: #333;
        }
        .container {
            max-width: 600px;
            margin: 0 auto;
            padding: 20px;
            background-color: #f4f4f4;
        }
        .header {
            background-color: #b45309;
            color: white;
            padding: 20px;
            text-align: center;
            border-radius: 5px 5px 0 0;
        }
        .content {
            background-color: white;
            padding: 30px;
            border-radius: 0 0 5px 5px;
        }
        .details {
            background-color: #fef3c7;
            padding: 15px;
            border-radius: 5px;
            margin: 20px 0;
        }
        .label {
            font-weight: bold;
            display: inline-block;
            width: 100px;
        }
        .footer {
            text-align: center;
            margin-top: 20px;
            font-size: 12px;
            color: #7f8c8d;
        }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Usage report overdue</h1>
        </div>
        <div class="content">
            <p>The following reservation has ended but no usage report has been filed.</p>
            <div class="details">
                <div><span class="label">Team:</span> {{.Team}}</div>
                <div><span class="label">Date:</span> {{.Date}}</div>
                <div><span class="label">Time:</span> {{.Time}}</div>
                <div><span class="label">Status:</span> {{.Status}}</div>
            </div>
            {{if .AppURL}}<p><a href="{{.AppURL}}" target="_blank">File the report</a></p>{{end}}
            <div class="footer">
                <p>This is an automated notification from Lab Booking</p>
            </div>
        </div>
    </div>
</body>
</html>
`))

func (e *EmailNotifier) buildEmailBody(r models.Reservation) (string, error) {
	slot := "all day"
	if r.StartTime != "" && r.EndTime != "" {
		slot = r.StartTime + " - " + r.EndTime
	}

	data := struct {
		Team   string
		Date   string
		Time   string
		Status string
		AppURL string
	}{
		Team:   r.Team,
		Date:   r.Date,
		Time:   slot,
		Status: string(r.Status),
		AppURL: e.appURL,
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}
