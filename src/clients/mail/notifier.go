package mail

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/gomail.v2"

	"reportserver/src/config"
	"reportserver/src/scheduler"
	"reportserver/src/utils"
	"reportserver/src/utils/render"
)

const deliveryTemplate = "report_delivery.html"

// Notifier delivers reports over SMTP. All recipients are addressed in one
// message, so a delivery either reaches the relay as a whole or fails.
type Notifier struct {
	From   string
	Sender gomail.Sender
	dialer *gomail.Dialer
}

// NewNotifier dials the configured relay for every delivery. password
// overrides cfg.Password when it was resolved from a secret store.
func NewNotifier(cfg config.MailConfig, password string) *Notifier {
	if password == "" {
		password = cfg.Password
	}
	return &Notifier{
		From:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, password),
	}
}

func (n *Notifier) Notify(ctx context.Context, delivery scheduler.Delivery) error {
	if len(delivery.Recipients) == 0 {
		return fmt.Errorf("mail: no recipients")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := n.buildMessage(delivery)
	if err != nil {
		return err
	}

	if n.Sender != nil {
		err = gomail.Send(n.Sender, msg)
	} else {
		err = n.dialer.DialAndSend(msg)
	}
	if err != nil {
		return fmt.Errorf("mail: sending %s: %w", delivery.Filename, err)
	}

	utils.LoggerFromContext(ctx).
		WithField("recipients", len(delivery.Recipients)).
		WithField("file", delivery.Filename).
		Info("Report mailed")
	return nil
}

func (n *Notifier) buildMessage(delivery scheduler.Delivery) (*gomail.Message, error) {
	body, err := render.RenderHTML(deliveryTemplate, map[string]string{
		"ReportName":    delivery.ReportName,
		"TenantName":    delivery.TenantName,
		"DataSource":    delivery.DataSource,
		"GeneratedAt":   delivery.GeneratedAt.UTC().Format(utils.ReportTimestampLayout),
		"FilterSummary": delivery.FilterSummary,
		"Filename":      delivery.Filename,
	})
	if err != nil {
		return nil, fmt.Errorf("mail: rendering body: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", n.From)
	msg.SetHeader("To", delivery.Recipients...)
	msg.SetHeader("Subject", fmt.Sprintf("%s - %s", delivery.ReportName, delivery.TenantName))
	msg.SetBody("text/html", body)
	msg.Attach(delivery.Filename,
		gomail.SetHeader(map[string][]string{"Content-Type": {utils.XLSXContentType}}),
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(delivery.Content)
			return err
		}),
	)
	return msg, nil
}
