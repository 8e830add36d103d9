package email

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"time"

	"homepro/internal/logger"
	"homepro/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	queueKey       = "emails"
	failedQueueKey = "emails:failed"
	maxTries       = 3
)

const (
	TypeCategoryAdded        = "category_added"
	TypeSubscriptionRenewed  = "subscription_renewed"
	TypePaymentFailed        = "payment_failed"
	TypeSubscriptionCanceled = "subscription_canceled"
	TypeWelcome              = "welcome"
)

type EmailJob struct {
	Type    string    `json:"type"`
	To      string    `json:"to"`
	Name    string    `json:"name"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Tries   int       `json:"tries"`
	Created time.Time `json:"created"`
}

type Config struct {
	From       string
	FromName   string
	SMTPHost   string
	SMTPPort   string
	SMTPUser   string
	SMTPPass   string
	RetryDelay time.Duration
}

type Service struct {
	redis *redis.Client
	cfg   Config
	send  func(job EmailJob) error
}

func New(rdb *redis.Client, cfg Config) *Service {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	s := &Service{redis: rdb, cfg: cfg}
	s.send = s.sendNow
	return s
}

func (s *Service) Send(ctx context.Context, emailType, to, name, subject, body string) error {
	job := EmailJob{
		Type:    emailType,
		To:      to,
		Name:    name,
		Subject: subject,
		Body:    body,
		Created: time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		logger.Error("failed to marshal email job", "error", err)
		return err
	}

	if err := s.redis.LPush(ctx, queueKey, data).Err(); err != nil {
		logger.Error("failed to queue email", "to", to, "type", emailType, "error", err)
		metrics.RecordEmail(emailType, "queue_failed")
		return err
	}

	logger.Info("email queued", "to", to, "type", emailType)
	return nil
}

// Start drains the queue until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	logger.Info("email worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("email worker stopped")
			return
		default:
			s.processNext(ctx)
		}
	}
}

func (s *Service) processNext(ctx context.Context) {
	result, err := s.redis.BRPop(ctx, 2*time.Second, queueKey).Result()
	if err != nil {
		return
	}

	var job EmailJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		logger.Error("bad email job", "error", err)
		return
	}

	job.Tries++
	if err := s.send(job); err != nil {
		logger.Error("failed to send email", "to", job.To, "attempt", job.Tries, "error", err)

		if job.Tries < maxTries {
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.RetryDelay):
			}
			data, _ := json.Marshal(job)
			s.redis.LPush(context.WithoutCancel(ctx), queueKey, data)
			return
		}

		metrics.RecordEmail(job.Type, "failed")
		s.saveFailed(ctx, job, err)
		return
	}

	metrics.RecordEmail(job.Type, "sent")
	logger.Info("email sent", "to", job.To, "type", job.Type)
}

func (s *Service) sendNow(job EmailJob) error {
	message := fmt.Sprintf("From: %s <%s>\r\n", s.cfg.FromName, s.cfg.From)
	message += fmt.Sprintf("To: %s\r\n", job.To)
	message += fmt.Sprintf("Subject: %s\r\n", job.Subject)
	message += "\r\n" + job.Body

	var auth smtp.Auth
	if s.cfg.SMTPUser != "" && s.cfg.SMTPPass != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUser, s.cfg.SMTPPass, s.cfg.SMTPHost)
	}

	addr := s.cfg.SMTPHost + ":" + s.cfg.SMTPPort
	return smtp.SendMail(addr, auth, s.cfg.From, []string{job.To}, []byte(message))
}

func (s *Service) saveFailed(ctx context.Context, job EmailJob, err error) {
	failed := map[string]interface{}{
		"job":   job,
		"error": err.Error(),
		"time":  time.Now(),
	}
	data, _ := json.Marshal(failed)
	s.redis.LPush(context.WithoutCancel(ctx), failedQueueKey, data)
	logger.Error("email moved to failed queue", "to", job.To, "type", job.Type)
}

func (s *Service) QueueLength(ctx context.Context) int64 {
	length, _ := s.redis.LLen(ctx, queueKey).Result()
	metrics.EmailQueueLength.Set(float64(length))
	return length
}

func (s *Service) SendWelcome(ctx context.Context, email, name, primaryCategory string, trialEndsAt time.Time) error {
	subject := "Welcome to HomePro"
	body := fmt.Sprintf(`Hi %s,

Your professional profile is live as %s.

Your free trial runs until %s. Add a payment method before then to keep
receiving leads.

- HomePro Team`, name, primaryCategory, trialEndsAt.Format("Jan 2, 2006"))

	return s.Send(ctx, TypeWelcome, email, name, subject, body)
}

func (s *Service) SendCategoryAdded(ctx context.Context, email, name, category string, charged, monthlyFee decimal.Decimal) error {
	subject := "Service category added - " + category
	body := fmt.Sprintf(`Hi %s,

%s has been added to your profile.

Charged today: $%s
New monthly fee: $%s

- HomePro Team`, name, category, charged.StringFixed(2), monthlyFee.StringFixed(2))

	return s.Send(ctx, TypeCategoryAdded, email, name, subject, body)
}

func (s *Service) SendSubscriptionRenewed(ctx context.Context, email, name string, amount decimal.Decimal, periodEnd time.Time) error {
	subject := "Your HomePro subscription was renewed"
	body := fmt.Sprintf(`Hi %s,

We charged $%s for your HomePro subscription.

Your next renewal is on %s.

- HomePro Team`, name, amount.StringFixed(2), periodEnd.Format("Jan 2, 2006"))

	return s.Send(ctx, TypeSubscriptionRenewed, email, name, subject, body)
}

func (s *Service) SendPaymentFailed(ctx context.Context, email, name string, amount decimal.Decimal, nextRetryAt *time.Time) error {
	subject := "Action needed: payment failed"
	retry := "Please update your payment method and reactivate your subscription."
	if nextRetryAt != nil {
		retry = fmt.Sprintf("We will try again on %s. Please make sure your payment method is up to date.",
			nextRetryAt.Format("Jan 2, 2006"))
	}
	body := fmt.Sprintf(`Hi %s,

We could not collect $%s for your HomePro subscription.

%s

- HomePro Team`, name, amount.StringFixed(2), retry)

	return s.Send(ctx, TypePaymentFailed, email, name, subject, body)
}

func (s *Service) SendSubscriptionCanceled(ctx context.Context, email, name string, canceledAt time.Time) error {
	subject := "Your HomePro subscription has ended"
	body := fmt.Sprintf(`Hi %s,

Your subscription ended on %s and your profile no longer receives leads.

You can reactivate it at any time from your account page.

- HomePro Team`, name, canceledAt.Format("Jan 2, 2006"))

	return s.Send(ctx, TypeSubscriptionCanceled, email, name, subject, body)
}

func (s *Service) Close() error {
	return s.redis.Close()
}
