package email

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"homepro/internal/user"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(rdb *redis.Client) *Service {
	return New(rdb, Config{
		From:       "noreply@homepro.local",
		FromName:   "HomePro",
		SMTPHost:   "smtp.test.com",
		SMTPPort:   "587",
		RetryDelay: time.Millisecond,
	})
}

func TestSend(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ctx := context.Background()

	mock.Regexp().ExpectLPush("emails", `.*`).SetVal(1)

	svc := newTestService(db)

	err := svc.Send(ctx, TypeWelcome, "pro@example.com", "Pro", "Hello", "Test body")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSendError(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.Regexp().ExpectLPush("emails", `.*`).SetErr(assert.AnError)

	svc := newTestService(db)

	err := svc.Send(context.Background(), TypeWelcome, "pro@example.com", "Pro", "Hello", "Test body")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplatesQueue(t *testing.T) {
	ctx := context.Background()
	retry := time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC)

	sends := map[string]func(*Service) error{
		"category added": func(s *Service) error {
			return s.SendCategoryAdded(ctx, "pro@example.com", "Pro", "Plumber", decimal.RequireFromString("2.50"), decimal.RequireFromString("34.77"))
		},
		"renewed": func(s *Service) error {
			return s.SendSubscriptionRenewed(ctx, "pro@example.com", "Pro", decimal.RequireFromString("34.77"), retry)
		},
		"payment failed with retry": func(s *Service) error {
			return s.SendPaymentFailed(ctx, "pro@example.com", "Pro", decimal.RequireFromString("34.77"), &retry)
		},
		"payment failed final": func(s *Service) error {
			return s.SendPaymentFailed(ctx, "pro@example.com", "Pro", decimal.RequireFromString("34.77"), nil)
		},
		"canceled": func(s *Service) error {
			return s.SendSubscriptionCanceled(ctx, "pro@example.com", "Pro", retry)
		},
		"welcome": func(s *Service) error {
			return s.SendWelcome(ctx, "pro@example.com", "Pro", "Electrician", retry)
		},
	}

	for name, send := range sends {
		t.Run(name, func(t *testing.T) {
			db, mock := redismock.NewClientMock()
			mock.Regexp().ExpectLPush("emails", `.*`).SetVal(1)

			assert.NoError(t, send(newTestService(db)))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestProcessNext_Sends(t *testing.T) {
	db, mock := redismock.NewClientMock()
	svc := newTestService(db)

	var sent []EmailJob
	svc.send = func(job EmailJob) error {
		sent = append(sent, job)
		return nil
	}

	data, _ := json.Marshal(EmailJob{Type: TypeWelcome, To: "pro@example.com", Subject: "Hi"})
	mock.ExpectBRPop(2*time.Second, "emails").SetVal([]string{"emails", string(data)})

	svc.processNext(context.Background())

	require.Len(t, sent, 1)
	assert.Equal(t, 1, sent[0].Tries)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessNext_RequeuesThenGivesUp(t *testing.T) {
	db, mock := redismock.NewClientMock()
	svc := newTestService(db)
	svc.send = func(job EmailJob) error { return errors.New("smtp unavailable") }

	first, _ := json.Marshal(EmailJob{Type: TypePaymentFailed, To: "pro@example.com"})
	mock.ExpectBRPop(2*time.Second, "emails").SetVal([]string{"emails", string(first)})
	mock.Regexp().ExpectLPush("emails", `.*`).SetVal(1)
	svc.processNext(context.Background())

	last, _ := json.Marshal(EmailJob{Type: TypePaymentFailed, To: "pro@example.com", Tries: 2})
	mock.ExpectBRPop(2*time.Second, "emails").SetVal([]string{"emails", string(last)})
	mock.Regexp().ExpectLPush("emails:failed", `.*`).SetVal(1)
	svc.processNext(context.Background())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueLength(t *testing.T) {
	db, mock := redismock.NewClientMock()

	mock.ExpectLLen("emails").SetVal(5)

	svc := newTestService(db)
	assert.Equal(t, int64(5), svc.QueueLength(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type stubDirectory struct {
	users map[string]*user.User
}

func (d stubDirectory) FindByID(ctx context.Context, id string) (*user.User, error) {
	u, ok := d.users[id]
	if !ok {
		return nil, errors.New("user not found")
	}
	return u, nil
}

func TestNotifier(t *testing.T) {
	db, mock := redismock.NewClientMock()
	dir := stubDirectory{users: map[string]*user.User{
		"acc-1": {ID: "acc-1", Name: "Pro", Email: "pro@example.com"},
	}}
	n := NewNotifier(newTestService(db), dir)
	ctx := context.Background()

	mock.Regexp().ExpectLPush("emails", `.*`).SetVal(1)
	require.NoError(t, n.PaymentFailed(ctx, "acc-1", decimal.RequireFromString("29.77"), nil))

	assert.Error(t, n.SubscriptionCanceled(ctx, "unknown", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
