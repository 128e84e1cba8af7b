// Package mail delivers sign-in links. Messages are handed to a queue that a
// separate worker drains; in development they are only logged.
package mail

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

const KindSignInLink = "sign_in_link"

// Message is the queued envelope consumed by the delivery worker.
type Message struct {
	Kind   string    `json:"kind"`
	To     string    `json:"to"`
	Link   string    `json:"link"`
	SentAt time.Time `json:"sent_at"`
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// QueueMailer enqueues outbound mail on an Azure Storage queue.
type QueueMailer struct {
	queue queueClient
	now   func() time.Time
}

// NewQueueMailer creates a mailer for the named queue.
func NewQueueMailer(connStr, queueName string) (*QueueMailer, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 30,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &QueueMailer{queue: q, now: time.Now}, nil
}

func (m *QueueMailer) SendSignInLink(ctx context.Context, to, link string) error {
	data, err := sonic.Marshal(Message{Kind: KindSignInLink, To: to, Link: link, SentAt: m.now().UTC()})
	if err != nil {
		return err
	}
	_, err = m.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// LogMailer writes links to the log instead of sending them.
type LogMailer struct {
	log *log.Logger
}

func NewLogMailer(logger *log.Logger) *LogMailer {
	return &LogMailer{log: logger}
}

func (m *LogMailer) SendSignInLink(ctx context.Context, to, link string) error {
	m.log.WithFields(log.Fields{"kind": KindSignInLink, "to": to, "link": link}).Info("outbound mail")
	return nil
}
