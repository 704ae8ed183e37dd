// Package sqs implements queue.Client on Amazon SQS FIFO queues.
package sqs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/marmos91/dicomgw/internal/awsconf"
	"github.com/marmos91/dicomgw/pkg/errkind"
	"github.com/marmos91/dicomgw/pkg/queue"
)

// SQS caps a single ReceiveMessage call at 10 messages and 20s of wait.
const (
	maxReceiveBatch = 10
	maxWaitSeconds  = 20
)

// Config configures the SQS client.
type Config struct {
	Region   string `mapstructure:"region" yaml:"region"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`

	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
}

// Client is an SQS-backed queue.Client. Queue URLs are resolved once per
// name and cached.
type Client struct {
	client *sqs.Client

	mu     sync.RWMutex
	urls   map[string]string
	closed bool
}

// New wraps an existing SQS client.
func New(client *sqs.Client) *Client {
	return &Client{client: client, urls: make(map[string]string)}
}

// NewFromConfig builds an SQS client from cfg.
func NewFromConfig(ctx context.Context, cfg Config) (*Client, error) {
	awsCfg, err := awsconf.Load(ctx, awsconf.Options{
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		MaxRetries:      cfg.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return New(client), nil
}

func (c *Client) queueURL(ctx context.Context, name string) (string, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return "", queue.ErrQueueClosed
	}
	url, ok := c.urls[name]
	c.mu.RUnlock()
	if ok {
		return url, nil
	}

	out, err := c.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if err != nil {
		return "", errkind.Transientf("sqs.queue_url", fmt.Errorf("resolve %s: %w", name, err))
	}

	url = aws.ToString(out.QueueUrl)
	c.mu.Lock()
	c.urls[name] = url
	c.mu.Unlock()
	return url, nil
}

// Send publishes msg. String attributes are carried as SQS message
// attributes.
func (c *Client) Send(ctx context.Context, name string, msg queue.OutgoingMessage) (string, error) {
	url, err := c.queueURL(ctx, name)
	if err != nil {
		return "", err
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(url),
		MessageBody:       aws.String(msg.Body),
		MessageAttributes: toAttributes(msg.Attributes),
	}
	if msg.GroupID != "" {
		input.MessageGroupId = aws.String(msg.GroupID)
	}
	if msg.DeduplicationID != "" {
		input.MessageDeduplicationId = aws.String(msg.DeduplicationID)
	}

	out, err := c.client.SendMessage(ctx, input)
	if err != nil {
		return "", errkind.Transientf("sqs.send", fmt.Errorf("send to %s: %w", name, err))
	}
	return aws.ToString(out.MessageId), nil
}

// Receive long-polls name for up to max messages.
func (c *Client) Receive(ctx context.Context, name string, max int, wait time.Duration) ([]queue.Message, error) {
	url, err := c.queueURL(ctx, name)
	if err != nil {
		return nil, err
	}

	if max <= 0 || max > maxReceiveBatch {
		max = maxReceiveBatch
	}
	waitSeconds := int32(wait / time.Second)
	if waitSeconds > maxWaitSeconds {
		waitSeconds = maxWaitSeconds
	}

	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(url),
		MaxNumberOfMessages:   int32(max),
		WaitTimeSeconds:       waitSeconds,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, errkind.Transientf("sqs.receive", fmt.Errorf("receive from %s: %w", name, err))
	}

	msgs := make([]queue.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, queue.Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
			Attributes:    fromAttributes(m.MessageAttributes),
		})
	}
	return msgs, nil
}

// Delete removes a received message.
func (c *Client) Delete(ctx context.Context, name, receiptHandle string) error {
	url, err := c.queueURL(ctx, name)
	if err != nil {
		return err
	}
	_, err = c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return errkind.Transientf("sqs.delete", fmt.Errorf("delete from %s: %w", name, err))
	}
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func toAttributes(attrs map[string]string) map[string]types.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]types.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		out[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	return out
}

func fromAttributes(attrs map[string]types.MessageAttributeValue) map[string]string {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		if v.StringValue != nil {
			out[k] = *v.StringValue
		}
	}
	return out
}

var _ queue.Client = (*Client)(nil)
