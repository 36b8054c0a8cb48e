package publisher

import (
	"barter/internal/hub"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
)

type SQSPublisher struct {
	client   sqsiface.SQSAPI
	queueURL string
}

func NewSQSPublisher(region, queueURL string) (*SQSPublisher, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		Config: aws.Config{
			Region:                        aws.String(region),
			CredentialsChainVerboseErrors: aws.Bool(true),
		},
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	_, err = sess.Config.Credentials.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to load aws credentials: %w", err)
	}

	return &SQSPublisher{
		client:   sqs.New(sess),
		queueURL: queueURL,
	}, nil
}

func (p *SQSPublisher) Publish(ctx context.Context, e hub.Event) error {
	b, err := encode(e)
	if err != nil {
		return err
	}
	_, err = p.client.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(b)),
		MessageAttributes: map[string]*sqs.MessageAttributeValue{
			"event": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(e.Type)),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send %s to sqs: %w", e.Type, err)
	}
	return nil
}

func (p *SQSPublisher) Close() error {
	return nil
}
