// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package queue consumes export requests from SQS. A message is deleted only
// after its run succeeds; a run-fatal fault leaves it in the queue so the
// visibility timeout redrives the run.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/cardinalhq/tablerunner/internal/exporter"
	"github.com/cardinalhq/tablerunner/internal/logctx"
)

const (
	receiveWaitSeconds = 20
	receiveBackoff     = 5 * time.Second
	deleteTimeout      = 5 * time.Second
)

// RunFunc executes one export request. A returned error is run-fatal.
type RunFunc func(ctx context.Context, req exporter.Request) error

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, opts ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, opts ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Consumer long-polls one queue and runs one export at a time. Export runs
// are heavyweight; serializing them keeps one worker from competing with
// itself for the record store.
type Consumer struct {
	client   sqsAPI
	queueURL string
	run      RunFunc
}

func NewConsumer(client sqsAPI, queueURL string, run RunFunc) *Consumer {
	return &Consumer{client: client, queueURL: queueURL, run: run}
}

// Run polls until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	ll := logctx.FromContext(ctx)
	ll.Info("starting export queue consumer", slog.String("queueURL", c.queueURL))

	for {
		select {
		case <-ctx.Done():
			ll.Info("export queue consumer stopped")
			return ctx.Err()
		default:
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     receiveWaitSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			ll.Error("failed to receive from SQS", slog.Any("error", err))
			time.Sleep(receiveBackoff)
			continue
		}

		for _, msg := range out.Messages {
			c.processMessage(ctx, msg)
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, msg types.Message) {
	ll := logctx.FromContext(ctx)
	if msg.MessageId != nil {
		ll = ll.With(slog.String("messageId", *msg.MessageId))
		ctx = logctx.WithLogger(ctx, ll)
	}
	if msg.Body == nil {
		ll.Warn("received SQS message with nil body")
		c.deleteMessage(ctx, msg)
		return
	}

	var req exporter.Request
	if err := json.Unmarshal([]byte(*msg.Body), &req); err != nil {
		// Redriving cannot fix a malformed request; drop it.
		ll.Error("malformed export request, deleting message", slog.Any("error", err))
		c.deleteMessage(ctx, msg)
		return
	}
	if err := req.Validate(); err != nil {
		ll.Error("invalid export request, deleting message", slog.Any("error", err))
		c.deleteMessage(ctx, msg)
		return
	}

	if err := c.run(ctx, req); err != nil {
		// Leave the message in the queue; the visibility timeout redrives
		// the run.
		ll.Error("export run failed, leaving message for redrive",
			slog.String("request", req.String()),
			slog.Any("error", err))
		return
	}
	c.deleteMessage(ctx, msg)
}

// deleteMessage uses its own context so a completed run is acknowledged even
// during shutdown.
func (c *Consumer) deleteMessage(ctx context.Context, msg types.Message) {
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()
	_, err := c.client.DeleteMessage(deleteCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		logctx.FromContext(ctx).Error("failed to delete SQS message", slog.Any("error", err))
	}
}
