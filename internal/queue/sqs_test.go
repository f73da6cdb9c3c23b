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

package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/tablerunner/internal/exporter"
)

type fakeSQS struct {
	deleted []string
}

func (f *fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func message(body string) types.Message {
	return types.Message{
		MessageId:     aws.String("msg-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(body),
	}
}

func TestProcessMessageSuccessDeletes(t *testing.T) {
	api := &fakeSQS{}
	var got exporter.Request
	c := NewConsumer(api, "http://queue", func(_ context.Context, req exporter.Request) error {
		got = req
		return nil
	})

	c.processMessage(context.Background(), message(`{"date":"2026-01-15","tag":"nightly"}`))

	assert.Equal(t, "2026-01-15", got.Date)
	assert.Equal(t, "nightly", got.Tag)
	assert.Equal(t, []string{"rh-1"}, api.deleted)
}

func TestProcessMessageRunFatalLeavesMessage(t *testing.T) {
	api := &fakeSQS{}
	c := NewConsumer(api, "http://queue", func(context.Context, exporter.Request) error {
		return errors.New("upload mismatch")
	})

	c.processMessage(context.Background(), message(`{"date":"2026-01-15"}`))

	assert.Empty(t, api.deleted)
}

func TestProcessMessageMalformedDeletes(t *testing.T) {
	api := &fakeSQS{}
	ran := false
	c := NewConsumer(api, "http://queue", func(context.Context, exporter.Request) error {
		ran = true
		return nil
	})

	c.processMessage(context.Background(), message(`{not json`))
	c.processMessage(context.Background(), message(`{"tag":"no record source"}`))

	require.False(t, ran)
	assert.Equal(t, []string{"rh-1", "rh-1"}, api.deleted)
}
