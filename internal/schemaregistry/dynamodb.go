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

package schemaregistry

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const attrTableID = "tableId"

// DynamoRegistry stores key → table-ID mappings in a DynamoDB table with a
// (keyName, keyValue) composite primary key.
type DynamoRegistry struct {
	client *dynamodb.Client
	table  string
}

var _ Registry = (*DynamoRegistry)(nil)

func NewDynamoRegistry(client *dynamodb.Client, table string) *DynamoRegistry {
	return &DynamoRegistry{client: client, table: table}
}

func (r *DynamoRegistry) LookupTableID(ctx context.Context, key Key) (string, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key: map[string]types.AttributeValue{
			"keyName":  &types.AttributeValueMemberS{Value: key.Name},
			"keyValue": &types.AttributeValueMemberS{Value: key.Value},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get table id for %s=%s: %w", key.Name, key.Value, err)
	}
	if out.Item == nil {
		return "", ErrNotRegistered
	}
	id, ok := out.Item[attrTableID].(*types.AttributeValueMemberS)
	if !ok || id.Value == "" {
		return "", fmt.Errorf("registry item for %s=%s has no %s attribute", key.Name, key.Value, attrTableID)
	}
	return id.Value, nil
}

func (r *DynamoRegistry) RegisterTableID(ctx context.Context, key Key, tableID string) error {
	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(r.table),
		Item: map[string]types.AttributeValue{
			"keyName":   &types.AttributeValueMemberS{Value: key.Name},
			"keyValue":  &types.AttributeValueMemberS{Value: key.Value},
			attrTableID: &types.AttributeValueMemberS{Value: tableID},
		},
	})
	if err != nil {
		return fmt.Errorf("register table id %s for %s=%s: %w", tableID, key.Name, key.Value, err)
	}
	return nil
}

type dynamoStudy struct {
	StudyID    string `dynamodbav:"studyId"`
	ProjectID  string `dynamodbav:"projectId"`
	ReadTeamID int64  `dynamodbav:"readTeamId"`
}

// DynamoStudyStore resolves studies from a DynamoDB table keyed by studyId.
type DynamoStudyStore struct {
	client *dynamodb.Client
	table  string
}

var _ StudyStore = (*DynamoStudyStore)(nil)

func NewDynamoStudyStore(client *dynamodb.Client, table string) *DynamoStudyStore {
	return &DynamoStudyStore{client: client, table: table}
}

func (s *DynamoStudyStore) GetStudy(ctx context.Context, studyID string) (Study, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"studyId": &types.AttributeValueMemberS{Value: studyID},
		},
	})
	if err != nil {
		return Study{}, fmt.Errorf("get study %s: %w", studyID, err)
	}
	if out.Item == nil {
		return Study{}, fmt.Errorf("study %s: %w", studyID, ErrStudyNotFound)
	}
	var item dynamoStudy
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return Study{}, fmt.Errorf("unmarshal study %s: %w", studyID, err)
	}
	return Study{ID: item.StudyID, ProjectID: item.ProjectID, ReadTeamID: item.ReadTeamID}, nil
}
