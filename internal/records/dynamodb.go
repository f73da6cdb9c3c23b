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

package records

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	uploadDateIndex      = "uploadDate-index"
	studyUploadedOnIndex = "study-uploadedOn-index"
)

// DynamoStore reads records from a DynamoDB table keyed by id, with secondary
// indexes on uploadDate and on (studyId, uploadedOn).
type DynamoStore struct {
	client *dynamodb.Client
	table  string
}

var _ Store = (*DynamoStore)(nil)

func NewDynamoStore(client *dynamodb.Client, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

func (s *DynamoStore) Get(ctx context.Context, id string) (Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
	})
	if err != nil {
		return Record{}, fmt.Errorf("get record %s: %w", id, err)
	}
	if out.Item == nil {
		return Record{}, fmt.Errorf("record %s: %w", id, ErrRecordNotFound)
	}
	return Record{ID: id, Fields: decodeItem(out.Item)}, nil
}

// IDsForUploadDate returns the IDs of all records uploaded on the given
// calendar date (YYYY-MM-DD), in index order.
func (s *DynamoStore) IDsForUploadDate(ctx context.Context, date string) ([]string, error) {
	return s.queryIDs(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(uploadDateIndex),
		KeyConditionExpression: aws.String("uploadDate = :d"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":d": &types.AttributeValueMemberS{Value: date},
		},
	})
}

// IDsForStudyRange returns the IDs of the study's records uploaded within
// [startMillis, endMillis], in index order.
func (s *DynamoStore) IDsForStudyRange(ctx context.Context, studyID string, startMillis, endMillis int64) ([]string, error) {
	return s.queryIDs(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		IndexName:              aws.String(studyUploadedOnIndex),
		KeyConditionExpression: aws.String("studyId = :s AND uploadedOn BETWEEN :lo AND :hi"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":  &types.AttributeValueMemberS{Value: studyID},
			":lo": &types.AttributeValueMemberN{Value: strconv.FormatInt(startMillis, 10)},
			":hi": &types.AttributeValueMemberN{Value: strconv.FormatInt(endMillis, 10)},
		},
	})
}

func (s *DynamoStore) queryIDs(ctx context.Context, input *dynamodb.QueryInput) ([]string, error) {
	input.ProjectionExpression = aws.String("id")
	var ids []string
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("query record ids: %w", err)
		}
		for _, item := range page.Items {
			if id, ok := item["id"].(*types.AttributeValueMemberS); ok {
				ids = append(ids, id.Value)
			}
		}
	}
	return ids, nil
}

func decodeItem(item map[string]types.AttributeValue) map[string]any {
	fields := make(map[string]any, len(item))
	for name, av := range item {
		if v, ok := decodeAttribute(av); ok {
			fields[name] = v
		}
	}
	return fields
}

func decodeAttribute(av types.AttributeValue) (any, bool) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value, true
	case *types.AttributeValueMemberN:
		if n, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(v.Value, 64); err == nil {
			return f, true
		}
		return nil, false
	case *types.AttributeValueMemberBOOL:
		return v.Value, true
	case *types.AttributeValueMemberSS:
		return append([]string(nil), v.Value...), true
	case *types.AttributeValueMemberL:
		members := make([]any, 0, len(v.Value))
		for _, m := range v.Value {
			if mv, ok := decodeAttribute(m); ok {
				members = append(members, mv)
			}
		}
		return members, true
	case *types.AttributeValueMemberM:
		return decodeItem(v.Value), true
	default:
		return nil, false
	}
}
