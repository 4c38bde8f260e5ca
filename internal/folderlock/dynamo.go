package folderlock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/erpdrive/internal/model"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoRegistry.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// ErrClaimLost is returned by Complete when the claim expired and was taken over.
var ErrClaimLost = errors.New("folder claim lost")

// DynamoRegistry stores claims in a DynamoDB table keyed by folder_key, with expires_at as TTL attribute.
type DynamoRegistry struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// NewDynamoRegistry creates a new DynamoRegistry.
func NewDynamoRegistry(client DynamoAPI, tableName string) *DynamoRegistry {
	return &DynamoRegistry{client: client, tableName: tableName, now: time.Now}
}

func (r *DynamoRegistry) key(k string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"folder_key": &types.AttributeValueMemberS{Value: k},
	}
}

func unix(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.Unix(), 10)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// Claim succeeds if no claim exists or the existing one expired.
func (r *DynamoRegistry) Claim(ctx context.Context, key, token string) (*model.FolderClaim, bool, error) {
	now := r.now()
	claim := model.FolderClaim{
		FolderKey: key,
		Token:     token,
		ExpiresAt: now.Add(PendingTTL).Unix(),
	}

	item, err := attributevalue.MarshalMap(claim)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal claim: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(folder_key) OR expires_at < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": unix(now),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			current, getErr := r.Get(ctx, key)
			if getErr != nil {
				return nil, false, getErr
			}
			return current, false, nil
		}
		return nil, false, fmt.Errorf("failed to claim folder: %w", err)
	}
	return &claim, true, nil
}

// Complete records folderID and extends the claim so late lookups can reuse it.
func (r *DynamoRegistry) Complete(ctx context.Context, key, token, folderID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 r.key(key),
		UpdateExpression:    aws.String("SET folder_id = :folder_id, expires_at = :expires_at"),
		ConditionExpression: aws.String("claim_token = :token"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":folder_id":  &types.AttributeValueMemberS{Value: folderID},
			":expires_at": unix(r.now().Add(CompletedTTL)),
			":token":      &types.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrClaimLost
		}
		return fmt.Errorf("failed to complete claim: %w", err)
	}
	return nil
}

// Release deletes the claim only if token owns it.
func (r *DynamoRegistry) Release(ctx context.Context, key, token string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(r.tableName),
		Key:                 r.key(key),
		ConditionExpression: aws.String("claim_token = :token"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":token": &types.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

func (r *DynamoRegistry) Get(ctx context.Context, key string) (*model.FolderClaim, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.key(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get claim: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var claim model.FolderClaim
	if err := attributevalue.UnmarshalMap(out.Item, &claim); err != nil {
		return nil, fmt.Errorf("failed to unmarshal claim: %w", err)
	}
	// DynamoDB TTL deletion is lazy.
	if claim.ExpiresAt < r.now().Unix() {
		return nil, nil
	}
	return &claim, nil
}
