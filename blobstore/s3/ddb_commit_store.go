package s3

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CommitStore records which subset builds of an index have completed, using
// DynamoDB conditional writes for the compare-and-swap semantics S3 lacks.
// Parallel builders each index a disjoint subset and finish by committing
// their subset number; the merge step reads the committed set to know which
// `-N` postfixed hierarchies and manifests exist and are complete.
//
// Table schema:
//   - Partition key: base_uri (string) - the index's bucket/prefix
//   - Sort key: subset (number) - the subset id, 0 for a whole build
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name cloudtree-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=subset,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=subset,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type CommitStore struct {
	client    DDBClient
	tableName string
	baseURI   string
}

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// ErrAlreadyCommitted is returned when a subset has already been committed
// by another builder.
var ErrAlreadyCommitted = errors.New("subset already committed")

// NewCommitStore creates a commit store. The baseURI should be the
// "s3://bucket/prefix" of the index, used as the partition key.
func NewCommitStore(client DDBClient, tableName, baseURI string) *CommitStore {
	return &CommitStore{
		client:    client,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Commit marks a subset build as complete. It fails with
// ErrAlreadyCommitted if another builder already committed the same subset,
// which indicates a misconfigured split.
func (c *CommitStore) Commit(ctx context.Context, subset uint64, manifestKey string) error {
	_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: c.baseURI},
			"subset":   &types.AttributeValueMemberN{Value: strconv.FormatUint(subset, 10)},
			"manifest": &types.AttributeValueMemberS{Value: manifestKey},
		},
		ConditionExpression: aws.String("attribute_not_exists(base_uri)"),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return fmt.Errorf("%w: subset %d", ErrAlreadyCommitted, subset)
		}
		return err
	}
	return nil
}

// Committed returns the set of committed subset ids, ascending.
func (c *CommitStore) Committed(ctx context.Context) ([]uint64, error) {
	var subsets []uint64

	var startKey map[string]types.AttributeValue
	for {
		out, err := c.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("base_uri = :u"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":u": &types.AttributeValueMemberS{Value: c.baseURI},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}

		for _, item := range out.Items {
			n, ok := item["subset"].(*types.AttributeValueMemberN)
			if !ok {
				continue
			}
			v, err := strconv.ParseUint(n.Value, 10, 64)
			if err != nil {
				continue
			}
			subsets = append(subsets, v)
		}

		if out.LastEvaluatedKey == nil {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	return subsets, nil
}
