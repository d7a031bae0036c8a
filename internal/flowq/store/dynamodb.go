package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/pkg/config"
)

// Attribute names of the queue item table. The table is keyed by
// projectId (partition) and itemId (sort).
const (
	attrProjectID = "projectId"
	attrItemID    = "itemId"
	attrStatus    = "itemStatus"
	attrPriority  = "priority"
	attrSeq       = "seq"
	attrAddedAt   = "addedAt"
	attrPayload   = "payload"
	attrExpiresAt = "expiresAt"
)

// DynamoDBAPI is the subset of the DynamoDB client the mirror uses.
//
//counterfeiter:generate . DynamoDBAPI
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDBMirror stores each snapshot as one table item: the JSON-encoded
// QueueItem in payload plus status and priority attributes for queries.
// Terminal items carry an expiresAt TTL when ttlDays > 0.
type DynamoDBMirror struct {
	client    DynamoDBAPI
	tableName string
	ttlDays   int
	now       func() time.Time
}

// NewDynamoDBMirror loads the AWS configuration, builds a client and
// verifies the table is reachable.
func NewDynamoDBMirror(ctx context.Context, cfg config.DynamoDBConfig) (*DynamoDBMirror, error) {
	if cfg.TableName == "" {
		return nil, fmt.Errorf("DynamoDB table name is required")
	}

	awsCfg, err := loadAWSConfig(ctx, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	mirror := NewDynamoDBMirrorWithClient(dynamodb.NewFromConfig(awsCfg), cfg.TableName, cfg.TTLDays)
	if err := mirror.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("table health check failed: %w", err)
	}
	return mirror, nil
}

// NewDynamoDBMirrorWithClient creates a mirror over an injected client
func NewDynamoDBMirrorWithClient(client DynamoDBAPI, tableName string, ttlDays int) *DynamoDBMirror {
	return &DynamoDBMirror{
		client:    client,
		tableName: tableName,
		ttlDays:   ttlDays,
		now:       time.Now,
	}
}

func (d *DynamoDBMirror) Save(ctx context.Context, item *domain.QueueItem) error {
	if err := validSnapshot(item); err != nil {
		return err
	}

	av, err := itemToAttributes(item, d.ttlDays, d.now())
	if err != nil {
		return &StoreError{Code: "MARSHAL_ERROR", Message: "failed to encode queue item", Err: err}
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      av,
	})
	if err != nil {
		return &StoreError{Code: "DYNAMODB_ERROR", Message: "failed to save queue item", Err: err}
	}
	return nil
}

func (d *DynamoDBMirror) Get(ctx context.Context, projectID, itemID string) (*domain.QueueItem, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            itemKey(projectID, itemID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, &StoreError{Code: "DYNAMODB_ERROR", Message: "failed to get queue item", Err: err}
	}
	if result.Item == nil {
		return nil, notFound(projectID, itemID)
	}

	item, err := attributesToItem(result.Item)
	if err != nil {
		return nil, &StoreError{Code: "UNMARSHAL_ERROR", Message: "failed to decode queue item", Err: err}
	}
	return item, nil
}

// ListByProject queries the project partition page by page. Items that
// fail to decode are skipped.
func (d *DynamoDBMirror) ListByProject(ctx context.Context, projectID string) ([]*domain.QueueItem, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("projectId = :p"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p": &types.AttributeValueMemberS{Value: projectID},
		},
	}

	var items []*domain.QueueItem
	paginator := dynamodb.NewQueryPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, &StoreError{Code: "DYNAMODB_ERROR", Message: "failed to query queue items", Err: err}
		}
		for _, av := range page.Items {
			item, err := attributesToItem(av)
			if err != nil {
				continue
			}
			items = append(items, item)
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	return items, nil
}

func (d *DynamoDBMirror) Delete(ctx context.Context, projectID, itemID string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.tableName),
		Key:                 itemKey(projectID, itemID),
		ConditionExpression: aws.String("attribute_exists(itemId)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if stderrors.As(err, &ccf) {
			return notFound(projectID, itemID)
		}
		return &StoreError{Code: "DYNAMODB_ERROR", Message: "failed to delete queue item", Err: err}
	}
	return nil
}

func (d *DynamoDBMirror) HealthCheck(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err != nil {
		return &StoreError{Code: ErrBackendUnavailable.Code, Message: "DynamoDB table not accessible", Err: err}
	}
	return nil
}

func (d *DynamoDBMirror) Close() error {
	return nil
}

// loadAWSConfig resolves the region from the instance metadata service
// when none is configured.
func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	if region == "" {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err == nil {
			resp, err := imds.NewFromConfig(cfg).GetRegion(ctx, &imds.GetRegionInput{})
			if err == nil {
				region = resp.Region
			}
		}
	}

	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

func itemKey(projectID, itemID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrProjectID: &types.AttributeValueMemberS{Value: projectID},
		attrItemID:    &types.AttributeValueMemberS{Value: itemID},
	}
}

func itemToAttributes(item *domain.QueueItem, ttlDays int, now time.Time) (map[string]types.AttributeValue, error) {
	payload, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}

	av := itemKey(item.ProjectID, item.ID)
	av[attrStatus] = &types.AttributeValueMemberS{Value: string(item.Status)}
	av[attrPriority] = &types.AttributeValueMemberN{Value: strconv.Itoa(int(item.Priority))}
	av[attrSeq] = &types.AttributeValueMemberN{Value: strconv.FormatUint(item.Seq, 10)}
	av[attrAddedAt] = &types.AttributeValueMemberS{Value: item.AddedAt.UTC().Format(time.RFC3339Nano)}
	av[attrPayload] = &types.AttributeValueMemberS{Value: string(payload)}

	if ttlDays > 0 && item.IsTerminal() {
		expiresAt := now.Add(time.Duration(ttlDays) * 24 * time.Hour).Unix()
		av[attrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt, 10)}
	}
	return av, nil
}

func attributesToItem(av map[string]types.AttributeValue) (*domain.QueueItem, error) {
	payload, ok := av[attrPayload].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("missing %s attribute", attrPayload)
	}

	var item domain.QueueItem
	if err := json.Unmarshal([]byte(payload.Value), &item); err != nil {
		return nil, err
	}
	return &item, nil
}
