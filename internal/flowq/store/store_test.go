package store

import (
	"context"
	stderrors "errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehsaniara/flowq/internal/flowq/domain"
	"github.com/ehsaniara/flowq/pkg/config"
)

func sampleItem(project, id string, seq uint64, status domain.ItemStatus) *domain.QueueItem {
	return &domain.QueueItem{
		ID:        id,
		ProjectID: project,
		UserID:    "user-1",
		Priority:  domain.PriorityHigh,
		Status:    status,
		Seq:       seq,
		Position:  int(seq) - 1,
		AddedAt:   time.Date(2024, 5, 1, 10, 0, int(seq), 0, time.UTC),
		Plan: domain.Plan{
			Steps:          []domain.StepSpec{{Name: "ExecuteCommandStep"}},
			Classification: domain.NewClassificationResult([]string{"ExecuteCommandStep"}, nil),
		},
		Steps: []domain.StepState{{ID: "s1", Name: "ExecuteCommandStep", Critical: true, Required: true, Status: domain.StepPending}},
	}
}

// fakeTable is an in-memory DynamoDB table keyed by projectId + itemId.
// Query returns pageSize items per page to exercise pagination.
type fakeTable struct {
	mu       sync.Mutex
	rows     map[string]map[string]types.AttributeValue
	pageSize int
	puts     []*dynamodb.PutItemInput
	failWith error
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: make(map[string]map[string]types.AttributeValue), pageSize: 1}
}

func keyOf(av map[string]types.AttributeValue) string {
	return av[attrProjectID].(*types.AttributeValueMemberS).Value + "/" + av[attrItemID].(*types.AttributeValueMemberS).Value
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.puts = append(f.puts, in)
	f.rows[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.rows[keyOf(in.Key)]}, nil
}

func (f *fakeTable) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	project := in.ExpressionAttributeValues[":p"].(*types.AttributeValueMemberS).Value
	var keys []string
	for k, row := range f.rows {
		if row[attrProjectID].(*types.AttributeValueMemberS).Value == project {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		after := keyOf(in.ExclusiveStartKey)
		for start < len(keys) && keys[start] <= after {
			start++
		}
	}
	end := min(start+f.pageSize, len(keys))

	out := &dynamodb.QueryOutput{}
	for _, k := range keys[start:end] {
		out.Items = append(out.Items, f.rows[k])
	}
	if end < len(keys) {
		out.LastEvaluatedKey = itemKey(project, keys[end-1][len(project)+1:])
	}
	return out, nil
}

func (f *fakeTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := keyOf(in.Key)
	if _, ok := f.rows[k]; !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	delete(f.rows, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeTable) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableName: in.TableName}}, nil
}

// mirrorContract runs the same behavior checks against every backend
func mirrorContract(t *testing.T, m Mirror) {
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, sampleItem("p1", "b", 2, domain.StatusQueued)))
	require.NoError(t, m.Save(ctx, sampleItem("p1", "a", 1, domain.StatusRunning)))
	require.NoError(t, m.Save(ctx, sampleItem("p1", "c", 3, domain.StatusQueued)))
	require.NoError(t, m.Save(ctx, sampleItem("p2", "x", 4, domain.StatusQueued)))

	got, err := m.Get(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.ID)
	assert.Equal(t, domain.StatusRunning, got.Status)
	assert.Equal(t, domain.PriorityHigh, got.Priority)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "ExecuteCommandStep", got.Steps[0].Name)

	// upsert replaces the snapshot
	require.NoError(t, m.Save(ctx, sampleItem("p1", "a", 1, domain.StatusCompleted)))
	got, err = m.Get(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)

	list, err := m.ListByProject(ctx, "p1")
	require.NoError(t, err)
	ids := make([]string, len(list))
	for i, item := range list {
		ids[i] = item.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	empty, err := m.ListByProject(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, m.Delete(ctx, "p1", "b"))
	_, err = m.Get(ctx, "p1", "b")
	assert.ErrorIs(t, err, ErrItemNotFound)
	assert.ErrorIs(t, m.Delete(ctx, "p1", "b"), ErrItemNotFound)

	assert.ErrorIs(t, m.Save(ctx, &domain.QueueItem{ID: "orphan"}), ErrInvalidItemSnapshot)
	assert.ErrorIs(t, m.Save(ctx, nil), ErrInvalidItemSnapshot)

	assert.NoError(t, m.HealthCheck(ctx))
	assert.NoError(t, m.Close())
}

func TestMemoryMirror(t *testing.T) {
	mirrorContract(t, NewMemoryMirror())
}

func TestDynamoDBMirror(t *testing.T) {
	mirrorContract(t, NewDynamoDBMirrorWithClient(newFakeTable(), "flowq-test", 7))
}

func TestMemoryMirror_ReturnsCopies(t *testing.T) {
	m := NewMemoryMirror()
	ctx := context.Background()
	item := sampleItem("p1", "a", 1, domain.StatusQueued)
	require.NoError(t, m.Save(ctx, item))

	item.Steps[0].Status = domain.StepFailed
	got, err := m.Get(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.StepPending, got.Steps[0].Status)

	got.Status = domain.StatusFailed
	again, _ := m.Get(ctx, "p1", "a")
	assert.Equal(t, domain.StatusQueued, again.Status)
}

func TestDynamoDBMirror_Attributes(t *testing.T) {
	table := newFakeTable()
	m := NewDynamoDBMirrorWithClient(table, "flowq-test", 7)
	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, m.Save(ctx, sampleItem("p1", "a", 1, domain.StatusQueued)))
	require.NoError(t, m.Save(ctx, sampleItem("p1", "a", 1, domain.StatusCompleted)))
	require.Len(t, table.puts, 2)

	queued := table.puts[0]
	assert.Equal(t, "flowq-test", aws.ToString(queued.TableName))
	assert.Equal(t, "p1", queued.Item[attrProjectID].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "a", queued.Item[attrItemID].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "queued", queued.Item[attrStatus].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "2", queued.Item[attrPriority].(*types.AttributeValueMemberN).Value)
	assert.NotContains(t, queued.Item, attrExpiresAt, "active items never expire")

	done := table.puts[1]
	ttl, ok := done.Item[attrExpiresAt].(*types.AttributeValueMemberN)
	require.True(t, ok)
	want := now.Add(7 * 24 * time.Hour).Unix()
	assert.Equal(t, strconv.FormatInt(want, 10), ttl.Value)
}

func TestDynamoDBMirror_NoTTLWhenDisabled(t *testing.T) {
	table := newFakeTable()
	m := NewDynamoDBMirrorWithClient(table, "flowq-test", 0)
	require.NoError(t, m.Save(context.Background(), sampleItem("p1", "a", 1, domain.StatusFailed)))
	assert.NotContains(t, table.puts[0].Item, attrExpiresAt)
}

func TestDynamoDBMirror_BackendErrors(t *testing.T) {
	table := newFakeTable()
	table.failWith = stderrors.New("throttled")
	m := NewDynamoDBMirrorWithClient(table, "flowq-test", 7)

	err := m.Save(context.Background(), sampleItem("p1", "a", 1, domain.StatusQueued))
	require.Error(t, err)
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "DYNAMODB_ERROR", se.Code)

	err = m.HealthCheck(context.Background())
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestDynamoDBMirror_SkipsUndecodableRows(t *testing.T) {
	table := newFakeTable()
	m := NewDynamoDBMirrorWithClient(table, "flowq-test", 0)
	ctx := context.Background()
	require.NoError(t, m.Save(ctx, sampleItem("p1", "a", 1, domain.StatusQueued)))

	broken := itemKey("p1", "b")
	broken[attrPayload] = &types.AttributeValueMemberS{Value: "{not json"}
	table.rows["p1/b"] = broken

	list, err := m.ListByProject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)

	_, err = m.Get(ctx, "p1", "b")
	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "UNMARSHAL_ERROR", se.Code)
}

func TestNewMirror(t *testing.T) {
	ctx := context.Background()

	m, err := NewMirror(ctx, config.StoreConfig{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryMirror{}, m)

	m, err = NewMirror(ctx, config.StoreConfig{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryMirror{}, m)

	m, err = NewMirror(ctx, config.StoreConfig{Backend: BackendNone})
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = NewMirror(ctx, config.StoreConfig{Backend: "redis"})
	assert.ErrorIs(t, err, ErrInvalidBackend)
}
