package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	connectionKeyAttr = "connectionId"
	counterKeyAttr    = "counterType"
	counterValueAttr  = "count"
)

// Dynamo is a Store backed by two DynamoDB tables: one holding connection
// records keyed by connectionId and one holding counters keyed by
// counterType. Conditional creates use condition expressions and counter
// increments use an atomic update expression, so concurrent handlers never
// read-modify-write counter state in application code.
type Dynamo struct {
	client           *dynamodb.Client
	connectionsTable string
	countersTable    string
}

// NewDynamo wraps a DynamoDB client with the table names to operate on.
func NewDynamo(client *dynamodb.Client, connectionsTable, countersTable string) *Dynamo {
	return &Dynamo{
		client:           client,
		connectionsTable: connectionsTable,
		countersTable:    countersTable,
	}
}

func connectionKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		connectionKeyAttr: &types.AttributeValueMemberS{Value: id},
	}
}

func counterKey(name string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		counterKeyAttr: &types.AttributeValueMemberS{Value: name},
	}
}

// PutConnection creates or overwrites the record for conn.ID.
func (d *Dynamo) PutConnection(ctx context.Context, conn Connection) error {
	item, err := attributevalue.MarshalMap(conn)
	if err != nil {
		return fmt.Errorf("marshal connection %s: %w", conn.ID, err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &d.connectionsTable,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put connection %s: %w", conn.ID, err)
	}
	return nil
}

// DeleteConnection removes the record for id. Deleting a missing record is
// not an error.
func (d *Dynamo) DeleteConnection(ctx context.Context, id string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &d.connectionsTable,
		Key:       connectionKey(id),
	})
	if err != nil {
		return fmt.Errorf("delete connection %s: %w", id, err)
	}
	return nil
}

// GetConnection fetches the record for id.
func (d *Dynamo) GetConnection(ctx context.Context, id string) (Connection, bool, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &d.connectionsTable,
		Key:       connectionKey(id),
	})
	if err != nil {
		return Connection{}, false, fmt.Errorf("get connection %s: %w", id, err)
	}
	if len(out.Item) == 0 {
		return Connection{}, false, nil
	}
	var conn Connection
	if err := attributevalue.UnmarshalMap(out.Item, &conn); err != nil {
		return Connection{}, false, fmt.Errorf("unmarshal connection %s: %w", id, err)
	}
	return conn, true, nil
}

func (d *Dynamo) scanConnections(ctx context.Context, input *dynamodb.ScanInput) ([]Connection, error) {
	var conns []Connection
	paginator := dynamodb.NewScanPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", d.connectionsTable, err)
		}
		var batch []Connection
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal scan page: %w", err)
		}
		conns = append(conns, batch...)
	}
	return conns, nil
}

// ListConnections scans every stored connection record.
func (d *Dynamo) ListConnections(ctx context.Context) ([]Connection, error) {
	return d.scanConnections(ctx, &dynamodb.ScanInput{
		TableName: &d.connectionsTable,
	})
}

// ListConnectionsByName scans for records whose name equals name and returns
// their ids. "name" is a DynamoDB reserved word, hence the name placeholder.
func (d *Dynamo) ListConnectionsByName(ctx context.Context, name string) ([]string, error) {
	filter := "#n = :name"
	conns, err := d.scanConnections(ctx, &dynamodb.ScanInput{
		TableName:                &d.connectionsTable,
		FilterExpression:         &filter,
		ExpressionAttributeNames: map[string]string{"#n": "name"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: name},
		},
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(conns))
	for _, conn := range conns {
		ids = append(ids, conn.ID)
	}
	return ids, nil
}

// ListGhostConnections scans for records with the ghost flag set.
func (d *Dynamo) ListGhostConnections(ctx context.Context) ([]Connection, error) {
	filter := "isGhost = :true"
	return d.scanConnections(ctx, &dynamodb.ScanInput{
		TableName:        &d.connectionsTable,
		FilterExpression: &filter,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":true": &types.AttributeValueMemberBOOL{Value: true},
		},
	})
}

// SetGhost updates the ghost flag for id. UpdateItem upserts, so a missing
// record materializes with only the flag set.
func (d *Dynamo) SetGhost(ctx context.Context, id string, isGhost bool) error {
	update := "SET isGhost = :g"
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        &d.connectionsTable,
		Key:              connectionKey(id),
		UpdateExpression: &update,
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":g": &types.AttributeValueMemberBOOL{Value: isGhost},
		},
	})
	if err != nil {
		return fmt.Errorf("set ghost flag for %s: %w", id, err)
	}
	return nil
}

// CreateCounter conditionally creates the named counter at zero, returning
// ErrConditionFailed if it already exists.
func (d *Dynamo) CreateCounter(ctx context.Context, name string) error {
	condition := "attribute_not_exists(" + counterKeyAttr + ")"
	_, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &d.countersTable,
		Item: map[string]types.AttributeValue{
			counterKeyAttr:   &types.AttributeValueMemberS{Value: name},
			counterValueAttr: &types.AttributeValueMemberN{Value: "0"},
		},
		ConditionExpression: &condition,
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return ErrConditionFailed
		}
		return fmt.Errorf("create counter %s: %w", name, err)
	}
	return nil
}

// IncrementCounter atomically adds one to the named counter, treating a
// missing counter as zero, and returns the new value.
func (d *Dynamo) IncrementCounter(ctx context.Context, name string) (int64, error) {
	update := "SET #c = if_not_exists(#c, :zero) + :inc"
	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                &d.countersTable,
		Key:                      counterKey(name),
		UpdateExpression:         &update,
		ExpressionAttributeNames: map[string]string{"#c": counterValueAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment counter %s: %w", name, err)
	}
	attr, ok := out.Attributes[counterValueAttr].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("increment counter %s: unexpected attribute shape", name)
	}
	value, err := strconv.ParseInt(attr.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse counter %s value: %w", name, err)
	}
	return value, nil
}

// ResetCounter unconditionally sets the named counter to zero.
func (d *Dynamo) ResetCounter(ctx context.Context, name string) error {
	update := "SET #c = :zero"
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                &d.countersTable,
		Key:                      counterKey(name),
		UpdateExpression:         &update,
		ExpressionAttributeNames: map[string]string{"#c": counterValueAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
		},
	})
	if err != nil {
		return fmt.Errorf("reset counter %s: %w", name, err)
	}
	return nil
}
