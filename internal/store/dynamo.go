package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/webibook/analytics/internal/domain"
)

// Partition keys for the single-table layout. Append-only logs use a
// time-prefixed sort key so queries come back in chronological order.
const (
	pkActor   = "ACTOR"   // SK = normalized email
	pkActorID = "ACTORID" // SK = actor id, Data = email (alias item)
	pkEvent   = "EVENT"   // SK = event id
	pkClick   = "CLICK"   // SK = <RFC3339Nano>#<record id>
	pkVisit   = "VISIT"   // SK = <RFC3339Nano>#<record id>
	pkSub     = "SUB"     // SK = normalized email
)

// Dynamo is the durable store variant, backed by a single DynamoDB table.
// Descriptive payloads live in a JSON Data attribute; event counters are
// separate numeric attributes so they can be adjusted with an atomic
// UpdateItem instead of a read-modify-write on the blob.
type Dynamo struct {
	client    *dynamodb.Client
	tableName string
}

type tableItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	Data       string `dynamodbav:"Data"`
	SavedCount int    `dynamodbav:"SavedCount,omitempty"`
	ClickCount int    `dynamodbav:"ClickCount,omitempty"`
	Timestamp  string `dynamodbav:"Timestamp"`
}

// NewDynamo builds the durable store against the given table.
func NewDynamo(ctx context.Context, tableName, region, profile string) (*Dynamo, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &Dynamo{client: dynamodb.NewFromConfig(cfg), tableName: tableName}, nil
}

// NewDynamoWithClient wires an existing client, primarily for tests against
// DynamoDB Local.
func NewDynamoWithClient(client *dynamodb.Client, tableName string) *Dynamo {
	return &Dynamo{client: client, tableName: tableName}
}

// backendErr tags a failed DynamoDB call so callers can tell a broken
// backend from a domain outcome; the failover layer keys off this.
func backendErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

func (d *Dynamo) putJSON(ctx context.Context, pk, sk string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s item: %w", pk, err)
	}
	item := tableItem{
		PK:        pk,
		SK:        sk,
		Data:      string(data),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling %s attributes: %w", pk, err)
	}
	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      av,
	})
	if err != nil {
		return backendErr(fmt.Sprintf("putting %s item", pk), err)
	}
	return nil
}

func (d *Dynamo) getJSON(ctx context.Context, pk, sk string, target any) error {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pk},
			"SK": &types.AttributeValueMemberS{Value: sk},
		},
	})
	if err != nil {
		return backendErr(fmt.Sprintf("getting %s item", pk), err)
	}
	if result.Item == nil {
		return domain.ErrNotFound
	}
	var item tableItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return fmt.Errorf("unmarshaling %s attributes: %w", pk, err)
	}
	if err := json.Unmarshal([]byte(item.Data), target); err != nil {
		return fmt.Errorf("unmarshaling %s payload: %w", pk, err)
	}
	return nil
}

func (d *Dynamo) queryPartition(ctx context.Context, pk string) ([]tableItem, error) {
	var items []tableItem
	paginator := dynamodb.NewQueryPaginator(d.client, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, backendErr(fmt.Sprintf("querying %s partition", pk), err)
		}
		for _, raw := range page.Items {
			var item tableItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				continue
			}
			items = append(items, item)
		}
	}
	return items, nil
}

func (d *Dynamo) GetActor(ctx context.Context, email string) (*domain.Actor, error) {
	var a domain.Actor
	if err := d.getJSON(ctx, pkActor, email, &a); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("actor %q: %w", logKey(email), domain.ErrNotFound)
		}
		return nil, err
	}
	return &a, nil
}

func (d *Dynamo) GetActorByID(ctx context.Context, id string) (*domain.Actor, error) {
	var email string
	if err := d.getJSON(ctx, pkActorID, id, &email); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("actor id %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return d.GetActor(ctx, email)
}

// UpsertActor writes the actor item and an id→email alias item so actors
// can be resolved from credentials without a table scan.
func (d *Dynamo) UpsertActor(ctx context.Context, actor *domain.Actor) error {
	if err := d.putJSON(ctx, pkActor, actor.Email, actor); err != nil {
		return err
	}
	return d.putJSON(ctx, pkActorID, actor.ID, actor.Email)
}

func (d *Dynamo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	items, err := d.queryPartition(ctx, pkActor)
	if err != nil {
		return nil, err
	}
	actors := make([]domain.Actor, 0, len(items))
	for _, item := range items {
		var a domain.Actor
		if err := json.Unmarshal([]byte(item.Data), &a); err != nil {
			continue
		}
		actors = append(actors, a)
	}
	return actors, nil
}

func (d *Dynamo) GetEvent(ctx context.Context, eventID string) (*domain.Event, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkEvent},
			"SK": &types.AttributeValueMemberS{Value: eventID},
		},
	})
	if err != nil {
		return nil, backendErr(fmt.Sprintf("getting event %s", eventID), err)
	}
	if result.Item == nil {
		return nil, fmt.Errorf("event %s: %w", eventID, domain.ErrNotFound)
	}
	return eventFromItem(result.Item)
}

func eventFromItem(raw map[string]types.AttributeValue) (*domain.Event, error) {
	var item tableItem
	if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
		return nil, fmt.Errorf("unmarshaling event attributes: %w", err)
	}
	var e domain.Event
	if err := json.Unmarshal([]byte(item.Data), &e); err != nil {
		return nil, fmt.Errorf("unmarshaling event payload: %w", err)
	}
	// Counters live outside the blob; the attributes win.
	e.SavedCount = item.SavedCount
	e.ClickCount = item.ClickCount
	return &e, nil
}

// UpsertEvent writes descriptive fields without clobbering counters that
// concurrent clicks may have advanced.
func (d *Dynamo) UpsertEvent(ctx context.Context, event *domain.Event) error {
	desc := *event
	desc.SavedCount = 0
	desc.ClickCount = 0
	data, err := json.Marshal(&desc)
	if err != nil {
		return fmt.Errorf("marshaling event %s: %w", event.ID, err)
	}
	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkEvent},
			"SK": &types.AttributeValueMemberS{Value: event.ID},
		},
		UpdateExpression: aws.String(
			"SET #data = :data, #ts = :ts, SavedCount = if_not_exists(SavedCount, :sc), ClickCount = if_not_exists(ClickCount, :cc)"),
		ExpressionAttributeNames: map[string]string{
			"#data": "Data",
			"#ts":   "Timestamp",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":data": &types.AttributeValueMemberS{Value: string(data)},
			":ts":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
			":sc":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", event.SavedCount)},
			":cc":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", event.ClickCount)},
		},
	})
	if err != nil {
		return backendErr(fmt.Sprintf("upserting event %s", event.ID), err)
	}
	return nil
}

// AddEventCounts adjusts counters with a single atomic UpdateItem. A
// decrement is guarded by a condition so the counter cannot go negative;
// when the condition fails the counter is floored at zero instead.
func (d *Dynamo) AddEventCounts(ctx context.Context, eventID string, savedDelta, clickDelta int) error {
	key := map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkEvent},
		"SK": &types.AttributeValueMemberS{Value: eventID},
	}

	cond := "attribute_exists(PK)"
	values := map[string]types.AttributeValue{
		":sd": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", savedDelta)},
		":cd": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", clickDelta)},
	}
	if savedDelta < 0 {
		cond += " AND SavedCount >= :floor"
		values[":floor"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", -savedDelta)}
	}

	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.tableName),
		Key:                       key,
		UpdateExpression:          aws.String("ADD SavedCount :sd, ClickCount :cd"),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeValues: values,
	})
	if err == nil {
		return nil
	}

	var condFailed *types.ConditionalCheckFailedException
	if !errors.As(err, &condFailed) {
		return backendErr(fmt.Sprintf("updating counts for event %s", eventID), err)
	}

	// Either the event is gone or the decrement would underflow.
	if _, getErr := d.GetEvent(ctx, eventID); getErr != nil {
		return getErr
	}
	_, err = d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(d.tableName),
		Key:              key,
		UpdateExpression: aws.String("SET SavedCount = :zero ADD ClickCount :cd"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":cd":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", clickDelta)},
		},
	})
	if err != nil {
		return backendErr(fmt.Sprintf("flooring counts for event %s", eventID), err)
	}
	return nil
}

func (d *Dynamo) ListEvents(ctx context.Context) ([]domain.Event, error) {
	items, err := d.queryPartition(ctx, pkEvent)
	if err != nil {
		return nil, err
	}
	events := make([]domain.Event, 0, len(items))
	for _, item := range items {
		var e domain.Event
		if err := json.Unmarshal([]byte(item.Data), &e); err != nil {
			continue
		}
		e.SavedCount = item.SavedCount
		e.ClickCount = item.ClickCount
		events = append(events, e)
	}
	return events, nil
}

func (d *Dynamo) AppendClick(ctx context.Context, rec *domain.ClickRecord) error {
	sk := fmt.Sprintf("%s#%s", rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.ID)
	return d.putJSON(ctx, pkClick, sk, rec)
}

func (d *Dynamo) AppendVisit(ctx context.Context, rec *domain.VisitRecord) error {
	sk := fmt.Sprintf("%s#%s", rec.CreatedAt.UTC().Format(time.RFC3339Nano), rec.ID)
	return d.putJSON(ctx, pkVisit, sk, rec)
}

func (d *Dynamo) ListVisits(ctx context.Context) ([]domain.VisitRecord, error) {
	items, err := d.queryPartition(ctx, pkVisit)
	if err != nil {
		return nil, err
	}
	visits := make([]domain.VisitRecord, 0, len(items))
	for _, item := range items {
		var v domain.VisitRecord
		if err := json.Unmarshal([]byte(item.Data), &v); err != nil {
			continue
		}
		visits = append(visits, v)
	}
	return visits, nil
}

func (d *Dynamo) GetSubscription(ctx context.Context, email string) (*domain.EmailSubscription, error) {
	var s domain.EmailSubscription
	if err := d.getJSON(ctx, pkSub, email, &s); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("subscription %q: %w", logKey(email), domain.ErrNotFound)
		}
		return nil, err
	}
	return &s, nil
}

func (d *Dynamo) UpsertSubscription(ctx context.Context, sub *domain.EmailSubscription) error {
	return d.putJSON(ctx, pkSub, sub.Email, sub)
}

func (d *Dynamo) ListSubscriptions(ctx context.Context) ([]domain.EmailSubscription, error) {
	items, err := d.queryPartition(ctx, pkSub)
	if err != nil {
		return nil, err
	}
	subs := make([]domain.EmailSubscription, 0, len(items))
	for _, item := range items {
		var s domain.EmailSubscription
		if err := json.Unmarshal([]byte(item.Data), &s); err != nil {
			continue
		}
		subs = append(subs, s)
	}
	return subs, nil
}

func (d *Dynamo) Aggregates(ctx context.Context) (*AggregateSet, error) {
	set := &AggregateSet{}
	var err error
	if set.Actors, err = d.ListActors(ctx); err != nil {
		return nil, err
	}
	if set.Events, err = d.ListEvents(ctx); err != nil {
		return nil, err
	}
	clicks, err := d.queryPartition(ctx, pkClick)
	if err != nil {
		return nil, err
	}
	for _, item := range clicks {
		var c domain.ClickRecord
		if err := json.Unmarshal([]byte(item.Data), &c); err != nil {
			continue
		}
		set.Clicks = append(set.Clicks, c)
	}
	if set.Visits, err = d.ListVisits(ctx); err != nil {
		return nil, err
	}
	if set.Subscriptions, err = d.ListSubscriptions(ctx); err != nil {
		return nil, err
	}
	return set, nil
}

func (d *Dynamo) Ping(ctx context.Context) error {
	_, err := d.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err != nil {
		return backendErr(fmt.Sprintf("describing table %s", d.tableName), err)
	}
	return nil
}
