package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"lobbydocs/internal/config"
	"lobbydocs/internal/model"
	"lobbydocs/internal/repository"
)

// counterID is the reserved item holding the last assigned document id.
const counterID int64 = 0

// dynamoAPI is the subset of *dynamodb.Client used here.
type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

type documentItem struct {
	ID         int64  `dynamodbav:"id"`
	File       string `dynamodbav:"file"`
	Filename   string `dynamodbav:"filename"`
	UploadDate string `dynamodbav:"upload_date"`
	LobbyName  string `dynamodbav:"lobby_name"`
	Uploader   string `dynamodbav:"uploader"`
}

func toItem(doc *model.Document) documentItem {
	return documentItem{
		ID:         doc.ID,
		File:       doc.File,
		Filename:   doc.Filename,
		UploadDate: doc.UploadDate.UTC().Format(time.RFC3339Nano),
		LobbyName:  doc.LobbyName,
		Uploader:   doc.Uploader,
	}
}

func (it documentItem) toModel() (model.Document, error) {
	uploaded, err := time.Parse(time.RFC3339Nano, it.UploadDate)
	if err != nil {
		return model.Document{}, fmt.Errorf("parse upload_date of document %d: %w", it.ID, err)
	}
	return model.Document{
		ID:         it.ID,
		File:       it.File,
		Filename:   it.Filename,
		UploadDate: uploaded,
		LobbyName:  it.LobbyName,
		Uploader:   it.Uploader,
	}, nil
}

// DocumentDynamoDB stores documents in a DynamoDB table keyed by the numeric "id"
// attribute. Ids come from an atomic counter item so they are never reused.
type DocumentDynamoDB struct {
	client dynamoAPI
	table  string
}

var _ repository.DocumentRepository = (*DocumentDynamoDB)(nil)

// New loads the AWS configuration and returns a repository for cfg.Table.
func New(ctx context.Context, cfg config.DynamoDBConfig) (*DocumentDynamoDB, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb table is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS SDK config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewDocumentDynamoDB(client, cfg.Table), nil
}

// NewDocumentDynamoDB returns a repository over table using client.
func NewDocumentDynamoDB(client dynamoAPI, table string) *DocumentDynamoDB {
	return &DocumentDynamoDB{client: client, table: table}
}

func idKey(id int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberN{Value: strconv.FormatInt(id, 10)},
	}
}

// PingContext reports whether the table is reachable.
func (r *DocumentDynamoDB) PingContext(ctx context.Context) error {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(r.table)})
	return err
}

func (r *DocumentDynamoDB) nextID(ctx context.Context) (int64, error) {
	expr, err := expression.NewBuilder().
		WithUpdate(expression.Add(expression.Name("seq"), expression.Value(1))).
		Build()
	if err != nil {
		return 0, fmt.Errorf("build counter expression: %w", err)
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       idKey(counterID),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("increment document counter: %w", err)
	}

	var seq int64
	if err := attributevalue.Unmarshal(out.Attributes["seq"], &seq); err != nil {
		return 0, fmt.Errorf("read document counter: %w", err)
	}
	return seq, nil
}

// Create assigns the next id and writes the item unless that id already exists.
func (r *DocumentDynamoDB) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	id, err := r.nextID(ctx)
	if err != nil {
		return nil, err
	}

	stored := *doc
	stored.ID = id
	av, err := attributevalue.MarshalMap(toItem(&stored))
	if err != nil {
		return nil, fmt.Errorf("marshal document item: %w", err)
	}

	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeNotExists(expression.Name("id"))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build create condition: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(r.table),
		Item:                     av,
		ConditionExpression:      cond.Condition(),
		ExpressionAttributeNames: cond.Names(),
	})
	if err != nil {
		return nil, fmt.Errorf("put document item: %w", err)
	}
	return &stored, nil
}

// FindByID reads one item with a consistent read.
func (r *DocumentDynamoDB) FindByID(ctx context.Context, id int64) (*model.Document, error) {
	if id <= counterID {
		return nil, repository.ErrNotFound
	}
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get document item: %w", err)
	}
	if out.Item == nil {
		return nil, repository.ErrNotFound
	}

	var item documentItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal document item: %w", err)
	}
	doc, err := item.toModel()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// List scans the whole table; ordering and paging happen in memory.
func (r *DocumentDynamoDB) List(ctx context.Context, f repository.ListFilter) ([]model.Document, error) {
	filter := expression.Name("id").GreaterThan(expression.Value(counterID))
	if f.LobbyName != "" {
		filter = filter.And(expression.Name("lobby_name").Equal(expression.Value(f.LobbyName)))
	}
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("build list filter: %w", err)
	}

	p := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:                 aws.String(r.table),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	docs := make([]model.Document, 0)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan documents: %w", err)
		}
		var items []documentItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal document items: %w", err)
		}
		for _, it := range items {
			doc, err := it.toModel()
			if err != nil {
				return nil, err
			}
			docs = append(docs, doc)
		}
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })

	if f.Offset >= len(docs) {
		return docs[:0], nil
	}
	docs = docs[f.Offset:]
	if f.Limit > 0 && f.Limit < len(docs) {
		docs = docs[:f.Limit]
	}
	return docs, nil
}

// Update rewrites the mutable attributes of an existing item. upload_date is kept.
func (r *DocumentDynamoDB) Update(ctx context.Context, doc *model.Document) (*model.Document, error) {
	if doc.ID <= counterID {
		return nil, repository.ErrNotFound
	}
	update := expression.Set(expression.Name("file"), expression.Value(doc.File))
	update = update.Set(expression.Name("filename"), expression.Value(doc.Filename))
	update = update.Set(expression.Name("lobby_name"), expression.Value(doc.LobbyName))
	update = update.Set(expression.Name("uploader"), expression.Value(doc.Uploader))

	expr, err := expression.NewBuilder().
		WithUpdate(update).
		WithCondition(expression.AttributeExists(expression.Name("id"))).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build update expression: %w", err)
	}

	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(r.table),
		Key:                       idKey(doc.ID),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("update document item: %w", err)
	}

	var item documentItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return nil, fmt.Errorf("unmarshal document item: %w", err)
	}
	updated, err := item.toModel()
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes an existing item; a missing id yields ErrNotFound.
func (r *DocumentDynamoDB) Delete(ctx context.Context, id int64) error {
	if id <= counterID {
		return repository.ErrNotFound
	}
	cond, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.Name("id"))).
		Build()
	if err != nil {
		return fmt.Errorf("build delete condition: %w", err)
	}

	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                aws.String(r.table),
		Key:                      idKey(id),
		ConditionExpression:      cond.Condition(),
		ExpressionAttributeNames: cond.Names(),
	})
	if err != nil {
		if isConditionFailed(err) {
			return repository.ErrNotFound
		}
		return fmt.Errorf("delete document item: %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
