package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/kkkkikiki/promo/internal/model"
	"github.com/kkkkikiki/promo/internal/registry"
)

const (
	// DynamoDB limits
	batchWriteLimit    = 25
	transactWriteLimit = 100

	maxBatchAttempts = 5
	retryBackoff     = 50 * time.Millisecond

	codeSKPrefix       = "CODE#"
	agentSKPrefix      = "AGENT#"
	redemptionSKPrefix = "REDEMPTION#"
)

// ErrUnprocessed is returned when DynamoDB keeps rejecting part of a batch
var ErrUnprocessed = errors.New("dynamodb left items unprocessed")

// API is the subset of the DynamoDB client the store uses
type API interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

type codeItem struct {
	PK          string     `dynamodbav:"PK"`
	SK          string     `dynamodbav:"SK"`
	ID          int64      `dynamodbav:"id"`
	Code        string     `dynamodbav:"code"`
	Prefix      string     `dynamodbav:"prefix"`
	Sequence    int        `dynamodbav:"sequence"`
	Status      string     `dynamodbav:"status"`
	AgentID     string     `dynamodbav:"agent_id,omitempty"`
	AgentName   string     `dynamodbav:"agent_name,omitempty"`
	Redemptions int        `dynamodbav:"redemptions"`
	CreatedAt   time.Time  `dynamodbav:"created_at"`
	AssignedAt  *time.Time `dynamodbav:"assigned_at,omitempty"`
}

func (i codeItem) toModel() model.PromoCode {
	code := model.PromoCode{
		ID:          i.ID,
		Code:        i.Code,
		Prefix:      i.Prefix,
		Sequence:    i.Sequence,
		Status:      model.Status(i.Status),
		Redemptions: i.Redemptions,
		CreatedAt:   i.CreatedAt,
		AssignedAt:  i.AssignedAt,
	}
	if i.AgentID != "" {
		code.Agent = &model.Agent{ID: i.AgentID, Name: i.AgentName}
	}
	return code
}

type agentItem struct {
	PK   string `dynamodbav:"PK"`
	SK   string `dynamodbav:"SK"`
	ID   string `dynamodbav:"id"`
	Name string `dynamodbav:"name"`
}

type redemptionItem struct {
	PK            string    `dynamodbav:"PK"`
	SK            string    `dynamodbav:"SK"`
	ID            string    `dynamodbav:"id"`
	CodeID        int64     `dynamodbav:"code_id"`
	Code          string    `dynamodbav:"code"`
	AgentID       string    `dynamodbav:"agent_id"`
	CustomerName  string    `dynamodbav:"customer_name"`
	CustomerPhone string    `dynamodbav:"customer_phone"`
	RedeemedAt    time.Time `dynamodbav:"redeemed_at"`
}

func (i redemptionItem) toModel() model.Redemption {
	return model.Redemption{
		ID:            i.ID,
		CodeID:        i.CodeID,
		Code:          i.Code,
		AgentID:       i.AgentID,
		CustomerName:  i.CustomerName,
		CustomerPhone: i.CustomerPhone,
		RedeemedAt:    i.RedeemedAt,
	}
}

// Store keeps one registry in a single DynamoDB partition
type Store struct {
	client    API
	tableName string
	pk        string
}

// New creates a store over an existing client
func New(client API, tableName, registryName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		pk:        "REGISTRY#" + registryName,
	}
}

// NewFromConfig loads AWS configuration and creates a store
func NewFromConfig(ctx context.Context, tableName, registryName, region, profile, endpoint string) (*Store, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return New(client, tableName, registryName), nil
}

func codeSK(id int64) string {
	return fmt.Sprintf("%s%012d", codeSKPrefix, id)
}

func (s *Store) key(sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: s.pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// SaveCodes writes a generated batch, 25 documents per request
func (s *Store) SaveCodes(ctx context.Context, codes []model.PromoCode) error {
	requests := make([]types.WriteRequest, 0, len(codes))
	for _, code := range codes {
		av, err := attributevalue.MarshalMap(codeItem{
			PK:        s.pk,
			SK:        codeSK(code.ID),
			ID:        code.ID,
			Code:      code.Code,
			Prefix:    code.Prefix,
			Sequence:  code.Sequence,
			Status:    string(code.Status),
			CreatedAt: code.CreatedAt,
		})
		if err != nil {
			return fmt.Errorf("marshaling promo code %s: %w", code.Code, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}

	for i := 0; i < len(requests); i += batchWriteLimit {
		end := i + batchWriteLimit
		if end > len(requests) {
			end = len(requests)
		}
		if err := s.batchWrite(ctx, requests[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.tableName: requests}
	for attempt := 0; attempt < maxBatchAttempts; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return fmt.Errorf("writing promo code batch to DynamoDB: %w", err)
		}
		if len(out.UnprocessedItems[s.tableName]) == 0 {
			return nil
		}
		pending = out.UnprocessedItems

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryBackoff * time.Duration(attempt+1)):
		}
	}
	return fmt.Errorf("%w: %d items", ErrUnprocessed, len(pending[s.tableName]))
}

// AssignCodes updates the agent fields of each listed document. Updates are
// grouped in transactions of up to 100 documents; every document must exist.
func (s *Store) AssignCodes(ctx context.Context, ids []int64, agent model.Agent, at time.Time) error {
	assignedAt, err := attributevalue.Marshal(at)
	if err != nil {
		return fmt.Errorf("marshaling assigned_at: %w", err)
	}

	for i := 0; i < len(ids); i += transactWriteLimit {
		end := i + transactWriteLimit
		if end > len(ids) {
			end = len(ids)
		}

		items := make([]types.TransactWriteItem, 0, end-i)
		for _, id := range ids[i:end] {
			items = append(items, types.TransactWriteItem{Update: &types.Update{
				TableName:           aws.String(s.tableName),
				Key:                 s.key(codeSK(id)),
				ConditionExpression: aws.String("attribute_exists(PK)"),
				UpdateExpression:    aws.String("SET #status = :status, agent_id = :agent_id, agent_name = :agent_name, assigned_at = :assigned_at"),
				ExpressionAttributeNames: map[string]string{
					"#status": "status",
				},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":status":      &types.AttributeValueMemberS{Value: string(model.StatusAssigned)},
					":agent_id":    &types.AttributeValueMemberS{Value: agent.ID},
					":agent_name":  &types.AttributeValueMemberS{Value: agent.Name},
					":assigned_at": assignedAt,
				},
			}})
		}

		if _, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items}); err != nil {
			return fmt.Errorf("assigning promo codes %d-%d in DynamoDB: %w", i, end-1, err)
		}
	}
	return nil
}

// SaveRedemption stores the redemption and bumps the code counter atomically
func (s *Store) SaveRedemption(ctx context.Context, redemption model.Redemption) error {
	av, err := attributevalue.MarshalMap(redemptionItem{
		PK:            s.pk,
		SK:            redemptionSKPrefix + redemption.ID,
		ID:            redemption.ID,
		CodeID:        redemption.CodeID,
		Code:          redemption.Code,
		AgentID:       redemption.AgentID,
		CustomerName:  redemption.CustomerName,
		CustomerPhone: redemption.CustomerPhone,
		RedeemedAt:    redemption.RedeemedAt,
	})
	if err != nil {
		return fmt.Errorf("marshaling redemption: %w", err)
	}

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: &types.Put{
				TableName:           aws.String(s.tableName),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			}},
			{Update: &types.Update{
				TableName:           aws.String(s.tableName),
				Key:                 s.key(codeSK(redemption.CodeID)),
				ConditionExpression: aws.String("attribute_exists(PK)"),
				UpdateExpression:    aws.String("ADD redemptions :one"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":one": &types.AttributeValueMemberN{Value: "1"},
				},
			}},
		},
	})
	if err != nil {
		return fmt.Errorf("saving redemption to DynamoDB: %w", err)
	}
	return nil
}

// LoadCodes reads every code document of the registry
func (s *Store) LoadCodes(ctx context.Context) ([]model.PromoCode, error) {
	items, err := s.queryPrefix(ctx, codeSKPrefix)
	if err != nil {
		return nil, fmt.Errorf("querying promo codes: %w", err)
	}

	codes := make([]model.PromoCode, 0, len(items))
	for _, item := range items {
		var ci codeItem
		if err := attributevalue.UnmarshalMap(item, &ci); err != nil {
			return nil, fmt.Errorf("unmarshaling promo code: %w", err)
		}
		codes = append(codes, ci.toModel())
	}
	return codes, nil
}

// ListRedemptions reads the redemption documents of the registry, newest first.
// Filtering happens after the partition query.
func (s *Store) ListRedemptions(ctx context.Context, filter model.RedemptionFilter) ([]model.Redemption, error) {
	items, err := s.queryPrefix(ctx, redemptionSKPrefix)
	if err != nil {
		return nil, fmt.Errorf("querying redemptions: %w", err)
	}

	redemptions := make([]model.Redemption, 0, len(items))
	for _, item := range items {
		var ri redemptionItem
		if err := attributevalue.UnmarshalMap(item, &ri); err != nil {
			return nil, fmt.Errorf("unmarshaling redemption: %w", err)
		}
		redemption := ri.toModel()
		if filter.Matches(redemption) {
			redemptions = append(redemptions, redemption)
		}
	}

	sort.Slice(redemptions, func(i, j int) bool {
		if !redemptions[i].RedeemedAt.Equal(redemptions[j].RedeemedAt) {
			return redemptions[i].RedeemedAt.After(redemptions[j].RedeemedAt)
		}
		return redemptions[i].ID < redemptions[j].ID
	})
	if filter.Limit > 0 && len(redemptions) > filter.Limit {
		redemptions = redemptions[:filter.Limit]
	}
	return redemptions, nil
}

// PutAgent creates or replaces an agent document
func (s *Store) PutAgent(ctx context.Context, agent model.Agent) error {
	av, err := attributevalue.MarshalMap(agentItem{
		PK:   s.pk,
		SK:   agentSKPrefix + agent.ID,
		ID:   agent.ID,
		Name: agent.Name,
	})
	if err != nil {
		return fmt.Errorf("marshaling agent: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting agent to DynamoDB: %w", err)
	}
	return nil
}

// ListAgents returns the agent documents ordered by name
func (s *Store) ListAgents(ctx context.Context) ([]model.Agent, error) {
	items, err := s.queryPrefix(ctx, agentSKPrefix)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}

	agents := make([]model.Agent, 0, len(items))
	for _, item := range items {
		var ai agentItem
		if err := attributevalue.UnmarshalMap(item, &ai); err != nil {
			return nil, fmt.Errorf("unmarshaling agent: %w", err)
		}
		agents = append(agents, model.Agent{ID: ai.ID, Name: ai.Name})
	}
	sortAgents(agents)
	return agents, nil
}

// GetAgent retrieves one agent document
func (s *Store) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, registry.ErrAgentNotFound
	}

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.key(agentSKPrefix + id),
	})
	if err != nil {
		return nil, fmt.Errorf("getting agent from DynamoDB: %w", err)
	}
	if result.Item == nil {
		return nil, registry.ErrAgentNotFound
	}

	var ai agentItem
	if err := attributevalue.UnmarshalMap(result.Item, &ai); err != nil {
		return nil, fmt.Errorf("unmarshaling agent: %w", err)
	}
	return &model.Agent{ID: ai.ID, Name: ai.Name}, nil
}

func (s *Store) queryPrefix(ctx context.Context, skPrefix string) ([]map[string]types.AttributeValue, error) {
	var (
		items    []map[string]types.AttributeValue
		startKey map[string]types.AttributeValue
	)
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: s.pk},
				":sk": &types.AttributeValueMemberS{Value: skPrefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func sortAgents(agents []model.Agent) {
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].Name != agents[j].Name {
			return agents[i].Name < agents[j].Name
		}
		return agents[i].ID < agents[j].ID
	})
}
