package repository

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

const (
	defaultVectorDimension = 384
	defaultCallTimeout     = 10 * time.Second
)

// QdrantConnectionConfig holds configuration for the Qdrant connection.
type QdrantConnectionConfig struct {
	Host            string
	Port            int
	Collection      string
	APIKey          string // Qdrant Cloud API key (enables TLS automatically)
	UseTLS          bool   // Explicitly enable TLS without an API key
	VectorDimension int
	Timeout         time.Duration // Per-call deadline, defaults to 10s
}

// apiKeyInterceptor creates a unary interceptor that adds the API key to metadata.
func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// QdrantRepository handles vector point operations against the product collection.
type QdrantRepository struct {
	conn            *grpc.ClientConn
	pointsClient    pb.PointsClient
	collectClient   pb.CollectionsClient
	collectionName  string
	vectorDimension int
	timeout         time.Duration
}

// callCtx bounds a single gRPC call. Workers and the resync CLI call in with
// deadline-free contexts, so a wedged Qdrant must not block them forever.
func (r *QdrantRepository) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// NewQdrantRepository creates a new QdrantRepository.
// Supports both local Qdrant (insecure) and Qdrant Cloud (TLS + API key).
func NewQdrantRepository(cfg *QdrantConnectionConfig) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	vectorDimension := cfg.VectorDimension
	if vectorDimension <= 0 {
		vectorDimension = defaultVectorDimension
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	var opts []grpc.DialOption

	useTLS := cfg.UseTLS || cfg.APIKey != ""
	if useTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)))
		if cfg.APIKey != "" {
			opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
		}
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}

	return &QdrantRepository{
		conn:            conn,
		pointsClient:    pb.NewPointsClient(conn),
		collectClient:   pb.NewCollectionsClient(conn),
		collectionName:  cfg.Collection,
		vectorDimension: vectorDimension,
		timeout:         timeout,
	}, nil
}

// Close closes the gRPC connection.
func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// EnsureCollection creates the product collection if it doesn't exist and
// verifies the vector size when it does.
func (r *QdrantRepository) EnsureCollection(ctx context.Context) error {
	getCtx, cancel := r.callCtx(ctx)
	info, err := r.collectClient.Get(getCtx, &pb.GetCollectionInfoRequest{
		CollectionName: r.collectionName,
	})
	cancel()
	if err == nil {
		if size, ok := collectionVectorSize(info.GetResult()); ok {
			if size != uint64(r.vectorDimension) {
				return fmt.Errorf("collection %s has vector size %d, expected %d", r.collectionName, size, r.vectorDimension)
			}
		}
		return nil
	}

	createCtx, cancel := r.callCtx(ctx)
	defer cancel()
	_, err = r.collectClient.Create(createCtx, &pb.CreateCollection{
		CollectionName: r.collectionName,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(r.vectorDimension),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

func collectionVectorSize(info *pb.CollectionInfo) (uint64, bool) {
	if info == nil {
		return 0, false
	}
	config := info.GetConfig()
	if config == nil {
		return 0, false
	}
	params := config.GetParams()
	if params == nil {
		return 0, false
	}
	vectors := params.GetVectorsConfig()
	if vectors == nil {
		return 0, false
	}
	if single := vectors.GetParams(); single != nil {
		if size := single.GetSize(); size > 0 {
			return size, true
		}
	}
	return 0, false
}

// ProductPayload is the denormalized payload stored with each vector point.
// It is enough to filter by merchant without a join; the catalog store stays
// authoritative for display data.
type ProductPayload struct {
	ProductID   string   `json:"product_id"`
	MerchantID  string   `json:"merchant_id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Price       float64  `json:"price"`
	SpecsBlock  []string `json:"specs_block"`
	Keywords    []string `json:"keywords"`
}

// Upsert inserts or replaces a vector point. Point ids are deterministic per
// product, so redelivery replaces the same point instead of duplicating it.
func (r *QdrantRepository) Upsert(ctx context.Context, pointID string, vector []float32, payload *ProductPayload) error {
	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	points := []*pb.PointStruct{
		{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vector},
				},
			},
			Payload: map[string]*pb.Value{
				"product_id":  {Kind: &pb.Value_StringValue{StringValue: payload.ProductID}},
				"merchant_id": {Kind: &pb.Value_StringValue{StringValue: payload.MerchantID}},
				"name":        {Kind: &pb.Value_StringValue{StringValue: payload.Name}},
				"description": {Kind: &pb.Value_StringValue{StringValue: payload.Description}},
				"category":    {Kind: &pb.Value_StringValue{StringValue: payload.Category}},
				"price":       {Kind: &pb.Value_DoubleValue{DoubleValue: payload.Price}},
				"specs_block": stringsToValue(payload.SpecsBlock),
				"keywords":    stringsToValue(payload.Keywords),
			},
		},
	}

	callCtx, cancel := r.callCtx(ctx)
	defer cancel()
	_, err = r.pointsClient.Upsert(callCtx, &pb.UpsertPoints{
		CollectionName: r.collectionName,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert point: %w", err)
	}

	return nil
}

func stringsToValue(items []string) *pb.Value {
	values := make([]*pb.Value, len(items))
	for i, item := range items {
		values[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: item}}
	}
	return &pb.Value{
		Kind: &pb.Value_ListValue{
			ListValue: &pb.ListValue{Values: values},
		},
	}
}

// SearchResult represents one similarity hit from Qdrant.
type SearchResult struct {
	ID      string
	Score   float32
	Payload *ProductPayload
}

// Search performs a vector similarity search filtered to one merchant.
func (r *QdrantRepository) Search(ctx context.Context, vector []float32, limit int, merchantID string) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: r.collectionName,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
		Filter: &pb.Filter{
			Must: []*pb.Condition{
				{
					ConditionOneOf: &pb.Condition_Field{
						Field: &pb.FieldCondition{
							Key: "merchant_id",
							Match: &pb.Match{
								MatchValue: &pb.Match_Keyword{Keyword: merchantID},
							},
						},
					},
				},
			},
		},
	}

	callCtx, cancel := r.callCtx(ctx)
	defer cancel()
	resp, err := r.pointsClient.Search(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, len(resp.Result))
	for i, scored := range resp.Result {
		results[i] = SearchResult{
			ID:      scored.Id.GetUuid(),
			Score:   scored.Score,
			Payload: parsePayload(scored.Payload),
		}
	}

	return results, nil
}

func parsePayload(payload map[string]*pb.Value) *ProductPayload {
	if payload == nil {
		return nil
	}

	p := &ProductPayload{}
	if v, ok := payload["product_id"]; ok {
		p.ProductID = v.GetStringValue()
	}
	if v, ok := payload["merchant_id"]; ok {
		p.MerchantID = v.GetStringValue()
	}
	if v, ok := payload["name"]; ok {
		p.Name = v.GetStringValue()
	}
	if v, ok := payload["description"]; ok {
		p.Description = v.GetStringValue()
	}
	if v, ok := payload["category"]; ok {
		p.Category = v.GetStringValue()
	}
	if v, ok := payload["price"]; ok {
		p.Price = v.GetDoubleValue()
	}
	if v, ok := payload["specs_block"]; ok {
		if list := v.GetListValue(); list != nil {
			for _, item := range list.Values {
				p.SpecsBlock = append(p.SpecsBlock, item.GetStringValue())
			}
		}
	}
	if v, ok := payload["keywords"]; ok {
		if list := v.GetListValue(); list != nil {
			for _, item := range list.Values {
				p.Keywords = append(p.Keywords, item.GetStringValue())
			}
		}
	}

	return p
}

// ListPointIDs pages through every point id in the collection. offset is the
// id to resume from ("" for the first page); the returned offset is "" once
// the collection is exhausted. Used by the resync cleanup sweep.
func (r *QdrantRepository) ListPointIDs(ctx context.Context, limit uint32, offset string) ([]string, string, error) {
	req := &pb.ScrollPoints{
		CollectionName: r.collectionName,
		Limit:          &limit,
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: false},
		},
	}
	if offset != "" {
		req.Offset = &pb.PointId{
			PointIdOptions: &pb.PointId_Uuid{Uuid: offset},
		}
	}

	callCtx, cancel := r.callCtx(ctx)
	defer cancel()
	resp, err := r.pointsClient.Scroll(callCtx, req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to scroll points: %w", err)
	}

	ids := make([]string, 0, len(resp.Result))
	for _, point := range resp.Result {
		ids = append(ids, point.GetId().GetUuid())
	}

	next := ""
	if resp.NextPageOffset != nil {
		next = resp.NextPageOffset.GetUuid()
	}
	return ids, next, nil
}

// Delete deletes a point by ID.
func (r *QdrantRepository) Delete(ctx context.Context, pointID string) error {
	uid, err := uuid.Parse(pointID)
	if err != nil {
		return fmt.Errorf("invalid point ID: %w", err)
	}

	callCtx, cancel := r.callCtx(ctx)
	defer cancel()
	_, err = r.pointsClient.Delete(callCtx, &pb.DeletePoints{
		CollectionName: r.collectionName,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{
					Ids: []*pb.PointId{
						{PointIdOptions: &pb.PointId_Uuid{Uuid: uid.String()}},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete point: %w", err)
	}

	return nil
}
