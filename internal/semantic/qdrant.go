package semantic

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantConfig holds connection settings for a Qdrant instance.
type QdrantConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port" validate:"gte=0,lte=65535"`
	Collection string `json:"collection"`
}

// Point is an observation vector keyed by its numeric observation id.
type Point struct {
	ID      int64
	Vector  []float32
	Payload map[string]string
}

// Hit is one nearest-neighbour match.
type Hit struct {
	ID    int64
	Score float32
}

// VectorIndex is the subset of Qdrant the provider relies on.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64) ([]Hit, error)
}

// QdrantIndex talks to Qdrant's collections and points gRPC services.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
}

// NewQdrantIndex dials the Qdrant gRPC endpoint.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	return &QdrantIndex{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
	}, nil
}

// EnsureCollection creates a cosine-distance collection if it does not exist.
func (q *QdrantIndex) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	if _, err := q.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: name}); err == nil {
		return nil
	}
	_, err := q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes points in a single request.
func (q *QdrantIndex) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*pb.PointStruct, 0, len(points))
	for _, p := range points {
		payload := make(map[string]*pb.Value, len(p.Payload))
		for k, v := range p.Payload {
			payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
		}
		structs = append(structs, &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(p.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: p.Vector}}},
			Payload: payload,
		})
	}
	if _, err := q.points.Upsert(ctx, &pb.UpsertPoints{CollectionName: collection, Points: structs}); err != nil {
		return fmt.Errorf("upsert %d points to %s: %w", len(points), collection, err)
	}
	return nil
}

// Search returns the limit nearest points. Points without a numeric id are skipped.
func (q *QdrantIndex) Search(ctx context.Context, collection string, vector []float32, limit uint64) ([]Hit, error) {
	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          limit,
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		num, ok := r.Id.GetPointIdOptions().(*pb.PointId_Num)
		if !ok {
			continue
		}
		hits = append(hits, Hit{ID: int64(num.Num), Score: r.Score})
	}
	return hits, nil
}

// Close tears down the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.conn.Close()
}
