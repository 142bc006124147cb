package qdrantdb

import (
	"context"
	"crypto/tls"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"policyrag/internal/config"
	"policyrag/internal/helper"
	"policyrag/internal/models"
	"policyrag/internal/vectorindex"
)

const (
	payloadText     = "text"
	payloadChunkID  = "chunk_id"
	payloadPage     = "page"
	payloadTokens   = "token_count"
	payloadDocument = "document_name"
)

// Store keeps one Qdrant collection per namespace.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	apiKey      string
	dims        int
	distance    pb.Distance
	prefix      string
}

func New(cfg config.QdrantConfig, metric vectorindex.Metric, prefix string) (*Store, error) {
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		apiKey:      cfg.APIKey,
		dims:        cfg.Dimensions,
		distance:    distanceFor(metric),
		prefix:      prefix,
	}, nil
}

func (s *Store) auth(ctx context.Context) context.Context {
	if s.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
}

func (s *Store) collectionName(namespace string) string {
	return s.prefix + namespace
}

func (s *Store) exists(ctx context.Context, name string) (bool, error) {
	resp, err := s.collections.CollectionExists(s.auth(ctx), &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return false, fmt.Errorf("qdrant collection exists: %w", err)
	}
	return resp.GetResult().GetExists(), nil
}

func (s *Store) ensureCollection(ctx context.Context, name string, dims int) error {
	ok, err := s.exists(ctx, name)
	if err != nil || ok {
		return err
	}
	_, err = s.collections.Create(s.auth(ctx), &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(dims), Distance: s.distance},
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection %s: %w", name, err)
	}
	log.Info().Str("collection", name).Int("dimensions", dims).Str("distance", s.distance.String()).Msg("Created collection")
	return nil
}

func (s *Store) Upsert(ctx context.Context, namespace string, items []models.ChunkEmbedding) error {
	if len(items) == 0 {
		return nil
	}
	dims := s.dims
	if dims == 0 {
		dims = len(items[0].Embedding)
	}
	name := s.collectionName(namespace)
	if err := s.ensureCollection(ctx, name, dims); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(items))
	for i, it := range items {
		if len(it.Embedding) != dims {
			return fmt.Errorf("chunk %s: embedding has %d dimensions, collection expects %d", it.ChunkID, len(it.Embedding), dims)
		}
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: helper.PointID(namespace, it.ChunkID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: it.Embedding}}},
			Payload: toPayload(it.Chunk),
		}
	}

	wait := true
	_, err := s.points.Upsert(s.auth(ctx), &pb.UpsertPoints{
		CollectionName: name,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Search relies on Qdrant's threshold semantics: a lower bound for
// similarities and an upper bound for distances.
func (s *Store) Search(ctx context.Context, namespace string, query []float32, k int, threshold float64) ([]models.SearchHit, error) {
	if k <= 0 {
		return nil, nil
	}
	name := s.collectionName(namespace)
	ok, err := s.exists(ctx, name)
	if err != nil || !ok {
		return nil, err
	}
	scoreThreshold := float32(threshold)
	resp, err := s.points.Search(s.auth(ctx), &pb.SearchPoints{
		CollectionName: name,
		Vector:         query,
		Limit:          uint64(k),
		ScoreThreshold: &scoreThreshold,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	hits := make([]models.SearchHit, len(resp.GetResult()))
	for i, pt := range resp.GetResult() {
		hits[i] = models.SearchHit{Chunk: fromPayload(pt.GetPayload()), Score: float64(pt.GetScore())}
	}
	return hits, nil
}

func (s *Store) DropNamespace(ctx context.Context, namespace string) error {
	name := s.collectionName(namespace)
	ok, err := s.exists(ctx, name)
	if err != nil || !ok {
		return err
	}
	if _, err := s.collections.Delete(s.auth(ctx), &pb.DeleteCollection{CollectionName: name}); err != nil {
		return fmt.Errorf("qdrant delete collection %s: %w", name, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func distanceFor(m vectorindex.Metric) pb.Distance {
	switch m {
	case vectorindex.Euclidean:
		return pb.Distance_Euclid
	case vectorindex.Manhattan:
		return pb.Distance_Manhattan
	case vectorindex.DotProduct:
		return pb.Distance_Dot
	default:
		return pb.Distance_Cosine
	}
}

func toPayload(c models.Chunk) map[string]*pb.Value {
	return map[string]*pb.Value{
		payloadText:     {Kind: &pb.Value_StringValue{StringValue: c.Text}},
		payloadChunkID:  {Kind: &pb.Value_StringValue{StringValue: c.ChunkID}},
		payloadDocument: {Kind: &pb.Value_StringValue{StringValue: c.DocumentName}},
		payloadPage:     {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.Page)}},
		payloadTokens:   {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.TokenCount)}},
	}
}

func fromPayload(p map[string]*pb.Value) models.Chunk {
	return models.Chunk{
		ChunkID:      p[payloadChunkID].GetStringValue(),
		Text:         p[payloadText].GetStringValue(),
		Page:         int(p[payloadPage].GetIntegerValue()),
		TokenCount:   int(p[payloadTokens].GetIntegerValue()),
		DocumentName: p[payloadDocument].GetStringValue(),
	}
}
