// Package vectorstore mirrors article embeddings into Qdrant and serves
// nearest-neighbour queries from it.
package vectorstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/TobiSchelling/vortex/internal/config"
	"github.com/TobiSchelling/vortex/internal/database"
)

// pointNamespace derives stable point ids from article ids, so re-indexing
// an article overwrites its previous point.
var pointNamespace = uuid.MustParse("6f1c2b9e-4a57-4d0e-9a3b-6c1f0d5e8a21")

// Hit is one search result.
type Hit struct {
	ArticleID int64
	Score     float32
}

// Store is a Qdrant collection holding one point per indexed article.
type Store struct {
	collections pb.CollectionsClient
	points      pb.PointsClient
	collection  string
	conn        *grpc.ClientConn
}

// NewStore dials Qdrant over gRPC. The connection is lazy; the first call
// reports an unreachable server.
func NewStore(cfg config.QdrantConfig) (*Store, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}

	return &Store{
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		collection:  cfg.Collection,
		conn:        conn,
	}, nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// EnsureCollection creates the collection with cosine distance if missing.
func (s *Store) EnsureCollection(ctx context.Context, dims int) error {
	if _, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection}); err == nil {
		return nil
	}

	_, err := s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	}
	return nil
}

func pointID(articleID int64) *pb.PointId {
	id := uuid.NewSHA1(pointNamespace, []byte(strconv.FormatInt(articleID, 10)))
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
}

// Upsert stores the embedding of an article.
func (s *Store) Upsert(ctx context.Context, a database.Article, vec []float32) error {
	payload := map[string]*pb.Value{
		"article_id": {Kind: &pb.Value_IntegerValue{IntegerValue: a.ID}},
		"title":      {Kind: &pb.Value_StringValue{StringValue: a.Title}},
		"url":        {Kind: &pb.Value_StringValue{StringValue: a.URL}},
	}
	if a.SourceName != nil {
		payload["source"] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: *a.SourceName}}
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points: []*pb.PointStruct{{
			Id: pointID(a.ID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vec}},
			},
			Payload: payload,
		}},
	})
	if err != nil {
		return fmt.Errorf("upserting article %d: %w", a.ID, err)
	}
	return nil
}

// Search returns the k points closest to vec.
func (s *Store) Search(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vec,
		Limit:          uint64(k),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("searching points: %w", err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		v, ok := p.GetPayload()["article_id"]
		if !ok {
			continue
		}
		hits = append(hits, Hit{ArticleID: v.GetIntegerValue(), Score: p.GetScore()})
	}
	return hits, nil
}

// Searcher answers nearest-neighbour queries from Qdrant and loads the
// matching articles from the database.
type Searcher struct {
	store *Store
	db    *database.DB
}

// NewSearcher creates a Searcher.
func NewSearcher(store *Store, db *database.DB) *Searcher {
	return &Searcher{store: store, db: db}
}

// SearchSimilar returns up to k articles ordered by similarity. Points whose
// article no longer exists are skipped.
func (s *Searcher) SearchSimilar(ctx context.Context, vec []float32, k int) ([]database.ScoredArticle, error) {
	hits, err := s.store.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	out := make([]database.ScoredArticle, 0, len(hits))
	for _, h := range hits {
		a, err := s.db.GetArticleByID(h.ArticleID)
		if err != nil {
			return nil, err
		}
		if a == nil {
			continue
		}
		out = append(out, database.ScoredArticle{Article: *a, Similarity: float64(h.Score)})
	}
	return out, nil
}
