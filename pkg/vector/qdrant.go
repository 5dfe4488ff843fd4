package vector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/liliang-cn/ragroom/pkg/domain"
	"github.com/liliang-cn/ragroom/pkg/log"
)

const scrollPageSize = 256

// payloadIDKey holds the caller's record ID. Point IDs must be UUIDs, so the
// original ID travels in the payload and the point ID is derived from it.
const payloadIDKey = "_id"

const payloadContentKey = "content"

// QdrantBackend stores collections in a Qdrant server over gRPC.
type QdrantBackend struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient

	mu    sync.Mutex
	known map[string]bool
}

// NewQdrantBackend connects to host, which may carry an http:// or https://
// scheme prefix.
func NewQdrantBackend(host string) (*QdrantBackend, error) {
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimPrefix(host, "https://")

	conn, err := grpc.NewClient(host, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to qdrant at %s: %v", domain.ErrVectorStoreFailed, host, err)
	}
	return &QdrantBackend{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		known:       make(map[string]bool),
	}, nil
}

// ensureCollection creates the collection on first write. The vector size is
// taken from the first stored record, so collections follow whatever
// embedding model the knowledge base is configured with.
func (b *QdrantBackend) ensureCollection(ctx context.Context, collection string, vectorSize int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.known[collection] {
		return nil
	}

	listResp, err := b.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("%w: failed to list collections: %v", domain.ErrVectorStoreFailed, err)
	}
	for _, col := range listResp.Collections {
		if col.Name == collection {
			b.known[collection] = true
			return nil
		}
	}

	_, err = b.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(vectorSize),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create collection %s: %v", domain.ErrVectorStoreFailed, collection, err)
	}
	log.Infof("created qdrant collection %s with vector size %d", collection, vectorSize)
	b.known[collection] = true
	return nil
}

func (b *QdrantBackend) Get(ctx context.Context, collection string, where map[string]any) ([]Record, error) {
	filter := buildFilter(where)

	var records []Record
	var offset *pb.PointId
	for {
		resp, err := b.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: collection,
			Filter:         filter,
			Limit:          ptr(uint32(scrollPageSize)),
			Offset:         offset,
			WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
			WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
		})
		if err != nil {
			if isMissingCollection(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("%w: scroll failed: %v", domain.ErrVectorStoreFailed, err)
		}
		for _, point := range resp.Result {
			records = append(records, fromPoint(point.Payload, point.Vectors))
		}
		if resp.NextPageOffset == nil {
			break
		}
		offset = resp.NextPageOffset
	}
	return records, nil
}

func (b *QdrantBackend) Add(ctx context.Context, collection string, records []Record) error {
	return b.upsert(ctx, collection, records)
}

func (b *QdrantBackend) Update(ctx context.Context, collection string, records []Record) error {
	return b.upsert(ctx, collection, records)
}

func (b *QdrantBackend) upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := b.ensureCollection(ctx, collection, len(records[0].Vector)); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, 0, len(records))
	for _, rec := range records {
		embedding := make([]float32, len(rec.Vector))
		for i, v := range rec.Vector {
			embedding[i] = float32(v)
		}

		payload := map[string]*pb.Value{
			payloadIDKey:      {Kind: &pb.Value_StringValue{StringValue: rec.ID}},
			payloadContentKey: {Kind: &pb.Value_StringValue{StringValue: rec.Content}},
		}
		for k, v := range rec.Metadata {
			payload[k] = toPayloadValue(v)
		}

		points = append(points, &pb.PointStruct{
			Id:      pointID(rec.ID),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: embedding}}},
			Payload: payload,
		})
	}

	_, err := b.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upsert points: %v", domain.ErrVectorStoreFailed, err)
	}
	return nil
}

func (b *QdrantBackend) SimilaritySearch(ctx context.Context, collection string, vector []float64, k int) ([]domain.RetrievedDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	queryVector := make([]float32, len(vector))
	for i, v := range vector {
		queryVector[i] = float32(v)
	}

	resp, err := b.points.Search(ctx, &pb.SearchPoints{
		CollectionName: collection,
		Vector:         queryVector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		if isMissingCollection(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: search failed: %v", domain.ErrVectorStoreFailed, err)
	}

	results := make([]domain.RetrievedDocument, 0, len(resp.Result))
	for _, point := range resp.Result {
		rec := fromPoint(point.Payload, nil)
		results = append(results, domain.RetrievedDocument{
			ID: rec.ID,
			// Qdrant reports cosine similarity; callers expect distance.
			SimilarityScore: 1 - float64(point.Score),
			Content:         rec.Content,
			Metadata:        rec.Metadata,
		})
	}
	return results, nil
}

func (b *QdrantBackend) DeleteCollection(ctx context.Context, collection string) error {
	_, err := b.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: collection})
	if err != nil && !isMissingCollection(err) {
		return fmt.Errorf("%w: failed to delete collection %s: %v", domain.ErrVectorStoreFailed, collection, err)
	}
	b.mu.Lock()
	delete(b.known, collection)
	b.mu.Unlock()
	return nil
}

func (b *QdrantBackend) Close() error {
	return b.conn.Close()
}

func pointID(recordID string) *pb.PointId {
	id := recordID
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID)).String()
	}
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func fromPoint(payload map[string]*pb.Value, vectors *pb.VectorsOutput) Record {
	rec := Record{Metadata: make(map[string]any)}
	for k, v := range payload {
		switch k {
		case payloadIDKey:
			rec.ID = v.GetStringValue()
		case payloadContentKey:
			rec.Content = v.GetStringValue()
		default:
			rec.Metadata[k] = fromPayloadValue(v)
		}
	}
	if vectors != nil {
		if vec := vectors.GetVector(); vec != nil {
			rec.Vector = make([]float64, len(vec.Data))
			for i, f := range vec.Data {
				rec.Vector[i] = float64(f)
			}
		}
	}
	return rec
}

func toPayloadValue(v any) *pb.Value {
	switch val := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: val}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(val)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: val}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(val)}}
	}
}

func fromPayloadValue(v *pb.Value) any {
	switch kind := v.Kind.(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	case *pb.Value_IntegerValue:
		return int(kind.IntegerValue)
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	default:
		return nil
	}
}

func buildFilter(where map[string]any) *pb.Filter {
	if len(where) == 0 {
		return nil
	}
	conditions := make([]*pb.Condition, 0, len(where))
	for k, v := range where {
		var match *pb.Match
		switch val := v.(type) {
		case string:
			match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: val}}
		case bool:
			match = &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: val}}
		case int:
			match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: int64(val)}}
		case int64:
			match = &pb.Match{MatchValue: &pb.Match_Integer{Integer: val}}
		default:
			match = &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: fmt.Sprint(val)}}
		}
		conditions = append(conditions, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{
				Field: &pb.FieldCondition{Key: k, Match: match},
			},
		})
	}
	return &pb.Filter{Must: conditions}
}

func isMissingCollection(err error) bool {
	return err != nil && strings.Contains(err.Error(), "doesn't exist")
}

func ptr[T any](v T) *T { return &v }

var waitTrue = true
