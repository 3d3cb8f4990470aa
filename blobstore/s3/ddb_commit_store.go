package s3

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/coljar/blobstore"
)

// CurrentName is the blob name whose content is the published generation
// pointer. On local disk a rename makes its update atomic; S3 has no
// compare-and-swap, so the commit store routes this one name through DynamoDB
// conditional writes instead.
const CurrentName = "CURRENT"

// ErrConcurrentModification is returned when a concurrent publisher wins the
// conditional write race.
var ErrConcurrentModification = errors.New("s3: concurrent modification detected")

// DDBClient is the interface for the DynamoDB operations the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DDBCommitStore wraps an S3 Store with DynamoDB-backed commits of the
// CURRENT pointer, so multiple publishers can coordinate safely.
//
// Table schema:
//   - Partition key: base_uri (string) — the S3 prefix/path
//   - Sort key: version (number) — monotonically increasing version
type DDBCommitStore struct {
	s3Store   *Store
	ddbClient DDBClient
	tableName string
	baseURI   string
}

// NewDDBCommitStore creates a new S3+DynamoDB commit store. baseURI should be
// "s3://bucket/prefix", used as the partition key.
func NewDDBCommitStore(s3Store *Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		s3Store:   s3Store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open implements blobstore.BlobStore. CURRENT is served from DynamoDB.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name == CurrentName {
		version, pointer, err := s.latestVersion(ctx)
		if err != nil {
			return nil, err
		}
		if version == 0 {
			return nil, blobstore.ErrNotFound
		}
		return &memoryPointerBlob{content: []byte(pointer)}, nil
	}
	return s.s3Store.Open(ctx, name)
}

// Create implements blobstore.BlobStore. Creating CURRENT buffers the pointer
// and commits it through DynamoDB on Close.
func (s *DDBCommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if name == CurrentName {
		return &ddbCurrentBlob{store: s, ctx: ctx}, nil
	}
	return s.s3Store.Create(ctx, name)
}

// Delete implements blobstore.BlobStore.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	return s.s3Store.Delete(ctx, name)
}

// List implements blobstore.BlobStore.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.s3Store.List(ctx, prefix)
}

func (s *DDBCommitStore) latestVersion(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3: query commit table: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: invalid version attribute")
	}
	pointerAttr, ok := item["pointer"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: invalid pointer attribute")
	}

	var version uint64
	if _, err := fmt.Sscanf(versionAttr.Value, "%d", &version); err != nil {
		return 0, "", fmt.Errorf("s3: parse version: %w", err)
	}
	return version, pointerAttr.Value, nil
}

func (s *DDBCommitStore) commit(ctx context.Context, pointer string) error {
	currentVersion, _, err := s.latestVersion(ctx)
	if err != nil {
		return err
	}

	// Conditional put: only succeeds if no one else claimed this version.
	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri": &types.AttributeValueMemberS{Value: s.baseURI},
			"version":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", currentVersion+1)},
			"pointer":  &types.AttributeValueMemberS{Value: pointer},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("s3: commit pointer: %w", err)
	}
	return nil
}

type ddbCurrentBlob struct {
	store  *DDBCommitStore
	ctx    context.Context
	buf    []byte
	closed bool
}

func (b *ddbCurrentBlob) Write(p []byte) (int, error) {
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *ddbCurrentBlob) Sync() error { return nil }

func (b *ddbCurrentBlob) Close() error {
	if b.closed {
		return io.ErrClosedPipe
	}
	b.closed = true
	return b.store.commit(b.ctx, string(b.buf))
}

type memoryPointerBlob struct {
	content []byte
}

func (b *memoryPointerBlob) Close() error { return nil }

func (b *memoryPointerBlob) Size() int64 { return int64(len(b.content)) }

func (b *memoryPointerBlob) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.content)) {
		return 0, io.EOF
	}
	n := copy(p, b.content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

var _ blobstore.BlobStore = (*DDBCommitStore)(nil)
