// Package releasedao records release history: one record per pipeline run,
// keyed by bucket and branch, plus a "latest" magic record per branch so the
// most recent release is a single query away.
package releasedao

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
)

const latest = "latest"

// TableName derives the DynamoDB table name for an environment.
func TableName(env string) string {
	return fmt.Sprintf("%s-site-deployer-releases", env)
}

// PK represents a partition key in format {bucket}/{branch}
// Example: my-bucket/main
type PK string

// NewPK creates a partition key from bucket and branch.
func NewPK(bucket, branch string) PK {
	return PK(fmt.Sprintf("%s/%s", bucket, branch))
}

// ParsePK splits a partition key into bucket and branch. Branch names may
// themselves contain slashes, so only the first separator counts.
func ParsePK(pk PK) (bucket, branch string, err error) {
	parts := strings.SplitN(string(pk), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid PK format: %s, expected {bucket}/{branch}", pk)
	}
	return parts[0], parts[1], nil
}

// String returns the string representation of the partition key.
func (pk PK) String() string {
	return string(pk)
}

// ID represents a release ID in format {bucket}/{branch}:{ksuid}
type ID string

func (id ID) String() string {
	return string(id)
}

// NewID constructs an ID from partition key and sort key.
func NewID(pk PK, sk string) ID {
	return ID(fmt.Sprintf("%s:%s", pk, sk))
}

// ParseID splits a release ID into its partition and sort key components.
func ParseID(id ID) (pk PK, sk string, err error) {
	parts := strings.SplitN(string(id), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid release ID format: %s, expected {bucket}/{branch}:{ksuid}", id)
	}
	return PK(parts[0]), parts[1], nil
}

// ReleaseStatus represents the current status of a release.
type ReleaseStatus string

const (
	ReleaseStatusInProgress ReleaseStatus = "IN_PROGRESS"
	ReleaseStatusSuccess    ReleaseStatus = "SUCCESS"
	ReleaseStatusFailed     ReleaseStatus = "FAILED"
)

// Record represents a release record in DynamoDB.
type Record struct {
	PK          PK            `ddb:"hash" dynamodbav:"pk"`  // {bucket}/{branch}
	SK          string        `ddb:"range" dynamodbav:"sk"` // KSUID
	ID          ID            `dynamodbav:"id,omitempty"`   // only set on latest entries
	Bucket      string        `dynamodbav:"bucket,omitempty"`
	Branch      string        `dynamodbav:"branch,omitempty"`
	Destination string        `dynamodbav:"destination,omitempty"`
	CommitHash  string        `dynamodbav:"commit_hash,omitempty"`
	Status      ReleaseStatus `dynamodbav:"status,omitempty"`
	Steps       []string      `dynamodbav:"steps,omitempty"`     // step labels completed before finish
	ErrorMsg    *string       `dynamodbav:"error_msg,omitempty"` // set on FAILED records
	CreatedAt   int64         `dynamodbav:"created_at,omitempty"`
	FinishedAt  *int64        `dynamodbav:"finished_at,omitempty"`
	UpdatedAt   int64         `dynamodbav:"updated_at,omitempty"`
}

// GetID returns the full release ID.
func (r *Record) GetID() ID {
	if r.ID != "" {
		return r.ID
	}
	return NewID(r.PK, r.SK)
}

// CreateInput contains the fields needed to open a release record.
type CreateInput struct {
	Bucket      string
	Branch      string
	SK          string // KSUID
	Destination string
	CommitHash  string
}

// FinishInput contains the fields recorded when a release completes.
type FinishInput struct {
	PK       PK
	SK       string
	Status   ReleaseStatus
	Steps    []string
	ErrorMsg *string
}

// DAO provides data access operations for release records.
type DAO struct {
	db    *ddb.DDB
	table *ddb.Table
}

// New creates a new DAO instance.
func New(client *dynamodb.Client, tableName string) *DAO {
	db := ddb.New(client)
	table := db.MustTable(tableName, &Record{})
	return &DAO{
		db:    db,
		table: table,
	}
}

// Create opens a release record with status IN_PROGRESS. The pipeline is
// already running when the record is written, so there is no pending state.
func (d *DAO) Create(ctx context.Context, input CreateInput) (Record, error) {
	now := time.Now().Unix()

	record := Record{
		PK:          NewPK(input.Bucket, input.Branch),
		SK:          input.SK,
		Bucket:      input.Bucket,
		Branch:      input.Branch,
		Destination: input.Destination,
		CommitHash:  input.CommitHash,
		Status:      ReleaseStatusInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := d.table.Put(&record).RunWithContext(ctx); err != nil {
		return Record{}, fmt.Errorf("failed to create release record: %w", err)
	}

	return record, nil
}

// Finish marks a release SUCCESS or FAILED and refreshes the "latest" magic
// record for the branch. Both writes happen in one transaction.
func (d *DAO) Finish(ctx context.Context, input FinishInput) error {
	if input.Status != ReleaseStatusSuccess && input.Status != ReleaseStatusFailed {
		return fmt.Errorf("finish requires a terminal status, got %s", input.Status)
	}

	now := time.Now().Unix()

	update := d.table.Update(input.PK.String()).
		Range(input.SK).
		Set("#Status = ?", string(input.Status)).
		Set("#FinishedAt = ?", now).
		Set("#UpdatedAt = ?", now)
	if len(input.Steps) > 0 {
		update = update.Set("#Steps = ?", input.Steps)
	}
	if input.ErrorMsg != nil {
		update = update.Set("#ErrorMsg = ?", *input.ErrorMsg)
	}

	bucket, branch, err := ParsePK(input.PK)
	if err != nil {
		return fmt.Errorf("failed to parse PK: %w", err)
	}

	latestRecord := &Record{
		PK:        NewPK(latest, bucket),
		SK:        input.PK.String(), // latest record's SK identifies the branch
		ID:        NewID(input.PK, input.SK),
		Bucket:    bucket,
		Branch:    branch,
		Status:    input.Status,
		UpdatedAt: now,
	}
	put := d.table.Put(latestRecord)

	if _, err := d.db.TransactWriteItemsWithContext(ctx, update, put); err != nil {
		return fmt.Errorf("failed to finish release: %w", err)
	}

	return nil
}

// Find retrieves a release record by ID.
func (d *DAO) Find(ctx context.Context, id ID) (Record, error) {
	pk, sk, err := ParseID(id)
	if err != nil {
		return Record{}, err
	}

	var record Record
	err = d.table.Get(pk.String()).
		Range(sk).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		return Record{}, fmt.Errorf("failed to find release record: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return Record{}, fmt.Errorf("release record not found: %s", id)
	}

	return record, nil
}

// Query returns all releases for a bucket and branch.
func (d *DAO) Query(ctx context.Context, pk PK) ([]Record, error) {
	var records []Record
	err := d.table.Query("#PK = ?", pk.String()).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}
	return records, nil
}

// QueryLatest returns the latest release per branch for a bucket, most
// recently updated first.
func (d *DAO) QueryLatest(ctx context.Context, bucket string) ([]Record, error) {
	pk := NewPK(latest, bucket)

	var records []Record
	err := d.table.Query("#PK = ?", pk.String()).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest releases: %w", err)
	}

	for i := 0; i < len(records)-1; i++ {
		for j := i + 1; j < len(records); j++ {
			if records[j].UpdatedAt > records[i].UpdatedAt {
				records[i], records[j] = records[j], records[i]
			}
		}
	}

	return records, nil
}

// Delete removes a release record by ID.
func (d *DAO) Delete(ctx context.Context, id ID) error {
	pk, sk, err := ParseID(id)
	if err != nil {
		return err
	}

	err = d.table.Delete(pk).
		Range(sk).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete release record: %w", err)
	}

	return nil
}
