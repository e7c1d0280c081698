package releasedao

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/savaki/ddb/v2"
	"github.com/segmentio/ksuid"
	"github.com/stretchr/testify/assert"
)

// Unit tests for key types

func TestNewPK(t *testing.T) {
	tests := []struct {
		name   string
		bucket string
		branch string
		want   PK
	}{
		{
			name:   "mainline branch",
			bucket: "my-bucket",
			branch: "main",
			want:   PK("my-bucket/main"),
		},
		{
			name:   "feature branch",
			bucket: "site-content",
			branch: "feature-x",
			want:   PK("site-content/feature-x"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewPK(tt.bucket, tt.branch); got != tt.want {
				t.Errorf("NewPK() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePK(t *testing.T) {
	tests := []struct {
		name       string
		pk         PK
		wantBucket string
		wantBranch string
		wantErr    bool
	}{
		{
			name:       "simple branch",
			pk:         PK("my-bucket/main"),
			wantBucket: "my-bucket",
			wantBranch: "main",
		},
		{
			name:       "nested branch keeps its slashes",
			pk:         PK("my-bucket/feature/login"),
			wantBucket: "my-bucket",
			wantBranch: "feature/login",
		},
		{
			name:    "missing branch",
			pk:      PK("my-bucket"),
			wantErr: true,
		},
		{
			name:    "empty",
			pk:      PK(""),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, branch, err := ParsePK(tt.pk)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParsePK(%v) expected error", tt.pk)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePK(%v) error = %v", tt.pk, err)
			}
			if bucket != tt.wantBucket || branch != tt.wantBranch {
				t.Errorf("ParsePK(%v) = (%q, %q), want (%q, %q)",
					tt.pk, bucket, branch, tt.wantBucket, tt.wantBranch)
			}
		})
	}
}

func TestParseID(t *testing.T) {
	pk, sk, err := ParseID(ID("my-bucket/main:2HFj3kLmNoPqRsTuVwXy"))
	if err != nil {
		t.Fatalf("ParseID error = %v", err)
	}
	if pk != PK("my-bucket/main") || sk != "2HFj3kLmNoPqRsTuVwXy" {
		t.Errorf("ParseID = (%v, %v)", pk, sk)
	}

	if _, _, err := ParseID(ID("missing-separator")); err == nil {
		t.Error("ParseID expected error for malformed ID")
	}
}

func TestRecordGetID(t *testing.T) {
	record := &Record{
		PK: NewPK("my-bucket", "main"),
		SK: "2HFj3kLmNoPqRsTuVwXy",
	}
	if got, want := record.GetID(), ID("my-bucket/main:2HFj3kLmNoPqRsTuVwXy"); got != want {
		t.Errorf("GetID() = %v, want %v", got, want)
	}
}

func TestTableName(t *testing.T) {
	if got := TableName("prd"); got != "prd-site-deployer-releases" {
		t.Errorf("TableName(prd) = %q", got)
	}
}

// Integration tests against local DynamoDB.
// Set DYNAMODB_ENDPOINT (e.g. http://localhost:8000) to enable.

func setupLocalDAO(t *testing.T) (context.Context, *DAO, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	endpoint := os.Getenv("DYNAMODB_ENDPOINT")
	if endpoint == "" {
		t.Skip("Skipping integration test, DYNAMODB_ENDPOINT not set")
	}

	ctx := context.Background()
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("us-west-2"),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("blah", "blah", ""),
		),
	)
	assert.NoError(t, err)

	var (
		client    = dynamodb.NewFromConfig(cfg)
		db        = ddb.New(client)
		tableName = fmt.Sprintf("table-%v", ksuid.New().String())
		table     = db.MustTable(tableName, Record{})
		dao       = New(client, tableName)
	)

	err = table.CreateTableIfNotExists(ctx)
	assert.NoError(t, err)

	return ctx, dao, func() {
		_ = table.DeleteTableIfExists(ctx)
	}
}

func TestDAOLifecycle(t *testing.T) {
	ctx, dao, cleanup := setupLocalDAO(t)
	defer cleanup()

	sk := ksuid.New().String()
	record, err := dao.Create(ctx, CreateInput{
		Bucket:      "my-bucket",
		Branch:      "main",
		SK:          sk,
		Destination: "my-bucket",
		CommitHash:  "abc123",
	})
	assert.NoError(t, err)
	assert.Equal(t, ReleaseStatusInProgress, record.Status)

	found, err := dao.Find(ctx, record.GetID())
	assert.NoError(t, err)
	assert.Equal(t, "abc123", found.CommitHash)

	err = dao.Finish(ctx, FinishInput{
		PK:     record.PK,
		SK:     sk,
		Status: ReleaseStatusSuccess,
		Steps:  []string{"resolve", "site", "build email-digest", "update email-digest"},
	})
	assert.NoError(t, err)

	finished, err := dao.Find(ctx, record.GetID())
	assert.NoError(t, err)
	assert.Equal(t, ReleaseStatusSuccess, finished.Status)
	assert.NotNil(t, finished.FinishedAt)

	latestRecords, err := dao.QueryLatest(ctx, "my-bucket")
	assert.NoError(t, err)
	if assert.Len(t, latestRecords, 1) {
		assert.Equal(t, record.GetID(), latestRecords[0].ID)
	}
}

func TestDAOFinishRequiresTerminalStatus(t *testing.T) {
	dao := &DAO{}
	err := dao.Finish(context.Background(), FinishInput{
		PK:     NewPK("my-bucket", "main"),
		SK:     "sk",
		Status: ReleaseStatusInProgress,
	})
	assert.Error(t, err)
}

func TestDAOFailedReleaseKeepsError(t *testing.T) {
	ctx, dao, cleanup := setupLocalDAO(t)
	defer cleanup()

	sk := ksuid.New().String()
	record, err := dao.Create(ctx, CreateInput{
		Bucket:      "my-bucket",
		Branch:      "feature-x",
		SK:          sk,
		Destination: "my-bucket/feature-x",
	})
	assert.NoError(t, err)

	err = dao.Finish(ctx, FinishInput{
		PK:       record.PK,
		SK:       sk,
		Status:   ReleaseStatusFailed,
		Steps:    []string{"resolve", "site"},
		ErrorMsg: aws.String("dependency resolution failed: requirements.txt"),
	})
	assert.NoError(t, err)

	found, err := dao.Find(ctx, record.GetID())
	assert.NoError(t, err)
	assert.Equal(t, ReleaseStatusFailed, found.Status)
	if assert.NotNil(t, found.ErrorMsg) {
		assert.Contains(t, *found.ErrorMsg, "dependency resolution")
	}
}
