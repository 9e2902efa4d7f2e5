// Package snapshot pushes and pulls project database snapshots to S3,
// serialized by a DynamoDB conditional-put lock so two processes never
// overwrite each other's snapshot of the same project.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/corral-io/corral/internal/logging"
	"github.com/corral-io/corral/internal/model"
)

// Config holds the remote snapshot settings.
type Config struct {
	Bucket string `toml:"bucket"`
	Prefix string `toml:"prefix"`
	Region string `toml:"region"`
	// DynamoDBTable enables cross-process locking when set.
	DynamoDBTable string `toml:"dynamodb_table"`
	Encrypt       bool   `toml:"encrypt"`
	Profile       string `toml:"profile"`
}

// Store pushes and pulls project snapshots.
type Store struct {
	cfg      Config
	s3Client *s3.Client
	dbClient *dynamodb.Client
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("snapshot store requires a bucket")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	s := &Store{
		cfg:      cfg,
		s3Client: s3.NewFromConfig(awsCfg),
	}
	if cfg.DynamoDBTable != "" {
		s.dbClient = dynamodb.NewFromConfig(awsCfg)
	}
	return s, nil
}

func (s *Store) objectKey(projectID string) string {
	prefix := s.cfg.Prefix
	if prefix == "" {
		prefix = "corral"
	}
	return path.Join(prefix, projectID+".db")
}

// Push uploads the project database file, holding the snapshot lock for
// the duration.
func (s *Store) Push(ctx context.Context, projectID, dbPath string) error {
	if err := s.lock(ctx, projectID); err != nil {
		return err
	}
	defer s.unlock(ctx, projectID)

	data, err := os.ReadFile(dbPath)
	if err != nil {
		return fmt.Errorf("read project database %s: %w", dbPath, err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(projectID)),
		Body:   bytes.NewReader(data),
	}
	if s.cfg.Encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}
	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("push snapshot to s3://%s/%s: %w", s.cfg.Bucket, s.objectKey(projectID), err)
	}

	logging.Info("pushed project snapshot", "project", projectID, "bucket", s.cfg.Bucket)
	return nil
}

// Pull downloads the project snapshot to destPath. A missing snapshot
// reports ErrNotFound.
func (s *Store) Pull(ctx context.Context, projectID, destPath string) error {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.objectKey(projectID)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return fmt.Errorf("snapshot of project %s: %w", projectID, model.ErrNotFound)
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return fmt.Errorf("snapshot of project %s: %w", projectID, model.ErrNotFound)
		}
		return fmt.Errorf("pull snapshot from s3://%s/%s: %w", s.cfg.Bucket, s.objectKey(projectID), err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("read snapshot body: %w", err)
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return fmt.Errorf("write project database %s: %w", destPath, err)
	}

	logging.Info("pulled project snapshot", "project", projectID, "bucket", s.cfg.Bucket)
	return nil
}

func (s *Store) lock(ctx context.Context, projectID string) error {
	if s.dbClient == nil {
		return nil
	}

	info := fmt.Sprintf("corral-%d-%d", os.Getpid(), time.Now().UnixNano())
	_, err := s.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.cfg.DynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: s.objectKey(projectID)},
			"Info":    &dbtypes.AttributeValueMemberS{Value: info},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("snapshot of project %s is locked by another process; "+
				"delete the item with LockID=%q from DynamoDB table %q if this is stale",
				projectID, s.objectKey(projectID), s.cfg.DynamoDBTable)
		}
		return fmt.Errorf("acquire snapshot lock: %w", err)
	}
	return nil
}

func (s *Store) unlock(ctx context.Context, projectID string) {
	if s.dbClient == nil {
		return
	}

	_, err := s.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.cfg.DynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: s.objectKey(projectID)},
		},
	})
	if err != nil {
		logging.Warn("failed to release snapshot lock", "project", projectID, "err", err)
	}
}
