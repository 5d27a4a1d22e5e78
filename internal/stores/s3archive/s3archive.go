// Package s3archive decorates a DecisionStore/TradeStore pair with a
// best-effort cold-archival mirror on S3-compatible object storage
// (Cloudflare R2 in practice, via the endpoint override below). Writes go to
// the wrapped local store first and always return its result; archival
// failures are logged (no alert is raised) and never turn a successful
// local write into an error.
package s3archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/stores"
)

// Client uploads archival blobs to an S3-compatible bucket.
type Client struct {
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// Config names the bucket and endpoint archival writes go to. Endpoint is
// the R2 account endpoint ("https://<account>.r2.cloudflarestorage.com");
// leaving it empty targets real AWS S3 in Region instead.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// NewClient loads an AWS config pointed at cfg.Endpoint (when set) with
// static credentials, and builds an uploader tuned for small JSON payloads.
func NewClient(ctx context.Context, cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3archive: bucket is required")
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.Concurrency = 2
	})

	return &Client{
		uploader: uploader,
		bucket:   cfg.Bucket,
		log:      log.With().Str("component", "s3archive").Logger(),
	}, nil
}

func (c *Client) put(ctx context.Context, key string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	return err
}

// DecisionStore wraps a stores.DecisionStore, mirroring every PutDecision
// as a JSON object keyed by cycle ID.
type DecisionStore struct {
	stores.DecisionStore
	archive *Client
}

// NewDecisionStore wraps next so every PutDecision is also archived.
func NewDecisionStore(next stores.DecisionStore, archive *Client) *DecisionStore {
	return &DecisionStore{DecisionStore: next, archive: archive}
}

func (s *DecisionStore) PutDecision(d stores.CycleDecision) error {
	if err := s.DecisionStore.PutDecision(d); err != nil {
		return err
	}
	s.archiveDecision(d)
	return nil
}

func (s *DecisionStore) archiveDecision(d stores.CycleDecision) {
	body, err := json.Marshal(d)
	if err != nil {
		s.archive.log.Warn().Err(err).Str("cycle_id", d.CycleID).Msg("marshal decision for archival")
		return
	}
	key := fmt.Sprintf("decisions/%s/%s.json", d.Mode, d.CycleID)
	if err := s.archive.put(context.Background(), key, body); err != nil {
		s.archive.log.Warn().Err(err).Str("key", key).Msg("archive decision upload failed")
	}
}

// TradeStore wraps a stores.TradeStore, mirroring every PutTrade as a JSON
// object keyed by trade ID. Position writes are not archived: they are
// mutable working state, not an audit trail.
type TradeStore struct {
	stores.TradeStore
	archive *Client
}

// NewTradeStore wraps next so every PutTrade is also archived.
func NewTradeStore(next stores.TradeStore, archive *Client) *TradeStore {
	return &TradeStore{TradeStore: next, archive: archive}
}

func (s *TradeStore) PutTrade(t stores.Trade) error {
	if err := s.TradeStore.PutTrade(t); err != nil {
		return err
	}
	s.archiveTrade(t)
	return nil
}

func (s *TradeStore) archiveTrade(t stores.Trade) {
	body, err := json.Marshal(t)
	if err != nil {
		s.archive.log.Warn().Err(err).Str("trade_id", t.TradeID).Msg("marshal trade for archival")
		return
	}
	key := fmt.Sprintf("trades/%s.json", t.TradeID)
	if err := s.archive.put(context.Background(), key, body); err != nil {
		s.archive.log.Warn().Err(err).Str("key", key).Msg("archive trade upload failed")
	}
}
