// Package artifactstore implements the Model Artifact format and its
// S3-backed object storage, adapted from the teacher's date-partitioned
// image-upload pattern for JSON model artifacts instead of chart PNGs.
package artifactstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Artifact is the on-disk blob described in spec.md's data model: a
// serialized model, its feature-name order, sanitized metrics, and a
// content checksum over (model bytes || canonical metrics JSON).
type Artifact struct {
	ModelB64     string         `json:"model_b64"`
	FeatureOrder []string       `json:"feature_order"`
	Metrics      map[string]any `json:"metrics"`
	Checksum     string         `json:"checksum_sha256"`
}

// Build assembles an Artifact and computes its checksum. metrics must
// already have NaN/Inf sanitized to null (see training.SanitizeMetrics).
func Build(modelBytes []byte, featureOrder []string, metrics map[string]any) (Artifact, error) {
	canonicalMetrics, err := canonicalJSON(metrics)
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact canonical metrics: %w", err)
	}
	h := sha256.New()
	h.Write(modelBytes)
	h.Write(canonicalMetrics)
	checksum := fmt.Sprintf("%x", h.Sum(nil))

	return Artifact{
		ModelB64:     base64.StdEncoding.EncodeToString(modelBytes),
		FeatureOrder: featureOrder,
		Metrics:      metrics,
		Checksum:     checksum,
	}, nil
}

// Verify recomputes the checksum and reports whether it matches,
// per spec.md's "Verified on load" invariant.
func (a Artifact) Verify() (bool, error) {
	modelBytes, err := base64.StdEncoding.DecodeString(a.ModelB64)
	if err != nil {
		return false, fmt.Errorf("artifact decode model bytes: %w", err)
	}
	canonicalMetrics, err := canonicalJSON(a.Metrics)
	if err != nil {
		return false, fmt.Errorf("artifact canonical metrics: %w", err)
	}
	h := sha256.New()
	h.Write(modelBytes)
	h.Write(canonicalMetrics)
	got := fmt.Sprintf("%x", h.Sum(nil))
	return got == a.Checksum, nil
}

func (a Artifact) ModelBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.ModelB64)
}

// canonicalJSON marshals a map with sorted keys so the checksum is
// stable regardless of Go map iteration order.
func canonicalJSON(v map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding/json already sorts map[string]any keys on marshal.
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Store uploads/fetches artifacts from S3 under a date-partitioned key,
// matching the teacher's GetS3Path shape.
type Store struct {
	Bucket string
	Prefix string
	client *s3.Client
}

func NewStore(ctx context.Context, bucket, prefix, region string) (*Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("artifact store config: %w", err)
	}
	return &Store{Bucket: bucket, Prefix: prefix, client: s3.NewFromConfig(cfg)}, nil
}

// Key builds a date-partitioned object key: {prefix}/{modelName}/YYYY/MM/DD/{version}.json
func (s *Store) Key(modelName, version string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s.json", s.Prefix, modelName, now.Format("2006/01/02"), version)
}

func (s *Store) Put(ctx context.Context, key string, a Artifact) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("artifact marshal: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("artifact put: %w", err)
	}
	return nil
}

// PutBytes uploads an arbitrary blob (the reliability-diagram PNG)
// alongside JSON model artifacts under the same date-partitioned
// prefix, reusing the same S3 client and bucket.
func (s *Store) PutBytes(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("artifact put bytes: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (Artifact, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("artifact get: %w", err)
	}
	defer out.Body.Close()

	var a Artifact
	if err := json.NewDecoder(out.Body).Decode(&a); err != nil {
		return Artifact{}, fmt.Errorf("artifact decode: %w", err)
	}
	return a, nil
}
