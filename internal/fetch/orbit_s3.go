package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/robert-malhotra/asf-insar/internal/insar"
)

// ListObjectsAPI is the subset of the S3 client used to discover orbit files.
type ListObjectsAPI interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3OrbitSource lists orbit files in the public s1-orbits bucket, where keys
// look like AUX_POEORB/S1A_OPER_AUX_POEORB_OPOD_<generated>_V<start>_<end>.EOF.
type S3OrbitSource struct {
	client ListObjectsAPI
	bucket string
	region string
	logger *slog.Logger
}

// NewS3OrbitSource builds an anonymous S3 client for bucket in region.
func NewS3OrbitSource(ctx context.Context, bucket, region string, logger *slog.Logger) (*S3OrbitSource, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
		config.WithRetryMaxAttempts(3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewS3OrbitSourceWithClient(s3.NewFromConfig(cfg), bucket, region, logger), nil
}

// NewS3OrbitSourceWithClient wraps an existing client.
func NewS3OrbitSourceWithClient(client ListObjectsAPI, bucket, region string, logger *slog.Logger) *S3OrbitSource {
	return &S3OrbitSource{client: client, bucket: bucket, region: region, logger: logger}
}

// List returns the files generated in the month of t and the month after,
// which is when precision and restituted orbits covering t are published.
func (s *S3OrbitSource) List(ctx context.Context, kind insar.OrbitKind, mission string, t time.Time) ([]OrbitFile, error) {
	const op = "orbit s3"
	product := kind.Product()
	if product == "" {
		return nil, insar.Errorf(insar.KindFetch, op, "no product for orbit kind %s", kind)
	}

	month := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	var files []OrbitFile
	for _, m := range []time.Time{month, month.AddDate(0, 1, 0)} {
		prefix := fmt.Sprintf("AUX_%s/%s_OPER_AUX_%s_OPOD_%s", product, mission, product, m.Format("200601"))
		p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, insar.E(insar.KindNetwork, op, fmt.Errorf("failed to list objects in bucket %s: %w", s.bucket, err))
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				f, err := ParseOrbitName(path.Base(key))
				if err != nil || f.Kind != kind {
					continue
				}
				f.URL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
				files = append(files, f)
			}
		}
	}
	s.logger.Debug("listed orbit files",
		slog.String("bucket", s.bucket),
		slog.String("kind", string(kind)),
		slog.String("mission", mission),
		slog.Int("files", len(files)),
	)
	return files, nil
}
