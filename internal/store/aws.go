package store

import (
	"bytes"
	"context"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-logr/logr"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// S3API is the part of *s3.Client the store uses.
type S3API interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type CloudFrontAPI interface {
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

type S3Uploader struct {
	Client S3API
	Bucket string
}

func (u *S3Uploader) Upload(ctx context.Context, params UploadParams) error {
	log := logr.FromContextOrDiscard(ctx).WithValues(
		"name", params.Name,
		"content-type", params.ContentType,
		"bucket", u.Bucket,
	)
	log.Info("uploading to s3")

	_, err := u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(u.Bucket),
		Key:          aws.String(params.Name),
		ContentType:  aws.String(params.ContentType),
		Body:         bytes.NewReader(params.Data),
		Metadata:     encodeMetadata(params.Metadata),
		StorageClass: s3types.StorageClassIntelligentTiering,
	})
	return err
}

// S3 sends user metadata as HTTP headers, which only carry US-ASCII.
// Other values are stored as RFC 2047 encoded-words.
func encodeMetadata(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	return lo.MapValues(meta, func(v, _ string) string {
		return mime.QEncoding.Encode("utf-8", v)
	})
}

func decodeMetadata(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	var dec mime.WordDecoder
	return lo.MapValues(meta, func(v, _ string) string {
		if s, err := dec.DecodeHeader(v); err == nil {
			return s
		}
		return v
	})
}

func (u *S3Uploader) Read(ctx context.Context, name string) ([]byte, error) {
	logr.FromContextOrDiscard(ctx).V(1).Info("reading from s3", "name", name, "bucket", u.Bucket)

	out, err := u.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.Bucket),
		Key:    aws.String(name),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// List returns the objects whose key ends in suffix, with their metadata.
func (u *S3Uploader) List(ctx context.Context, suffix string) ([]Object, error) {
	log := logr.FromContextOrDiscard(ctx).WithValues("bucket", u.Bucket, "suffix", suffix)
	log.Info("listing s3 objects")

	pager := s3.NewListObjectsV2Paginator(u.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(u.Bucket),
	})

	var keys []string
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		keys = append(keys, lo.FilterMap(page.Contents, func(o s3types.Object, _ int) (string, bool) {
			key := aws.ToString(o.Key)
			return key, strings.HasSuffix(key, suffix)
		})...)
	}

	objects := make([]Object, len(keys))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for idx, key := range keys {
		group.Go(func() error {
			out, err := u.Client.HeadObject(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(u.Bucket),
				Key:    aws.String(key),
			})
			if err != nil {
				return err
			}
			objects[idx] = Object{
				Name:     key,
				Metadata: decodeMetadata(out.Metadata),
				Updated:  aws.ToTime(out.LastModified),
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return objects, nil
}

type CloudFrontInvalidator struct {
	Client       CloudFrontAPI
	Distribution string
}

func (i *CloudFrontInvalidator) Invalidate(ctx context.Context, paths []string) error {
	log := logr.FromContextOrDiscard(ctx).WithValues("paths", paths, "distribution", i.Distribution)
	log.Info("invalidating paths in cloudfront")

	_, err := i.Client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(i.Distribution),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(time.Now().UTC().Format("20060102150405.000000000")),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	return err
}
