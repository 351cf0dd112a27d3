package writer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	appconfig "spreadflow/config"
	"spreadflow/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads the run outputs under a date and run partitioned prefix.
type S3Sink struct {
	client     objectPutter
	bucket     string
	prefix     string
	bookFile   string
	reportFile string
	parquet    bool
	log        *logger.Log
}

// NewS3Sink loads AWS credentials, preferring static keys from cfg when
// both are set.
func NewS3Sink(ctx context.Context, cfg appconfig.S3Config, out appconfig.OutputConfig) (*S3Sink, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return &S3Sink{
		client:     client,
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		bookFile:   out.BookFile,
		reportFile: out.ReportFile,
		parquet:    out.Parquet,
		log:        logger.GetLogger(),
	}, nil
}

func (s *S3Sink) Name() string { return "s3" }

func (s *S3Sink) Write(ctx context.Context, out Output) error {
	ts := time.UnixMilli(out.Report.Window.Start).UTC()

	var book, report bytes.Buffer
	if err := EncodeBookCSV(&book, out.Book); err != nil {
		return err
	}
	if err := EncodeReportCSV(&report, out.Report); err != nil {
		return err
	}
	objects := map[string][]byte{
		s.bookFile:   book.Bytes(),
		s.reportFile: report.Bytes(),
	}
	if s.parquet {
		data, err := EncodeBookParquet(out.Book)
		if err != nil {
			return fmt.Errorf("encode parquet: %w", err)
		}
		objects[parquetName(s.bookFile)] = data
	}

	for name, data := range objects {
		key := s3Key(s.prefix, out.Report.RunID, ts, name)
		if err := s.upload(ctx, key, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		s.log.WithComponent("s3_writer").WithFields(logger.Fields{"s3_key": key, "bytes": len(data)}).Info("object uploaded")
	}
	return nil
}

func (s *S3Sink) upload(ctx context.Context, key string, body io.Reader) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	return err
}

func s3Key(prefix, runID string, ts time.Time, filename string) string {
	parts := []string{
		prefix,
		fmt.Sprintf("year=%04d", ts.Year()),
		fmt.Sprintf("month=%02d", int(ts.Month())),
		fmt.Sprintf("day=%02d", ts.Day()),
		fmt.Sprintf("run=%s", runID),
		filename,
	}
	return path.Join(parts...)
}

func parquetName(csvName string) string {
	return csvName[:len(csvName)-len(path.Ext(csvName))] + ".parquet"
}
