package archiver

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/messagelog/internal/netx"
)

// Transfer ships finished archive files off-host. Failures are logged by
// the archiver and never unmark records.
type Transfer interface {
	Transfer(ctx context.Context, dir string, files []string) error
}

// execCommand is a seam for tests.
var execCommand = exec.CommandContext

// CommandTransfer runs a shell command once per archived batch.
type CommandTransfer struct {
	Command string
}

func (c CommandTransfer) Transfer(ctx context.Context, dir string, _ []string) error {
	cmd := execCommand(ctx, "/bin/bash", "-c", c.Command)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("archive transfer command %q: %w: %s", c.Command, err, stderr.String())
	}
	return nil
}

type S3Config struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	RootUser     string
	RootPassword string
}

// S3Transfer uploads every archive file through a presigned PUT.
type S3Transfer struct {
	presign *s3.PresignClient
	bucket  string
	http    *http.Client
}

func NewS3Transfer(ctx context.Context, c S3Config) (*S3Transfer, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(c.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			c.RootUser,
			c.RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if c.BaseEndpoint != "" {
			o.BaseEndpoint = aws.String(c.BaseEndpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Transfer{
		presign: s3.NewPresignClient(client),
		bucket:  c.Bucket,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (s *S3Transfer) Transfer(ctx context.Context, dir string, files []string) error {
	for _, name := range files {
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		key := name
		req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: &s.bucket,
			Key:    &key,
		}, s3.WithPresignExpires(15*time.Minute))
		if err != nil {
			return fmt.Errorf("presign %s: %w", name, err)
		}
		p := netx.Presigned{Method: req.Method, URL: req.URL, Header: req.SignedHeader}
		if err := netx.Upload(ctx, s.http, p, body); err != nil {
			return fmt.Errorf("upload %s: %w", name, err)
		}
	}
	return nil
}
