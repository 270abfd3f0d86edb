package storage

import (
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/pkg/errors"

	"github.com/customeros/mailbot/config"
	"github.com/customeros/mailbot/services/storage/aws_client"
)

const (
	ProviderS3 = "s3"
	ProviderR2 = "r2"
)

// NewStorageServiceFromConfig builds an S3 or Cloudflare R2 backed store.
func NewStorageServiceFromConfig(cfg *config.ArchiveConfig) (*ObjectStorageService, error) {
	creds := credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.AccessKeySecret, "")

	var awsCfg *aws.Config
	switch cfg.Provider {
	case ProviderR2:
		if cfg.AccountID == "" {
			return nil, errors.New("r2 archive requires an account id")
		}
		awsCfg = &aws.Config{
			Endpoint:         aws.String("https://" + cfg.AccountID + ".r2.cloudflarestorage.com"),
			Region:           aws.String("auto"),
			Credentials:      creds,
			S3ForcePathStyle: aws.Bool(true),
		}
	case ProviderS3, "":
		awsCfg = &aws.Config{
			Region:      aws.String(cfg.Region),
			Credentials: creds,
		}
	default:
		return nil, errors.Errorf("unknown archive provider %q", cfg.Provider)
	}

	client, err := aws_client.NewS3Client(awsCfg)
	if err != nil {
		return nil, errors.Wrap(err, "create s3 client")
	}
	return NewStorageService(client, cfg.Bucket), nil
}
