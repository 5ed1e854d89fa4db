package aws

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/updraft-io/updraft/internal/cloud"
)

// stageArtifact uploads an archive to the artifact bucket. Keys embed
// the content hash, so an object that already exists is already the
// right bytes and the upload is skipped.
func (c *Client) stageArtifact(ctx context.Context, bucket, key, archivePath string) error {
	cacheKey := bucket + "/" + key
	c.mu.Lock()
	done := c.uploaded[cacheKey]
	c.mu.Unlock()
	if done {
		return nil
	}

	if _, err := c.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}); err == nil {
		c.markUploaded(cacheKey)
		return nil
	} else if !isNotFound(err) {
		return classify("checking artifact", cacheKey, err)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		return cloud.NewPermanent("reading artifact", archivePath, err)
	}
	defer file.Close()

	if _, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
		Body:   file,
	}); err != nil {
		return classify("uploading artifact", cacheKey, err)
	}

	c.markUploaded(cacheKey)
	return nil
}

func (c *Client) markUploaded(cacheKey string) {
	c.mu.Lock()
	c.uploaded[cacheKey] = true
	c.mu.Unlock()
}
