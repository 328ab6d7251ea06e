package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"voxelmesh.ai/internal/persistence/r2s3"
)

// buildR2Uploader returns nil unless VM_R2_UPLOAD is true.
func buildR2Uploader(outDir string, logger *log.Logger) (*r2s3.Uploader, error) {
	if !envBool("VM_R2_UPLOAD", false) {
		return nil, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("VM_R2_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("VM_R2_BUCKET"))
	accessKeyID := strings.TrimSpace(os.Getenv("VM_R2_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("VM_R2_SECRET_ACCESS_KEY"))
	prefix := strings.TrimSpace(os.Getenv("VM_R2_PREFIX"))

	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("VM_R2_UPLOAD=true but VM_R2_ENDPOINT/VM_R2_BUCKET/VM_R2_ACCESS_KEY_ID/VM_R2_SECRET_ACCESS_KEY are not fully set")
	}

	client, err := r2s3.New(r2s3.Config{
		Endpoint:        endpoint,
		Bucket:          bucket,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
		Region:          os.Getenv("VM_R2_REGION"),
	})
	if err != nil {
		return nil, err
	}
	return r2s3.NewUploader(client, outDir, prefix, envInt("VM_R2_UPLOAD_WORKERS", 2), logger), nil
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
