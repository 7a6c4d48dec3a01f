package services

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// DocumentStore keeps generated documents and returns a public URL.
type DocumentStore interface {
	Upload(ctx context.Context, name string, content []byte) (string, error)
}

type CloudinaryStore struct {
	cld    *cloudinary.Cloudinary
	folder string
}

func NewCloudinaryStore(url, folder string) (*CloudinaryStore, error) {
	cld, err := cloudinary.NewFromURL(url)
	if err != nil {
		return nil, err
	}
	return &CloudinaryStore{cld: cld, folder: folder}, nil
}

func (s *CloudinaryStore) Upload(ctx context.Context, name string, content []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	uploadResult, err := s.cld.Upload.Upload(ctx, bytes.NewReader(content), uploader.UploadParams{
		PublicID:     fmt.Sprintf("invoices/%s", name),
		Folder:       s.folder,
		ResourceType: "raw",
	})
	if err != nil {
		return "", err
	}
	return uploadResult.SecureURL, nil
}
