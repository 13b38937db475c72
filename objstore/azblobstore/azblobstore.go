// Package azblobstore adapts Azure Blob Storage to objstore.Store. Azure's
// access conditions map directly onto the precondition vocabulary: IfNoneMatch
// "*" for "must not exist", IfMatch(etag) for "must currently be etag" — the
// same shape S3 exposes, which is exactly why §6 can describe one precondition
// vocabulary for "S3 or API-compatible" stores and have it travel unmodified
// to Azure.
package azblobstore

import (
	"context"
	"errors"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"github.com/fusio-io/fusio-manifest/internal/xlog"
	"github.com/fusio-io/fusio-manifest/objstore"
)

// Store adapts one Azure Blob container to objstore.Store.
type Store struct {
	client    *azblob.Client
	container string
}

// New constructs a Store for containerName using a caller-supplied client
// (so the embedding application controls auth: shared key, SAS, or AAD).
func New(client *azblob.Client, containerName string) *Store {
	return &Store{client: client, container: containerName}
}

func (s *Store) Get(ctx context.Context, key string) (objstore.Object, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, key, nil)
	if err != nil {
		if isNotFound(err) {
			return objstore.Object{}, objstore.ErrNotFound
		}
		return objstore.Object{}, classify(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return objstore.Object{}, classify(err)
	}
	return objstore.Object{Body: body, ETag: string(*resp.ETag)}, nil
}

func (s *Store) PutIfMatch(ctx context.Context, key string, body []byte, pre objstore.Precondition) (string, error) {
	opts := &azblob.UploadBufferOptions{}
	switch pre.Kind {
	case objstore.PreconditionIfNotExists:
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETag("*"))},
		}
	case objstore.PreconditionIfMatch:
		tag := azcore.ETag(pre.Tag)
		opts.AccessConditions = &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: &tag},
		}
	}

	resp, err := s.client.UploadBuffer(ctx, s.container, key, body, opts)
	if err != nil {
		if isPreconditionFailed(err) {
			return "", objstore.ErrPreconditionFailed
		}
		return "", classify(err)
	}
	return string(*resp.ETag), nil
}

func (s *Store) List(ctx context.Context, prefix string, startAfter string) ([]objstore.Entry, error) {
	var entries []objstore.Entry
	pager := s.client.NewListBlobsFlatPager(s.container, &container.ListBlobsFlatOptions{Prefix: &prefix})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, item := range page.Segment.BlobItems {
			name := *item.Name
			if name <= startAfter {
				continue
			}
			var size int64
			if item.Properties != nil && item.Properties.ContentLength != nil {
				size = *item.Properties.ContentLength
			}
			entries = append(entries, objstore.Entry{Key: name, Size: size})
		}
	}
	return entries, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, key, nil)
	if err != nil && !isNotFound(err) {
		return classify(err)
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 404
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == 412 || respErr.StatusCode == 409
	}
	return false
}

func classify(err error) error {
	xlog.Warningf("azblobstore: %v", err)
	return objstore.ErrUnavailable
}
