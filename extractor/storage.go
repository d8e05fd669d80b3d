package extractor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/remitmatch/cashapp-agent/cashapperr"
)

// GCSFetcher fetches document bytes for gs:// URIs via Cloud Storage. Fetch
// rejects any other scheme, or a malformed gs:// URI, with a validation
// error before contacting Cloud Storage.
type GCSFetcher struct {
	client *storage.Client
}

func NewGCSFetcher(client *storage.Client) *GCSFetcher {
	return &GCSFetcher{client: client}
}

func (f *GCSFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := parseGSURI(uri)
	if err != nil {
		return nil, err
	}
	reader, err := f.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, cashapperr.Wrap(cashapperr.KindExtractorUnavailable, fmt.Sprintf("fetch %s", uri), err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, cashapperr.Wrap(cashapperr.KindExtractorUnavailable, fmt.Sprintf("read %s", uri), err)
	}
	return data, nil
}

func parseGSURI(uri string) (bucket, object string, err error) {
	const prefix = "gs://"
	if !strings.HasPrefix(uri, prefix) {
		return "", "", cashapperr.New(cashapperr.KindValidation, fmt.Sprintf("unsupported document uri scheme: %q", uri))
	}
	rest := strings.TrimPrefix(uri, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", cashapperr.New(cashapperr.KindValidation, fmt.Sprintf("malformed gs:// uri: %q", uri))
	}
	return parts[0], parts[1], nil
}
