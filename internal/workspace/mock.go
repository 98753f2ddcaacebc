package workspace

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// NewMockS3ForTests returns an *S3 backed by an in-memory fake HTTP
// transport. Only the S3 operations the Store interface needs are
// implemented.
func NewMockS3ForTests() *S3 {
	rt := &mockRoundTripper{state: make(map[string][]byte)}
	cfg, _ := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		// Keep PutObject bodies raw: the default flexible-checksum mode
		// wraps them in aws-chunked framing the fake transport does not
		// decode.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})
	return &S3{client: client, bucket: "mock-bucket"}
}

type mockRoundTripper struct{ state map[string][]byte }

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	switch {
	case req.Method == http.MethodGet && strings.Contains(req.URL.RawQuery, "list-type=2"):
		prefix := req.URL.Query().Get("prefix")
		var keys []string
		for k := range m.state {
			if prefix == "" || strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for _, k := range keys {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>%s</LastModified></Contents>",
				k, len(m.state[k]), time.Now().UTC().Format(time.RFC3339))
		}
		b.WriteString("</ListBucketResult>")
		return xmlResponse(http.StatusOK, b.String()), nil
	case req.Method == http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		m.state[key] = body
		return emptyResponse(http.StatusOK, 0), nil
	case req.Method == http.MethodHead:
		content, ok := m.state[key]
		if !ok {
			return emptyResponse(http.StatusNotFound, 0), nil
		}
		return emptyResponse(http.StatusOK, len(content)), nil
	case req.Method == http.MethodGet:
		content, ok := m.state[key]
		if !ok {
			return xmlResponse(http.StatusNotFound,
				`<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`), nil
		}
		resp := emptyResponse(http.StatusOK, len(content))
		resp.Body = io.NopCloser(bytes.NewReader(content))
		return resp, nil
	case req.Method == http.MethodDelete:
		delete(m.state, key)
		return emptyResponse(http.StatusNoContent, 0), nil
	}
	return emptyResponse(http.StatusNotImplemented, 0), nil
}

func emptyResponse(status, size int) *http.Response {
	header := http.Header{}
	header.Set("Content-Length", fmt.Sprintf("%d", size))
	header.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	return &http.Response{
		StatusCode:    status,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(nil)),
		ContentLength: int64(size),
	}
}

func xmlResponse(status int, body string) *http.Response {
	resp := emptyResponse(status, len(body))
	resp.Header.Set("Content-Type", "application/xml")
	resp.Body = io.NopCloser(strings.NewReader(body))
	return resp
}
