package adminapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/jrsteele09/go-chatadmin-client/gateway"
	clienterrors "github.com/jrsteele09/go-chatadmin-client/internal/errors"
)

// OCR processing states reported by the document status endpoint.
const (
	OCRStatusPending    = "pending"
	OCRStatusProcessing = "processing"
	OCRStatusCompleted  = "completed"
	OCRStatusFailed     = "failed"
)

const (
	// uploadTimeoutFloor is the minimum transport timeout for uploads.
	// Large payloads need minutes, never the default request timeout.
	uploadTimeoutFloor = 5 * time.Minute

	// uploadTimeoutPerMB adds headroom proportional to payload size.
	uploadTimeoutPerMB = 2 * time.Second

	defaultPollInterval = 2 * time.Second
)

// Document is an uploaded document and its OCR state.
type Document struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	SizeBytes int64     `json:"size_bytes"`
	OCRStatus string    `json:"ocr_status"`
	OCRText   string    `json:"ocr_text,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// UploadInput describes one file upload. Size must be the total payload
// size; it drives both the progress callback and the timeout scaling.
type UploadInput struct {
	FileName string
	Reader   io.Reader
	Size     int64

	// OnProgress, if set, receives the number of bytes consumed from
	// Reader and the total size as the payload is assembled.
	OnProgress func(sent, total int64)
}

// DocumentService uploads documents and tracks their OCR processing.
type DocumentService struct {
	gw           *gateway.Gateway
	pollInterval time.Duration
}

// DocumentServiceOption modifies the DocumentService at construction time.
type DocumentServiceOption func(*DocumentService)

// WithPollInterval sets the OCR status polling cadence.
func WithPollInterval(d time.Duration) DocumentServiceOption {
	return func(s *DocumentService) { s.pollInterval = d }
}

// NewDocumentService creates the document upload service.
func NewDocumentService(gw *gateway.Gateway, opts ...DocumentServiceOption) *DocumentService {
	s := &DocumentService{gw: gw, pollInterval: defaultPollInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadTimeout returns the transport timeout for a payload of the given
// size: a multi-minute floor plus headroom per megabyte.
func UploadTimeout(sizeBytes int64) time.Duration {
	extra := time.Duration(sizeBytes/(1<<20)) * uploadTimeoutPerMB
	return uploadTimeoutFloor + extra
}

// progressReader reports consumption of the wrapped reader.
type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    func(sent, total int64)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.sent += int64(n)
		if p.fn != nil {
			p.fn(p.sent, p.total)
		}
	}
	return n, err
}

// Upload sends the file as a multipart payload. The multipart writer
// supplies the content type, boundary included; the gateway never forces
// JSON onto it.
func (s *DocumentService) Upload(ctx context.Context, input UploadInput) (*Document, error) {
	if input.Reader == nil {
		return nil, errors.New("upload requires a reader")
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", input.FileName)
	if err != nil {
		return nil, errors.Wrap(err, "create multipart part")
	}

	src := &progressReader{r: input.Reader, total: input.Size, fn: input.OnProgress}
	if _, err := io.Copy(part, src); err != nil {
		return nil, errors.Wrap(err, "read upload payload")
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(err, "finalize multipart payload")
	}

	var doc Document
	err = s.gw.RequestJSON(ctx, http.MethodPost, "/documents", nil, &doc,
		gateway.WithRawBody(&buf, writer.FormDataContentType()),
		gateway.WithTimeout(UploadTimeout(input.Size)),
	)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Status fetches the current OCR state of a document.
func (s *DocumentService) Status(ctx context.Context, documentID string) (*Document, error) {
	var doc Document
	if err := s.gw.RequestJSON(ctx, http.MethodGet, fmt.Sprintf("/documents/%s", documentID), nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// WaitForOCR polls the status endpoint until processing completes, fails,
// or ctx expires. Bound the wait with a context deadline.
func (s *DocumentService) WaitForOCR(ctx context.Context, documentID string) (*Document, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		doc, err := s.Status(ctx, documentID)
		if err != nil {
			return nil, err
		}
		switch doc.OCRStatus {
		case OCRStatusCompleted:
			return doc, nil
		case OCRStatusFailed:
			return doc, clienterrors.Wrapf(errors.New(doc.Error), "ocr processing failed")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
