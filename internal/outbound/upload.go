package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"

	"github.com/nrednav/cuid2"
)

// MaxFileSize is the per-file ceiling for chat uploads.
const MaxFileSize = 10 << 20 // 10 MiB

// allowedMIMETypes is the upload allow-list, shared with the server side.
var allowedMIMETypes = map[string]struct{}{
	"image/jpeg":         {},
	"image/png":          {},
	"image/gif":          {},
	"image/webp":         {},
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
	"text/plain": {},
}

var (
	ErrNoValidFiles       = errors.New("outbound: no valid files to upload")
	ErrUploadInFlight     = errors.New("outbound: an upload is already in flight")
	ErrUploadUnauthorized = errors.New("outbound: upload unauthorized")
)

// File is one attachment selected for sending.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Data        io.Reader
}

// FileError is a per-file, user-facing rejection reason.
type FileError struct {
	Name   string
	Reason string
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

// UploadResult is the server's verdict on one upload attempt. Partial
// means HTTP 207: some files were processed and the message was created,
// others were rejected with the reasons in Errors.
type UploadResult struct {
	MessageID     string   `json:"message_id"`
	UploadedFiles []string `json:"uploaded_files"`
	Errors        []string `json:"processing_errors"`
	Partial       bool     `json:"-"`
}

// Uploader sends files with an optional caption as one multipart request
// per attempt, so the server groups them into a single message. Like the
// text pipeline it is single-flight.
type Uploader struct {
	baseURL string
	token   string
	client  *http.Client

	mu        sync.Mutex
	uploading bool
}

// NewUploader creates an uploader for the chat service at baseURL.
func NewUploader(baseURL, authToken string) *Uploader {
	return &Uploader{
		baseURL: baseURL,
		token:   authToken,
		client:  http.DefaultClient,
	}
}

// ValidateFile checks one file against the size ceiling and the MIME
// allow-list, returning a user-facing reason when it cannot be sent.
func ValidateFile(f File) *FileError {
	if f.Size > MaxFileSize {
		return &FileError{Name: f.Name, Reason: fmt.Sprintf("file too large (max %d MB)", MaxFileSize>>20)}
	}
	if _, ok := allowedMIMETypes[f.ContentType]; !ok {
		return &FileError{Name: f.Name, Reason: fmt.Sprintf("unsupported file type %q", f.ContentType)}
	}
	return nil
}

// SendFiles validates every file individually, uploads the valid ones plus
// the optional caption in one request, and returns the server result along
// with the locally rejected files. A fully rejected batch never touches
// the network; a transport or server failure leaves the caller's input
// intact so the user can retry.
func (u *Uploader) SendFiles(ctx context.Context, conversationID string, files []File, caption string) (*UploadResult, []FileError, error) {
	var valid []File
	var rejected []FileError
	for _, f := range files {
		if ferr := ValidateFile(f); ferr != nil {
			rejected = append(rejected, *ferr)
			continue
		}
		valid = append(valid, f)
	}
	if len(valid) == 0 {
		return nil, rejected, ErrNoValidFiles
	}

	u.mu.Lock()
	if u.uploading {
		u.mu.Unlock()
		return nil, rejected, ErrUploadInFlight
	}
	u.uploading = true
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.uploading = false
		u.mu.Unlock()
	}()

	body, contentType, err := buildMultipart(valid, caption)
	if err != nil {
		return nil, rejected, fmt.Errorf("outbound: building upload request: %w", err)
	}

	url := fmt.Sprintf("%s/api/uploads/%s", u.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, rejected, fmt.Errorf("outbound: building upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+u.token)

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, rejected, fmt.Errorf("outbound: uploading files: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusMultiStatus:
		var result UploadResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, rejected, fmt.Errorf("outbound: decoding upload response: %w", err)
		}
		result.Partial = resp.StatusCode == http.StatusMultiStatus
		return &result, rejected, nil
	case http.StatusUnauthorized:
		return nil, rejected, ErrUploadUnauthorized
	default:
		detail := readDetail(resp.Body)
		return nil, rejected, fmt.Errorf("outbound: upload failed with status %d: %s", resp.StatusCode, detail)
	}
}

// buildMultipart assembles the single request body: every valid file under
// the "files" field, the caption under "message", and a correlation id so
// the resulting message can be reconciled like any other send.
func buildMultipart(files []File, caption string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range files {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Name))
		hdr.Set("Content-Type", f.ContentType)
		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, "", err
		}
		if _, err := io.Copy(part, f.Data); err != nil {
			return nil, "", err
		}
	}
	if caption != "" {
		if err := w.WriteField("message", caption); err != nil {
			return nil, "", err
		}
	}
	if err := w.WriteField("temp_id", cuid2.Generate()); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func readDetail(r io.Reader) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil || body.Detail == "" {
		return "no detail"
	}
	return body.Detail
}
