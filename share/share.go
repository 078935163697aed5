// Package share uploads finished composites to a sharing service, which
// returns a URL guests can open, e.g. from a QR code on the kiosk screen.
package share

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/snapbooth/photobooth-go/raster"
)

// Photo is a composite to share.
type Photo struct {
	SessionID string `json:"session_id"`
	Filename  string `json:"filename"`
	Grid      string `json:"grid,omitempty"`  // Optional.
	Frame     string `json:"frame,omitempty"` // Optional.
	Image     string `json:"image"`           // Data URL.
}

type protected struct {
	Version   string `json:"ver"`
	Algorithm string `json:"alg"`
	IAT       int64  `json:"iat,omitempty"`
}

type envelope struct {
	Protected protected `json:"protected"`
	Signature string    `json:"signature"`
	Payload   Photo     `json:"payload"`
}

type shareResponse struct {
	URL string `json:"url"`
}

// Uploader holds the account keys of the sharing service and uploads photos.
type Uploader struct {
	HTTPClient *http.Client
	BaseURL    string

	hmacKey []byte
	apiKey  string
}

// NewUploader makes a new Uploader for the service at baseURL. hmacKey is
// hex encoded. If you need custom HTTP handling, e.g. for proxy settings, you
// can override the default HTTPClient.
func NewUploader(baseURL, apiKey, hmacKey string) (*Uploader, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("missing share base url")
	}
	hmacKeyBuf, err := hex.DecodeString(hmacKey)
	if err != nil {
		return nil, fmt.Errorf("parsing hmac key: %v", err)
	}
	return &Uploader{http.DefaultClient, strings.TrimSuffix(baseURL, "/"), hmacKeyBuf, apiKey}, nil
}

// UploadOpts holds photo upload options.
type UploadOpts struct {
	Grid  string
	Frame string
	MIME  string // Media type of the image, image/jpeg if empty.
}

// Upload sends the encoded image to the sharing service, and returns the
// URL under which it can be viewed.
// For HTTP-related errors, the (wrapped) underlying errors from net/http or an HTTPError can be returned.
func (u *Uploader) Upload(ctx context.Context, sessionID, filename string, img []byte, opts *UploadOpts) (string, error) {
	if len(img) == 0 {
		return "", fmt.Errorf("empty image")
	}
	var o UploadOpts
	if opts != nil {
		o = *opts
	}
	if o.MIME == "" {
		o.MIME = raster.JPEG.MIME()
	}

	// Prepare data, insert zeros for signature, then marshal data to JSON.
	data := envelope{
		Protected: protected{
			Version:   "v1",
			Algorithm: "HS256",
			IAT:       time.Now().Unix(),
		},
		Signature: fmt.Sprintf("%x", make([]byte, 32)),
		Payload: Photo{
			SessionID: sessionID,
			Filename:  filename,
			Grid:      o.Grid,
			Frame:     o.Frame,
			Image:     raster.DataURL(img, o.MIME),
		},
	}
	buf, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal data to JSON: %v", err)
	}

	// Now actually sign the data (that has the zero signature).
	actualSig := Sign(u.hmacKey, buf)

	// Replace the zero signature with the actual signature.
	i := bytes.Index(buf, []byte(data.Signature))
	if i < 0 {
		return "", fmt.Errorf("internal error: could not find zero signature")
	}
	copy(buf[i:], []byte(actualSig))

	url := u.BaseURL + "/api/share"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("new HTTP request: %v", err)
	}
	req.Header.Add("x-api-key", u.apiKey)
	req.Header.Add("x-file-name", filename)
	req.Header.Add("Content-Type", "application/json")

	resp, err := u.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// Attempt to read a response message to use in error message, otherwise use http status message.
		msg := resp.Status
		buf, err := io.ReadAll(resp.Body)
		if err == nil && len(buf) > 0 {
			msg = string(buf)
		}
		return "", HTTPError{resp.StatusCode, msg}
	}
	var sr shareResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("reading response message: %w", err)
	}
	if sr.URL == "" {
		return "", fmt.Errorf("no url in share response")
	}
	return sr.URL, nil
}

// Sign returns the hex HMAC-SHA256 of buf, as placed in the signature field
// of an upload. Services verify it over the body with the signature zeroed.
func Sign(key, buf []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(buf)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// HTTPError represents an HTTP error code and message.
type HTTPError struct {
	Code   int    // HTTP status code, eg 401 or 500.
	Status string // Status message, either from body or the HTTP response status line.
}

// Error returns a human-readable description of the HTTP error.
func (e HTTPError) Error() string {
	return fmt.Sprintf("http response error, code %d: %s", e.Code, e.Status)
}

// Ensure HTTPError implements the error interface.
var _ error = HTTPError{}
