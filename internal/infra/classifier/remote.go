package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nictjh/originalCapture/internal/domain"
	"github.com/nictjh/originalCapture/internal/usecase"
)

const SourceRemote = "remote"

// Remote posts the media and manifest to an external judge service.
type Remote struct {
	endpoint   string
	httpClient *http.Client
}

func NewRemote(endpoint string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Remote) Classify(ctx context.Context, req usecase.ClassifyRequest) (domain.ClassifierVerdict, error) {
	if c == nil || c.endpoint == "" {
		return domain.ClassifierVerdict{}, errors.New("classifier endpoint not configured")
	}
	body, contentType, err := encodeJudgeForm(req)
	if err != nil {
		return domain.ClassifierVerdict{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/judge", body)
	if err != nil {
		return domain.ClassifierVerdict{}, err
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.ClassifierVerdict{}, fmt.Errorf("classifier request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ClassifierVerdict{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.ClassifierVerdict{}, fmt.Errorf("classifier failed: status %d", resp.StatusCode)
	}
	var verdict domain.ClassifierVerdict
	if err := json.Unmarshal(respBody, &verdict); err != nil {
		return domain.ClassifierVerdict{}, fmt.Errorf("decode classifier response: %w", err)
	}
	if verdict.Label == "" {
		return domain.ClassifierVerdict{}, errors.New("classifier response missing label")
	}
	if verdict.Reasons == nil {
		verdict.Reasons = []string{}
	}
	verdict.Source = SourceRemote
	return verdict, nil
}

func encodeJudgeForm(req usecase.ClassifyRequest) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	name := req.MediaName
	if name == "" {
		name = "media.bin"
	}
	part, err := w.CreateFormFile("media", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Media); err != nil {
		return nil, "", err
	}
	if len(req.Manifest) > 0 {
		if err := w.WriteField("manifest", string(req.Manifest)); err != nil {
			return nil, "", err
		}
	}
	if err := w.WriteField("hardware_level", strconv.Itoa(req.HardwareLevel)); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("classification", string(req.Classification)); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}
