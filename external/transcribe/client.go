package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tahanlog/gastoflow/model"
)

type Config struct {
	Url     string
	Timeout time.Duration
}

type Transcription struct {
	Text     string  `json:"text"`
	Language string  `json:"language,omitempty"`
	Duration float64 `json:"duration,omitempty"`
}

// Client calls the external speech-to-text service.
type Client struct {
	conf       Config
	httpClient *http.Client
}

func NewClient(conf Config) *Client {
	timeout := conf.Timeout
	if timeout == 0 {
		timeout = 3 * time.Minute
	}
	return &Client{
		conf: conf,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// IsValidAudioUrl accepts only https URLs.
func IsValidAudioUrl(audioUrl string) bool {
	parsed, err := url.Parse(audioUrl)
	if err != nil {
		return false
	}
	return parsed.Scheme == "https"
}

func (c *Client) Transcribe(ctx context.Context, audioUrl string) (*Transcription, error) {
	if !IsValidAudioUrl(audioUrl) {
		return nil, model.ValidationError{Message: fmt.Sprintf("invalid audio url %s", audioUrl)}
	}
	body, err := json.Marshal(map[string]string{"audio_url": audioUrl})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conf.Url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.TransientError{Message: "transcription service unreachable", Cause: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, model.TransientError{
			Message: fmt.Sprintf("transcription service returned %d", res.StatusCode),
		}
	}

	var transcription Transcription
	if err := json.NewDecoder(res.Body).Decode(&transcription); err != nil {
		return nil, model.TransientError{Message: "can not decode transcription response", Cause: err}
	}
	return &transcription, nil
}
