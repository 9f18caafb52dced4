package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tahanlog/gastoflow/logger"
	"github.com/tahanlog/gastoflow/model"
	"go.uber.org/zap"
)

type Config struct {
	Url     string
	Timeout time.Duration
}

// Client talks to the external receipt classifier. The service is an
// opaque collaborator; its JSON response is validated here so nothing
// untyped leaks into workflow logic.
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

type analyzeRequest struct {
	ImageUrl             string `json:"image_url"`
	ConductorDescription string `json:"conductor_description,omitempty"`
}

type analyzeResponse struct {
	Merchant    string   `json:"merchant"`
	Reference   string   `json:"reference"`
	Date        string   `json:"date"`
	Total       float64  `json:"total"`
	Currency    string   `json:"currency"`
	Description string   `json:"description"`
	TaxId       string   `json:"tax_id"`
	Keywords    []string `json:"keywords"`
}

// Classify sends the receipt image plus the resolved description text
// and returns the extracted fields. Description may be empty.
func (c *Client) Classify(ctx context.Context, imageUrl string, description string) (*model.ExtractedFields, error) {
	body, err := json.Marshal(analyzeRequest{
		ImageUrl:             imageUrl,
		ConductorDescription: description,
	})
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
		return nil, model.TransientError{Message: "ai service unreachable", Cause: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, model.TransientError{
			Message: fmt.Sprintf("ai service returned %d", res.StatusCode),
		}
	}

	var analysis analyzeResponse
	if err := json.NewDecoder(res.Body).Decode(&analysis); err != nil {
		return nil, model.TransientError{Message: "can not decode ai response", Cause: err}
	}
	logger.Debug("receipt classified", zap.String("merchant", analysis.Merchant), zap.Strings("keywords", analysis.Keywords))
	return &model.ExtractedFields{
		Merchant:    analysis.Merchant,
		Reference:   analysis.Reference,
		Date:        analysis.Date,
		Total:       analysis.Total,
		Currency:    analysis.Currency,
		Description: analysis.Description,
		TaxId:       analysis.TaxId,
		Keywords:    analysis.Keywords,
	}, nil
}
