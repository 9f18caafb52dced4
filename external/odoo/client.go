package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	gocache "github.com/patrickmn/go-cache"
	"github.com/tahanlog/gastoflow/logger"
	"github.com/tahanlog/gastoflow/model"
	"go.uber.org/zap"
)

const uidCacheKey = "uid"

type Config struct {
	Url      string
	Database string
	Username string
	Password string
	Timeout  time.Duration
}

// Client is a JSON-RPC client for the accounting system. The
// authenticated uid is cached for an hour to avoid re-authenticating
// on every submission.
type Client struct {
	conf       Config
	httpClient *http.Client
	uidCache   *gocache.Cache
}

func NewClient(conf Config) *Client {
	timeout := conf.Timeout
	if timeout == 0 {
		timeout = 1 * time.Minute
	}
	return &Client{
		conf: conf,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		uidCache: gocache.New(1*time.Hour, 10*time.Minute),
	}
}

type rpcRequest struct {
	Jsonrpc string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	Id      int       `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Id      int             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Message string `json:"message"`
	Data    struct {
		Debug string `json:"debug"`
	} `json:"data"`
}

func (c *Client) call(ctx context.Context, service string, method string, args []any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		Method:  "call",
		Params: rpcParams{
			Service: service,
			Method:  method,
			Args:    args,
		},
		Id: rand.Intn(1000000),
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.conf.Url+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.TransientError{Message: "accounting api unreachable", Cause: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, model.TransientError{
			Message: fmt.Sprintf("accounting api returned %d", res.StatusCode),
		}
	}
	var rpcRes rpcResponse
	if err := json.NewDecoder(res.Body).Decode(&rpcRes); err != nil {
		return nil, model.TransientError{Message: "can not decode accounting api response", Cause: err}
	}
	if rpcRes.Error != nil {
		return nil, model.TransientError{
			Message: fmt.Sprintf("accounting api error: %s", rpcRes.Error.Message),
		}
	}
	return rpcRes.Result, nil
}

// Authenticate resolves and caches the session uid. Re-auth is retried
// a few times with constant backoff since the endpoint flaps.
func (c *Client) Authenticate(ctx context.Context) (int, error) {
	if uid, found := c.uidCache.Get(uidCacheKey); found {
		return uid.(int), nil
	}
	var uid int
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 2)
	err := backoff.Retry(func() error {
		result, err := c.call(ctx, "common", "authenticate",
			[]any{c.conf.Database, c.conf.Username, c.conf.Password, map[string]any{}})
		if err != nil {
			return err
		}
		if err := json.Unmarshal(result, &uid); err != nil || uid == 0 {
			return model.TransientError{Message: "authentication failed, uid is null"}
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return 0, err
	}
	c.uidCache.Set(uidCacheKey, uid, gocache.DefaultExpiration)
	logger.Info("authenticated with accounting api", zap.Int("uid", uid))
	return uid, nil
}

// CreateExpense submits the expense and returns its accounting id.
func (c *Client) CreateExpense(ctx context.Context, expense ExpenseData) (int64, error) {
	uid, err := c.Authenticate(ctx)
	if err != nil {
		return 0, err
	}
	kwargs := map[string]any{
		"context": map[string]any{
			"allowed_company_ids": []int{expense.CompanyId},
			"force_company":       expense.CompanyId,
		},
	}
	values := map[string]any{
		"name":                  expense.Name,
		"date":                  expense.Date,
		"employee_id":           expense.EmployeeId,
		"product_id":            expense.ProductId,
		"quantity":              expense.Quantity,
		"total_amount":          expense.TotalAmount,
		"total_amount_currency": expense.TotalAmountCurrency,
		"payment_mode":          expense.PaymentMode,
		"currency_id":           expense.CurrencyId,
		"company_id":            expense.CompanyId,
		"description":           expense.Description,
	}
	result, err := c.call(ctx, "object", "execute_kw", []any{
		c.conf.Database, uid, c.conf.Password,
		"hr.expense", "create", []any{values}, kwargs,
	})
	if err != nil {
		return 0, err
	}
	var expenseId int64
	if err := json.Unmarshal(result, &expenseId); err != nil {
		return 0, model.TransientError{Message: "can not decode created expense id", Cause: err}
	}
	logger.Info("expense created in accounting api", zap.Int64("expenseId", expenseId))
	return expenseId, nil
}
