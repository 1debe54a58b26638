package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"fibo_bot/internal/models"
	"fibo_bot/pkg/tracing"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// venue error codes that need special handling
const (
	codeOrderNotExist = "51603"
	codeDuplicateClID = "51016"
)

type Options struct {
	BaseURL    string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	Simulated  bool
}

// Client is one user's signed connection to the venue. It carries that
// user's credentials and rate limiter and is never shared between users.
type Client struct {
	baseURL string
	apiKey  string
	secret  string
	passph  string
	sim     bool

	http    *http.Client
	limiter *rate.Limiter

	mu   sync.RWMutex
	meta map[string]models.InstrumentMeta
}

func NewClient(creds models.Credentials, opt Options) *Client {
	if opt.BaseURL == "" {
		opt.BaseURL = "https://www.okx.com"
	}
	if opt.RatePerSec <= 0 {
		opt.RatePerSec = 10
	}
	if opt.Burst <= 0 {
		opt.Burst = 1
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(opt.BaseURL, "/"),
		apiKey:  creds.APIKey,
		secret:  creds.APISecret,
		passph:  creds.Passphrase,
		sim:     opt.Simulated,
		http:    &http.Client{Timeout: opt.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opt.RatePerSec), opt.Burst),
		meta:    make(map[string]models.InstrumentMeta),
	}
}

func (c *Client) sign(ts, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(ts + method + requestPath + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type itemStatus struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// do sends one request and decodes the data array into out.
//
// Errors are classified so callers can tell "definitely not done" from
// "maybe done": transport failures, deadlines and 5xx wrap ErrVenueTimeout;
// venue codes wrap ErrVenueRejected, ErrOrderNotFound or ErrDuplicateOrder.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, signed bool, out any) error {
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	span, ctx := tracing.StartSpan(ctx, "okx "+method+" "+path, map[string]any{"signed": signed})
	defer span.Finish()

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(models.ErrVenueTimeout, "%s rate limit: %v", path, err)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s marshal: %w", path, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s new request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
		req.Header.Set("OK-ACCESS-KEY", c.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	}
	if c.sim {
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		span.SetTag("error", true)
		// the request may have reached the venue, so the outcome is unknown
		return errors.Wrapf(models.ErrVenueTimeout, "%s: %v", path, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	span.SetTag("http.status_code", resp.StatusCode)

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return errors.Wrapf(models.ErrVenueTimeout, "%s http %d: %s", path, resp.StatusCode, string(data))
	}

	var env envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		if resp.StatusCode/100 != 2 {
			return errors.Wrapf(models.ErrVenueRejected, "%s http %d: %s", path, resp.StatusCode, string(data))
		}
		return fmt.Errorf("%s decode: %w; body=%s", path, err, string(data))
	}

	if env.Code != "0" {
		// order endpoints report the real reason per item
		var items []itemStatus
		_ = sonic.Unmarshal(env.Data, &items)
		code, msg := env.Code, env.Msg
		if len(items) > 0 && items[0].SCode != "" && items[0].SCode != "0" {
			code, msg = items[0].SCode, items[0].SMsg
		}
		return classify(path, code, msg)
	}

	if out != nil && len(env.Data) > 0 {
		if err := sonic.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%s decode data: %w", path, err)
		}
	}
	return nil
}

func classify(path, code, msg string) error {
	switch code {
	case codeOrderNotExist:
		return errors.Wrapf(models.ErrOrderNotFound, "%s: %s", path, msg)
	case codeDuplicateClID:
		return errors.Wrapf(models.ErrDuplicateOrder, "%s: %s", path, msg)
	case "50001", "50004", "50013", "50026":
		// service unavailable / endpoint timeout / system busy
		return errors.Wrapf(models.ErrVenueTimeout, "%s code=%s: %s", path, code, msg)
	}
	return errors.Wrapf(models.ErrVenueRejected, "%s code=%s: %s", path, code, msg)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
