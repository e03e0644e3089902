package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"adoptnotify/internal/types"
)

// MethodAdoptableAnimals is the ASM service method listing animals currently
// up for adoption. Test-trigger ingestion scans it.
const MethodAdoptableAnimals = "json_adoptable_animals"

// ASMClientConfig holds the configuration for creating an ASMClient.
type ASMClientConfig struct {
	BaseURL      string
	Account      string
	Username     string
	Password     string
	ImageBaseURL string
	Logger       *slog.Logger
}

// ASMClient reads the ASM (Animal Shelter Manager) service API. Every call is
// a GET carrying method, account, username and password query parameters
// and returning a JSON array of records.
type ASMClient struct {
	base   *BaseClient
	cfg    ASMClientConfig
	logger *slog.Logger
}

// NewASMClient creates an ASMClient with its own BaseClient.
func NewASMClient(httpClient *http.Client, cfg ASMClientConfig) *ASMClient {
	base := NewBaseClient(httpClient, "asm", DefaultRetryPolicy(), "AdoptNotify/1.0")
	return NewASMClientWithBase(base, cfg)
}

// NewASMClientWithBase creates an ASMClient on a caller-supplied BaseClient.
func NewASMClientWithBase(base *BaseClient, cfg ASMClientConfig) *ASMClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ASMClient{base: base, cfg: cfg, logger: logger}
}

// FetchEventsSince returns the records produced by method. ASM's adoption
// methods return a fixed recent window and take no lower bound, so since
// is only logged; overlap with earlier cycles is absorbed by the event
// store's idempotent insert.
func (c *ASMClient) FetchEventsSince(ctx context.Context, method string, since time.Time) ([]types.RawEvent, error) {
	records, err := c.call(ctx, method)
	if err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "fetched upstream records",
		"method", method, "since", since.Format(time.RFC3339), "count", len(records))
	return records, nil
}

// FetchAdoptableAnimals returns the current adoptable animal list.
func (c *ASMClient) FetchAdoptableAnimals(ctx context.Context) ([]types.RawEvent, error) {
	return c.call(ctx, MethodAdoptableAnimals)
}

// AnimalImageURL returns the public image URL for animalID.
func (c *ASMClient) AnimalImageURL(animalID string) string {
	q := url.Values{}
	q.Set("method", "animal_image")
	q.Set("animalid", animalID)
	q.Set("account", c.cfg.Account)
	return c.cfg.ImageBaseURL + "?" + q.Encode()
}

func (c *ASMClient) call(ctx context.Context, method string) ([]types.RawEvent, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "invalid ASM base URL", err)
	}
	q := u.Query()
	q.Set("method", method)
	q.Set("account", c.cfg.Account)
	q.Set("username", c.cfg.Username)
	q.Set("password", c.cfg.Password)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create ASM request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("ASM %s failed", method), err, map[string]any{"method": method})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, types.NewAppErrorWithDetails(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("ASM %s failed %d: %s", method, resp.StatusCode, http.StatusText(resp.StatusCode)),
			nil, map[string]any{"method": method, "status": resp.StatusCode})
	}

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable,
				fmt.Sprintf("ASM %s returned invalid gzip", method), err)
		}
		defer gz.Close()
		body = gz
	}

	return decodeRecords(body, method)
}

// decodeRecords reads a JSON array of objects. Any other JSON shape yields
// an empty list. Numbers are kept as json.Number so ids keep their literal
// form.
func decodeRecords(r io.Reader, method string) ([]types.RawEvent, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		if err == io.EOF {
			return []types.RawEvent{}, nil
		}
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("ASM %s returned invalid JSON", method), err)
	}

	items, ok := payload.([]any)
	if !ok {
		return []types.RawEvent{}, nil
	}
	records := make([]types.RawEvent, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			records = append(records, types.RawEvent(m))
		}
	}
	return records, nil
}
