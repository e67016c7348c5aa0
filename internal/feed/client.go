package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/condoleads/condoleads-sub001/internal/listings"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTimeout           = 20 * time.Second
	defaultPageSize          = 100
	defaultCompletedLookback = 365 * 24 * time.Hour
	maxPagesPerQuery         = 100
	propertyResource         = "Property"
)

var (
	ErrInvalidClientConfig = errors.New("feed: invalid client config")
	errMissingBaseURL      = errors.New("base url is required")
	errMissingStreetNumber = errors.New("street number is required")
	errPageLimit           = errors.New("page limit reached before the last page")
)

// Query names one of the independent upstream queries issued per fetch.
type Query string

const (
	QueryActive    Query = "active"
	QueryCompleted Query = "completed"
)

// QueryFailure records one query that failed outright. The other query's records are still returned.
type QueryFailure struct {
	Query Query
	Err   error
}

func (f QueryFailure) Error() string {
	return fmt.Sprintf("%s query: %v", f.Query, f.Err)
}

func (f QueryFailure) Unwrap() error {
	return f.Err
}

// Result is the raw union of every query that succeeded.
type Result struct {
	Records  []listings.ListingRecord
	Counts   map[Query]int
	Failures []QueryFailure
	// Queries lists every query issued for the fetch.
	Queries []Query
}

// AllFailed reports a total outage: every query issued failed.
func (r Result) AllFailed() bool {
	return len(r.Queries) > 0 && len(r.Failures) == len(r.Queries)
}

// Err joins the query failures, nil when there are none.
func (r Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, failure := range r.Failures {
		errs = append(errs, failure)
	}
	return errors.Join(errs...)
}

type Config struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	PageSize          int
	CompletedLookback time.Duration
	HTTPClient        *http.Client
	Clock             func() time.Time
	Logger            *zap.Logger
}

// Client queries an OData-style listing feed.
type Client struct {
	baseURL           *url.URL
	token             string
	timeout           time.Duration
	pageSize          int
	completedLookback time.Duration
	httpClient        *http.Client
	clock             func() time.Time
	logger            *zap.Logger
}

func NewClient(cfg Config) (*Client, error) {
	rawBaseURL := strings.TrimSpace(cfg.BaseURL)
	if rawBaseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingBaseURL)
	}
	baseURL, err := url.Parse(strings.TrimRight(rawBaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	lookback := cfg.CompletedLookback
	if lookback <= 0 {
		lookback = defaultCompletedLookback
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:           baseURL,
		token:             strings.TrimSpace(cfg.Token),
		timeout:           timeout,
		pageSize:          pageSize,
		completedLookback: lookback,
		httpClient:        httpClient,
		clock:             clock,
		logger:            logger,
	}, nil
}

// Fetch runs the active and completed queries concurrently, each under its own timeout.
// A failing query is logged and recorded in Result.Failures; it never fails the other one.
func (c *Client) Fetch(ctx context.Context, address listings.Address) Result {
	order := []Query{QueryActive, QueryCompleted}
	filters := map[Query]string{}
	result := Result{Counts: map[Query]int{}, Queries: order}

	base, err := addressFilter(address)
	if err != nil {
		result.Failures = []QueryFailure{{Query: QueryActive, Err: err}, {Query: QueryCompleted, Err: err}}
		return result
	}
	filters[QueryActive] = base + " and StandardStatus eq 'Active'"
	since := c.clock().UTC().Add(-c.completedLookback).Format("2006-01-02")
	filters[QueryCompleted] = base +
		" and (StandardStatus eq 'Closed' or MlsStatus eq 'Sold' or MlsStatus eq 'Leased')" +
		" and CloseDate ge " + since

	records := make([][]listings.ListingRecord, len(order))
	failures := make([]error, len(order))

	var group errgroup.Group
	for index, query := range order {
		index, query := index, query
		group.Go(func() error {
			queryCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			records[index], failures[index] = c.runQuery(queryCtx, filters[query])
			return nil
		})
	}
	_ = group.Wait()

	for index, query := range order {
		if failures[index] != nil {
			c.logger.Warn("feed query failed",
				zap.String("query", string(query)),
				zap.String("street_number", address.StreetNumber),
				zap.String("street_name", address.StreetName),
				zap.Error(failures[index]))
			result.Failures = append(result.Failures, QueryFailure{Query: query, Err: failures[index]})
			continue
		}
		result.Counts[query] = len(records[index])
		result.Records = append(result.Records, records[index]...)
	}
	return result
}

func (c *Client) runQuery(ctx context.Context, filter string) ([]listings.ListingRecord, error) {
	var collected []listings.ListingRecord
	nextURL := c.pageURL(filter, 0)
	for page := 0; page < maxPagesPerQuery && nextURL != ""; page++ {
		document, err := c.fetchPage(ctx, nextURL)
		if err != nil {
			return nil, err
		}
		collected = append(collected, document.Value...)

		switch {
		case document.NextLink != "":
			nextURL = document.NextLink
		case len(document.Value) < c.pageSize:
			nextURL = ""
		default:
			nextURL = c.pageURL(filter, len(collected))
		}
	}
	// A truncated result would read as removals downstream.
	if nextURL != "" {
		return nil, fmt.Errorf("%w (%d pages)", errPageLimit, maxPagesPerQuery)
	}
	return collected, nil
}

func (c *Client) pageURL(filter string, skip int) string {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + "/" + propertyResource
	query := url.Values{}
	query.Set("$filter", filter)
	query.Set("$top", strconv.Itoa(c.pageSize))
	if skip > 0 {
		query.Set("$skip", strconv.Itoa(skip))
	}
	endpoint.RawQuery = query.Encode()
	return endpoint.String()
}

type pageDocument struct {
	Value    []listings.ListingRecord `json:"value"`
	NextLink string                   `json:"@odata.nextLink"`
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (pageDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return pageDocument{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return pageDocument{}, err
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return pageDocument{}, fmt.Errorf("feed request returned status %d", response.StatusCode)
	}

	var document pageDocument
	if err := json.NewDecoder(response.Body).Decode(&document); err != nil {
		return pageDocument{}, fmt.Errorf("decode feed page: %w", err)
	}
	return document, nil
}

// addressFilter narrows both queries to the entity's street number and leading street-name token.
func addressFilter(address listings.Address) (string, error) {
	number := strings.TrimSpace(address.StreetNumber)
	if number == "" {
		return "", errMissingStreetNumber
	}
	filter := "StreetNumber eq '" + escapeLiteral(number) + "'"
	if fields := strings.Fields(address.StreetName); len(fields) > 0 {
		filter += " and contains(StreetName,'" + escapeLiteral(fields[0]) + "')"
	}
	return filter, nil
}

func escapeLiteral(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}
