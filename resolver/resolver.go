// Package resolver looks up book metadata for each query against the
// volumes search API and drives a whole batch through the pipeline.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-book-lookup/config"
	"github.com/aluiziolira/go-book-lookup/models"
	"github.com/aluiziolira/go-book-lookup/parser"
	"github.com/aluiziolira/go-book-lookup/pipeline"
	"github.com/aluiziolira/go-book-lookup/progress"
)

// maxResults is the number of items requested per query. Only the top
// match is used.
const maxResults = 1

// Context keys shared between the collector callbacks and Resolve.
const (
	ctxStart    = "start"
	ctxVolumes  = "volumes"
	ctxErr      = "error"
	ctxRespCode = "status"
)

// Resolver wraps the colly collector used to query the metadata API.
type Resolver struct {
	cfg       *config.Config
	apiURL    *url.URL
	collector *colly.Collector
	Metrics   *Metrics
	Reporter  progress.Reporter
	Logger    *slog.Logger

	requestCount int

	mu           sync.Mutex
	errorsByType map[string]int

	handlersOnce sync.Once
}

// NewResolver builds a resolver configured from cfg.
func NewResolver(cfg *config.Config) (*Resolver, error) {
	parsed, err := url.Parse(cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("api url must include a host")
	}

	collector := colly.NewCollector(
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       cfg.Delay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	r := &Resolver{
		cfg:          cfg,
		apiURL:       parsed,
		collector:    collector,
		Metrics:      NewMetrics(),
		Reporter:     progress.Discard,
		Logger:       slog.Default(),
		errorsByType: make(map[string]int),
	}
	r.configureHandlers()
	return r, nil
}

// Resolve looks up query and returns its record. A query without any
// match yields the "Not Found" record and a notice; transport, status
// and decode failures are returned as errors.
func (r *Resolver) Resolve(ctx context.Context, query string) (models.Record, error) {
	record, _, err := r.resolve(ctx, query)
	return record, err
}

func (r *Resolver) resolve(ctx context.Context, query string) (models.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Record{}, false, err
	}

	reqCtx := colly.NewContext()
	err := r.collector.Request(http.MethodGet, r.searchURL(query), nil, reqCtx, nil)
	if err != nil {
		if classified, ok := reqCtx.GetAny(ctxErr).(error); ok {
			err = classified
		} else {
			status, _ := reqCtx.GetAny(ctxRespCode).(int)
			err = classifyError(err, status)
		}
		r.recordError(err)
		r.Metrics.IncLookup("failed")
		return models.Record{}, false, err
	}

	volumes, ok := reqCtx.GetAny(ctxVolumes).(*parser.VolumesResponse)
	if !ok {
		err, isErr := reqCtx.GetAny(ctxErr).(error)
		if !isErr {
			err = ErrDecode{Err: fmt.Errorf("no response body for %q", query)}
		}
		r.recordError(err)
		r.Metrics.IncLookup("failed")
		return models.Record{}, false, err
	}

	if !volumes.HasMatch() {
		r.Metrics.IncLookup("not_found")
		r.Reporter.Notice("No results found for: " + query)
		r.Logger.Warn("no results", slog.String("query", query))
		return parser.NotFoundRecord(query), false, nil
	}

	r.Metrics.IncLookup("found")
	return volumes.Record(query), true, nil
}

func (r *Resolver) searchURL(query string) string {
	u := *r.apiURL
	params := u.Query()
	params.Set("q", query)
	params.Set("maxResults", strconv.Itoa(maxResults))
	u.RawQuery = params.Encode()
	return u.String()
}

// Run resolves queries one at a time, in order, feeding every record to p.
// Unless ContinueOnError is set the first lookup failure aborts the run.
func (r *Resolver) Run(ctx context.Context, queries []string, p *pipeline.Pipeline) (*models.LookupResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := &models.LookupResult{StartTime: time.Now()}
	r.Reporter.Start(len(queries))
	defer r.Reporter.Finish()

	for _, query := range queries {
		if err := ctx.Err(); err != nil {
			return r.finish(result, p), fmt.Errorf("lookup cancelled: %w", err)
		}

		r.Reporter.Fetching(query)
		record, found, err := r.resolve(ctx, query)
		switch {
		case err != nil && !r.cfg.ContinueOnError:
			return r.finish(result, p), fmt.Errorf("lookup %q: %w", query, err)
		case err != nil:
			r.Logger.Error("lookup failed, recording as not found",
				slog.String("query", query),
				slog.String("category", errorTypeLabel(err)),
				slog.Any("error", err),
			)
			record = parser.NotFoundRecord(query)
			result.FailedCount++
		case found:
			result.FoundCount++
		default:
			result.NotFound++
		}

		if err := p.Process(&record); err != nil {
			return r.finish(result, p), fmt.Errorf("process %q: %w", query, err)
		}
	}

	return r.finish(result, p), nil
}

func (r *Resolver) finish(result *models.LookupResult, p *pipeline.Pipeline) *models.LookupResult {
	result.EndTime = time.Now()
	result.Records = p.Records()
	result.TotalCount = len(result.Records)
	result.RequestCount = r.requestCount
	result.ErrorsByType = r.snapshotErrors()
	if repeated, ok := p.GetMetrics()["repeated_queries"].(int64); ok {
		result.Repeated = int(repeated)
	}
	return result
}

func (r *Resolver) configureHandlers() {
	r.handlersOnce.Do(func() {
		r.collector.OnRequest(func(req *colly.Request) {
			req.Ctx.Put(ctxStart, time.Now())
			r.requestCount++
			r.Metrics.IncRequest("started")
			r.Logger.Debug("lookup request", slog.String("url", req.URL.String()))
		})

		r.collector.OnResponse(func(resp *colly.Response) {
			resp.Ctx.Put(ctxRespCode, resp.StatusCode)
			if start, ok := resp.Request.Ctx.GetAny(ctxStart).(time.Time); ok {
				r.Metrics.ObserveDuration(time.Since(start))
			}
			r.Metrics.IncRequest("completed")

			volumes, err := parser.DecodeVolumes(resp.Body)
			if err != nil {
				resp.Ctx.Put(ctxErr, ErrDecode{Err: err})
				return
			}
			resp.Ctx.Put(ctxVolumes, volumes)
		})

		r.collector.OnError(func(resp *colly.Response, err error) {
			statusCode := 0
			if resp != nil {
				statusCode = resp.StatusCode
			}
			classified := classifyError(err, statusCode)
			if resp != nil && resp.Ctx != nil {
				resp.Ctx.Put(ctxRespCode, statusCode)
				resp.Ctx.Put(ctxErr, classified)
			}

			reqURL := ""
			if resp != nil && resp.Request != nil && resp.Request.URL != nil {
				reqURL = resp.Request.URL.String()
			}
			r.Logger.Error("request error",
				slog.String("url", reqURL),
				slog.Int("status", statusCode),
				slog.String("category", errorTypeLabel(classified)),
				slog.Any("error", err),
			)
		})
	})
}

func (r *Resolver) recordError(err error) {
	category := errorTypeLabel(err)
	r.mu.Lock()
	r.errorsByType[category]++
	r.mu.Unlock()
	r.Metrics.IncError(category)
}

func (r *Resolver) snapshotErrors() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.errorsByType))
	for k, v := range r.errorsByType {
		out[k] = v
	}
	return out
}
