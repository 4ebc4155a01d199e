package upstream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/haukened/caspio-proxy/internal/domain"
)

// StopReason records why FetchAll stopped requesting pages.
type StopReason string

const (
	StopExhaustedCursor    StopReason = "exhausted_cursor"
	StopExhaustedTotal     StopReason = "exhausted_total"
	StopExhaustedShortPage StopReason = "exhausted_short_page"
	StopEarlyExit          StopReason = "early_exit"
	StopPageCap            StopReason = "page_cap"
	StopTotalTimeout       StopReason = "total_timeout"
	StopPageTimeout        StopReason = "page_timeout"
	StopPartialError       StopReason = "partial_error"
	StopCanceled           StopReason = "canceled"
)

// Complete is true when the upstream ran out of data or the caller's early
// exit condition was satisfied; every other reason means the result may be a
// truncated prefix.
func (r StopReason) Complete() bool {
	switch r {
	case StopExhaustedCursor, StopExhaustedTotal, StopExhaustedShortPage, StopEarlyExit:
		return true
	default:
		return false
	}
}

// Options tune one FetchAll call. Zero values use the client's configuration.
type Options struct {
	MaxPages     int
	TotalTimeout time.Duration
	PageSize     int
	// PageCallback observes each page's records as they arrive.
	PageCallback func(page []domain.Record)
	// EarlyExit stops fetching once it returns true.
	EarlyExit func(page, all []domain.Record) bool
}

// Result is the outcome of FetchAll. Records keep upstream order, pages
// concatenated in the order they were fetched.
type Result struct {
	Records  []domain.Record
	Pages    int
	Complete bool
	Reason   StopReason
	Elapsed  time.Duration
}

func (c *Client) withDefaults(opts Options) Options {
	if opts.MaxPages <= 0 {
		opts.MaxPages = c.cfg.MaxPages
	}
	if opts.TotalTimeout <= 0 {
		opts.TotalTimeout = c.cfg.TotalTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = c.cfg.PageSize
	}
	return opts
}

// FetchAll requests resource page by page until the upstream is exhausted,
// opts.EarlyExit fires, the page cap is reached or the total budget runs out.
//
// A timed out page ends the walk successfully with whatever was accumulated.
// Any other page failure is returned only when nothing has been accumulated
// yet; otherwise the partial result is returned and the failure logged.
// Authentication failures are always returned.
func (c *Client) FetchAll(ctx context.Context, resource string, params url.Values, opts Options) (Result, error) {
	opts = c.withDefaults(opts)
	shape := c.cfg.Shape
	log := c.log.With("resource", resource)
	start := time.Now()

	budget, cancel := context.WithTimeout(ctx, opts.TotalTimeout)
	defer cancel()

	if _, err := c.cfg.Tokens.Token(budget); err != nil {
		return Result{}, err
	}

	// Page one keeps the caller's params; a page size is added only when the
	// caller left it out so the short-page heuristic has a known size.
	first := cloneValues(params)
	pageSize := opts.PageSize
	if n, err := strconv.Atoi(first.Get(shape.PageSizeParam)); err == nil && n > 0 {
		pageSize = n
	} else {
		first.Set(shape.PageSizeParam, strconv.Itoa(pageSize))
	}
	pageNumber := 1
	if n, err := strconv.Atoi(first.Get(shape.PageNumberParam)); err == nil && n > 0 {
		pageNumber = n
	}

	var res Result
	finish := func(reason StopReason) Result {
		res.Reason = reason
		res.Complete = reason.Complete()
		res.Elapsed = time.Since(start)
		if !res.Complete {
			c.cfg.Metrics.Inc(CounterPartialResults, 1)
			log.Warn("returning partial result", "reason", reason, "pages", res.Pages, "records", len(res.Records), "elapsed_ms", res.Elapsed.Milliseconds())
		} else {
			log.Debug("fetch complete", "reason", reason, "pages", res.Pages, "records", len(res.Records), "elapsed_ms", res.Elapsed.Milliseconds())
		}
		return res
	}

	nextURL := c.resourceURL(resource, first)
	for {
		if res.Pages >= opts.MaxPages {
			return finish(StopPageCap), nil
		}
		if budget.Err() != nil || time.Since(start) > opts.TotalTimeout {
			if errors.Is(ctx.Err(), context.Canceled) {
				return c.canceled(ctx, res, finish)
			}
			return finish(StopTotalTimeout), nil
		}

		pageCtx, pageCancel := context.WithTimeout(budget, c.cfg.RequestTimeout)
		body, err := c.get(pageCtx, resource, nextURL)
		pageCancel()
		var pg page
		if err == nil {
			if pg, err = decodePage(body, shape); err != nil {
				err = &RequestError{Upstream: c.cfg.Name, Resource: resource, Status: http.StatusOK, Err: err}
			}
		}
		if err != nil {
			return c.pageFailed(ctx, budget, log, res, err, finish)
		}

		res.Pages++
		c.cfg.Metrics.Inc(CounterPages, 1)
		res.Records = append(res.Records, pg.Records...)
		log.Debug("page fetched", "page", pageNumber, "records", len(pg.Records), "accumulated", len(res.Records))
		if opts.PageCallback != nil {
			opts.PageCallback(pg.Records)
		}

		if pg.Pagination.Exhausted(len(res.Records), len(pg.Records), pageSize) {
			return finish(pg.Pagination.Reason()), nil
		}
		if opts.EarlyExit != nil && opts.EarlyExit(pg.Records, res.Records) {
			return finish(StopEarlyExit), nil
		}

		if cur, ok := pg.Pagination.(NextCursor); ok {
			if nextURL, err = c.resolveNext(cur.URL); err != nil {
				return c.pageFailed(ctx, budget, log, res, &RequestError{Upstream: c.cfg.Name, Resource: resource, Err: err}, finish)
			}
			pageNumber++
			continue
		}
		pageNumber++
		q := cloneValues(first)
		q.Set(shape.PageNumberParam, strconv.Itoa(pageNumber))
		q.Set(shape.PageSizeParam, strconv.Itoa(pageSize))
		nextURL = c.resourceURL(resource, q)
	}
}

func (c *Client) pageFailed(ctx, budget context.Context, log *slog.Logger, res Result, err error, finish func(StopReason) Result) (Result, error) {
	var te *TimeoutError
	switch {
	case errors.Is(err, domain.ErrAuthentication):
		return Result{}, err
	case errors.Is(ctx.Err(), context.Canceled):
		return c.canceled(ctx, res, finish)
	case errors.As(err, &te) || isTimeout(err):
		if budget.Err() != nil {
			return finish(StopTotalTimeout), nil
		}
		return finish(StopPageTimeout), nil
	case len(res.Records) == 0:
		return Result{}, err
	default:
		log.Warn("upstream page failed after partial success", "pages", res.Pages, "err", err)
		return finish(StopPartialError), nil
	}
}

// canceled handles the caller abandoning the request.
func (c *Client) canceled(ctx context.Context, res Result, finish func(StopReason) Result) (Result, error) {
	if len(res.Records) == 0 {
		return Result{}, ctx.Err()
	}
	return finish(StopCanceled), nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
