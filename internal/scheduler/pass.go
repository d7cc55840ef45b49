package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"leadflow_backend/internal/assignment/engine"
	assignsvc "leadflow_backend/internal/assignment/service"
	"leadflow_backend/internal/visitors/domain"
	"leadflow_backend/internal/visitors/repository"
)

type routeFunc func(ctx context.Context, v *domain.Visitor) (assignsvc.Result, error)

// pass assigns every queued visitor in two phases. Phase one walks the
// queue page by page with a sequence cursor and routes by category and by
// region; phase two sends category misses to the global pool, so matched
// visitors consume rotation slots before overflow does. Visitors that stay
// queued forever (an unmatched region, a failing record) never hide newer
// ones: the cursor moves past them, and a pass cut short by MaxPerPass
// resumes where it stopped on the next run.
func (r *Reconciler) pass(ctx context.Context, trigger string) (PassReport, error) {
	start := r.now()
	report := PassReport{Trigger: trigger, StartedAt: start}
	finish := func(err error) (PassReport, error) {
		report.DurationMs = r.now().Sub(start).Milliseconds()
		return report, err
	}

	var misses []*domain.Visitor
	resumed := r.resumeAfter
	cursor := resumed
	wrapped := false
	for report.Examined < r.opts.MaxPerPass {
		limit := min(r.opts.BatchSize, r.opts.MaxPerPass-report.Examined)
		page, err := r.queue.ListNeedingAssignment(ctx, cursor, limit)
		if err != nil {
			return finish(fmt.Errorf("list visitors needing assignment: %w", err))
		}
		report.Pages++

		exhausted := len(page) < limit
		if wrapped {
			page, exhausted = headUpTo(page, resumed, exhausted)
		}
		report.Examined += len(page)

		for _, v := range page {
			if err := ctx.Err(); err != nil {
				return finish(err)
			}
			miss, err := r.routePrimary(ctx, v, &report)
			if err != nil {
				return finish(err)
			}
			if miss {
				misses = append(misses, v)
			}
		}

		if len(page) > 0 {
			cursor = page[len(page)-1].Seq
		}
		if !exhausted {
			continue
		}
		if resumed != 0 && !wrapped {
			wrapped = true
			cursor = 0
			continue
		}
		cursor = 0
		break
	}
	report.Truncated = cursor != 0
	r.resumeAfter = cursor

	for _, v := range misses {
		if err := ctx.Err(); err != nil {
			return finish(err)
		}

		_, err := r.route(ctx, r.assigner.RouteFallback, v)
		switch {
		case err == nil:
			report.FallbackRouted++
		case errors.Is(err, engine.ErrNoExecutiveAvailable):
			report.Unassigned++
		case errors.Is(err, engine.ErrAlreadyAssigned):
		case isTransient(err):
			return finish(err)
		default:
			report.Failed++
			r.log.Warn("fallback assignment failed", "visitorId", v.ID, "error", err)
		}
	}

	return finish(nil)
}

// routePrimary runs phase one for v. It reports whether v missed its
// category and needs the fallback pool. The returned error is transient
// and aborts the pass.
func (r *Reconciler) routePrimary(ctx context.Context, v *domain.Visitor, report *PassReport) (bool, error) {
	miss := false
	if v.NeedsServiceAssignment() {
		_, err := r.route(ctx, r.assigner.RouteByCategory, v)
		switch {
		case err == nil:
			report.ServiceRouted++
		case errors.Is(err, engine.ErrNoCategoryExecutive):
			miss = true
		case errors.Is(err, engine.ErrAlreadyAssigned):
		case isTransient(err):
			return false, err
		default:
			report.Failed++
			r.log.Warn("service assignment failed", "visitorId", v.ID, "error", err)
		}
	}

	if strings.TrimSpace(v.Region) == "" {
		if v.SalesExecutiveID == nil {
			report.RegionSkipped++
		}
		return miss, nil
	}
	if v.SalesExecutiveID != nil {
		return miss, nil
	}
	_, err := r.route(ctx, r.assigner.RouteByRegion, v)
	switch {
	case err == nil:
		report.RegionRouted++
	case errors.Is(err, engine.ErrNoRegionExecutive):
		report.RegionUnmatched++
	case errors.Is(err, engine.ErrAlreadyAssigned), errors.Is(err, engine.ErrNoRegion):
	case isTransient(err):
		return false, err
	default:
		report.Failed++
		r.log.Warn("region assignment failed", "visitorId", v.ID, "error", err)
	}
	return miss, nil
}

// route turns a panic on a malformed record into an error for that visitor.
func (r *Reconciler) route(ctx context.Context, fn routeFunc, v *domain.Visitor) (res assignsvc.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("visitor %s: panic: %v", v.ID, p)
		}
	}()
	return fn(ctx, v)
}

// headUpTo keeps the visitors at or before seq. Once the page crosses seq
// the wrapped walk has reached where the pass started.
func headUpTo(page []*domain.Visitor, seq int64, exhausted bool) ([]*domain.Visitor, bool) {
	for i, v := range page {
		if v.Seq > seq {
			return page[:i], true
		}
	}
	return page, exhausted
}

func isTransient(err error) bool {
	return errors.Is(err, repository.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
