package query

import (
	"context"
	"slices"

	"github.com/roach88/btdebug/internal/apperr"
	"github.com/roach88/btdebug/internal/event"
	"github.com/roach88/btdebug/internal/queryir"
)

// rootBatchSize bounds how many roots are loaded per round trip when
// chains must be evaluated before paging.
const rootBatchSize = 200

// parentBatchSize bounds the IN list when loading children.
const parentBatchSize = 500

// Chain is one causal chain: a root and its descendants in depth-first
// pre-order, children ordered by timestamp.
type Chain struct {
	RootEventID       string        `json:"root_event_id"`
	Events            []event.Event `json:"events"`
	EventTypes        []event.Type  `json:"event_types"`
	Depth             int           `json:"depth"`
	Complete          bool          `json:"complete"`
	MissingEventTypes []event.Type  `json:"missing_event_types"`
	Truncated         bool          `json:"truncated"`
}

// SequencesResult is a page of chains.
type SequencesResult struct {
	Chains   []Chain  `json:"chains"`
	Metadata Metadata `json:"metadata"`
}

// QuerySequences walks parent links from each root down to max_depth
// levels and returns a page of chains.
//
// Without a pattern every chain is complete. With a pattern, a chain is
// complete iff the pattern is a prefix of (or equal to) the chain's type
// sequence; incomplete chains are only returned when find_incomplete is
// set, with missing_event_types listing pattern types absent from the
// chain.
func (e *Engine) QuerySequences(ctx context.Context, req queryir.SequencesRequest) (SequencesResult, error) {
	start := e.clock.Now()

	pattern, err := req.Pattern()
	if err != nil {
		return SequencesResult{}, err
	}
	rootFilter, err := req.RootFilter()
	if err != nil {
		return SequencesResult{}, err
	}
	if req.RootEventID != "" {
		n, err := e.count(ctx, rootFilter)
		if err != nil {
			return SequencesResult{}, err
		}
		if n == 0 {
			return SequencesResult{}, apperr.NotFound("root event %s not found in run %s", req.RootEventID, req.RunID)
		}
	}
	depth := req.Depth()
	page, capped := req.Page()

	var (
		chains []Chain
		total  int
	)
	if len(pattern) == 0 || req.FindIncomplete {
		// Every root yields exactly one returned chain, so the page can be
		// selected directly.
		chains, total, err = e.pageAllChains(ctx, req, rootFilter, pattern, depth, page)
	} else {
		// A complete chain must start with the pattern's first type.
		rootFilter = queryir.AndOf(rootFilter, queryir.Equals{Column: queryir.ColEventType, Value: string(pattern[0])})
		chains, total, err = e.pageCompleteChains(ctx, req, rootFilter, pattern, depth, page)
	}
	if err != nil {
		return SequencesResult{}, err
	}

	truncated := capped
	for _, c := range chains {
		truncated = truncated || c.Truncated
	}
	return SequencesResult{
		Chains: chains,
		Metadata: Metadata{
			TotalCount:    total,
			ReturnedCount: len(chains),
			PageIndex:     page.Index,
			PageSize:      page.Size,
			HasMore:       page.HasMore(total),
			QueryTimeMs:   e.elapsedMs(start),
			Truncated:     truncated,
		},
	}, nil
}

func (e *Engine) pageAllChains(ctx context.Context, req queryir.SequencesRequest, rootFilter queryir.Predicate, pattern []event.Type, depth int, page queryir.Page) ([]Chain, int, error) {
	total, err := e.count(ctx, rootFilter)
	if err != nil {
		return nil, 0, err
	}
	chains := []Chain{}
	if page.Size == 0 || page.Offset() >= total {
		return chains, total, nil
	}

	roots, err := e.selectEvents(ctx, queryir.Select{Filter: rootFilter, Limit: page.Limit()})
	if err != nil {
		return nil, 0, err
	}
	for _, root := range roots {
		c, err := e.buildChain(ctx, req, root, depth)
		if err != nil {
			return nil, 0, err
		}
		evaluate(&c, pattern)
		chains = append(chains, c)
	}
	return chains, total, nil
}

// pageCompleteChains evaluates every candidate root in batches, counting
// complete chains and keeping only those that fall on the requested page.
func (e *Engine) pageCompleteChains(ctx context.Context, req queryir.SequencesRequest, rootFilter queryir.Predicate, pattern []event.Type, depth int, page queryir.Page) ([]Chain, int, error) {
	chains := []Chain{}
	total := 0
	lo, hi := page.Offset(), page.Offset()+page.Size

	for offset := 0; ; offset += rootBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		roots, err := e.selectEvents(ctx, queryir.Select{
			Filter: rootFilter,
			Limit:  &queryir.Limit{Count: rootBatchSize, Offset: offset},
		})
		if err != nil {
			return nil, 0, err
		}
		for _, root := range roots {
			c, err := e.buildChain(ctx, req, root, depth)
			if err != nil {
				return nil, 0, err
			}
			evaluate(&c, pattern)
			if !c.Complete {
				continue
			}
			if total >= lo && total < hi {
				chains = append(chains, c)
			}
			total++
		}
		if len(roots) < rootBatchSize {
			break
		}
	}
	return chains, total, nil
}

// buildChain loads root's descendants level by level, at most depth levels
// below the root, then flattens them in pre-order.
func (e *Engine) buildChain(ctx context.Context, req queryir.SequencesRequest, root event.Event, depth int) (Chain, error) {
	children := map[string][]event.Event{}
	visited := map[string]bool{root.ID: true}
	frontier := []string{root.ID}
	reached := 0

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		kids, err := e.loadChildren(ctx, req, frontier)
		if err != nil {
			return Chain{}, err
		}
		var next []string
		for _, k := range kids {
			if visited[k.ID] {
				continue
			}
			visited[k.ID] = true
			children[k.ParentID] = append(children[k.ParentID], k)
			next = append(next, k.ID)
		}
		if len(next) > 0 {
			reached = level
		}
		frontier = next
	}

	// Anything below the last loaded level means the chain was cut.
	truncated := false
	if len(frontier) > 0 && reached == depth {
		for lo := 0; lo < len(frontier) && !truncated; lo += parentBatchSize {
			n, err := e.count(ctx, req.ChildFilter(frontier[lo:min(lo+parentBatchSize, len(frontier))]))
			if err != nil {
				return Chain{}, err
			}
			truncated = n > 0
		}
	}

	c := Chain{
		RootEventID:       root.ID,
		Events:            []event.Event{},
		EventTypes:        []event.Type{},
		Depth:             reached,
		MissingEventTypes: []event.Type{},
		Truncated:         truncated,
	}
	var walk func(ev event.Event)
	walk = func(ev event.Event) {
		c.Events = append(c.Events, ev)
		c.EventTypes = append(c.EventTypes, ev.Type)
		for _, k := range children[ev.ID] {
			walk(k)
		}
	}
	walk(root)
	return c, nil
}

// loadChildren returns the direct children of parents in timestamp order.
func (e *Engine) loadChildren(ctx context.Context, req queryir.SequencesRequest, parents []string) ([]event.Event, error) {
	var out []event.Event
	for lo := 0; lo < len(parents); lo += parentBatchSize {
		hi := min(lo+parentBatchSize, len(parents))
		batch, err := e.selectEvents(ctx, queryir.Select{Filter: req.ChildFilter(parents[lo:hi])})
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	// Batches are individually ordered; merge them stably.
	if len(parents) > parentBatchSize {
		slices.SortStableFunc(out, func(a, b event.Event) int {
			return a.Timestamp.Compare(b.Timestamp)
		})
	}
	return out, nil
}

// evaluate sets Complete and MissingEventTypes against pattern.
func evaluate(c *Chain, pattern []event.Type) {
	if len(pattern) == 0 {
		c.Complete = true
		return
	}
	c.Complete = len(pattern) <= len(c.EventTypes) && slices.Equal(pattern, c.EventTypes[:len(pattern)])
	if c.Complete {
		return
	}
	for _, t := range pattern {
		if !slices.Contains(c.EventTypes, t) && !slices.Contains(c.MissingEventTypes, t) {
			c.MissingEventTypes = append(c.MissingEventTypes, t)
		}
	}
}
