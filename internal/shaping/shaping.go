// Package shaping prunes and orders provider records before they reach the
// language model.
package shaping

import (
	"context"
	"math"
	"sort"

	"github.com/communityfinder/server/internal/agent/model"
	"github.com/communityfinder/server/internal/geo"
	logx "github.com/communityfinder/server/pkg/logger"
)

// Locator resolves an address to coordinates.
type Locator interface {
	Geocode(ctx context.Context, address string) (geo.Point, bool)
}

// Prune keeps only the allow-listed, non-nil fields of each record and drops
// records left empty. Pruning is idempotent.
func Prune(records []model.Record, keys []string) []model.Record {
	out := make([]model.Record, 0, len(records))
	for _, r := range records {
		if r == nil {
			continue
		}
		pruned := model.Record{}
		for _, k := range keys {
			if v, ok := r[k]; ok && v != nil {
				pruned[k] = v
			}
		}
		if len(pruned) > 0 {
			out = append(out, pruned)
		}
	}
	return out
}

// Limit returns at most n records in their current order.
func Limit(records []model.Record, n int) []model.Record {
	if n <= 0 || len(records) <= n {
		return records
	}
	return records[:n]
}

type ranked struct {
	distance float64
	record   model.Record
}

// RankByProximity sorts records by distance from origin, nearest first, and
// keeps the nearest limit. Records whose address cannot be geocoded sort
// after every geocoded one. With no origin the provider order is kept.
func RankByProximity(ctx context.Context, records []model.Record, origin *geo.Point, addressField string, locator Locator, limit int) []model.Record {
	if origin == nil || locator == nil {
		return Limit(records, limit)
	}

	rs := make([]ranked, 0, len(records))
	for _, r := range records {
		d := math.Inf(1)
		if addr := r.String(addressField); addr != "" {
			if p, ok := locator.Geocode(ctx, addr); ok {
				d = geo.Distance(*origin, p)
				logx.Debug().Str("address", addr).Float64("distance_km", d).Msg("ranked candidate")
			}
		}
		rs = append(rs, ranked{distance: d, record: r})
	}

	sort.SliceStable(rs, func(i, j int) bool { return rs[i].distance < rs[j].distance })

	out := make([]model.Record, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.record)
	}
	return Limit(out, limit)
}
