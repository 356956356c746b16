package postgres

import (
	"fmt"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

// maxListLimit caps page sizes requested through ListOpts.
const maxListLimit = 1000

// appendListOpts extends a query that already has a WHERE clause and len(args)
// bound parameters with the time filters, ordering and paging of opts.
func appendListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	next := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", next)
		args = append(args, *opts.Since)
		next++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", next)
		args = append(args, *opts.Until)
		next++
	}

	query += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	query += fmt.Sprintf(" LIMIT $%d", next)
	args = append(args, limit)
	next++

	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", next)
		args = append(args, opts.Offset)
	}
	return query, args
}
