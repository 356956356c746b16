package postgres

import (
	"reflect"
	"testing"
	"time"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

func TestAppendListOpts(t *testing.T) {
	since := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)

	tests := []struct {
		name      string
		opts      domain.ListOpts
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "defaults",
			opts:      domain.ListOpts{},
			wantQuery: "SELECT 1 WHERE symbol = $1 ORDER BY created_at DESC LIMIT $2",
			wantArgs:  []any{"ES", maxListLimit},
		},
		{
			name:      "full",
			opts:      domain.ListOpts{Limit: 10, Offset: 20, Since: &since, Until: &until},
			wantQuery: "SELECT 1 WHERE symbol = $1 AND created_at >= $2 AND created_at <= $3 ORDER BY created_at DESC LIMIT $4 OFFSET $5",
			wantArgs:  []any{"ES", since, until, 10, 20},
		},
		{
			name:      "limit capped",
			opts:      domain.ListOpts{Limit: 5000},
			wantQuery: "SELECT 1 WHERE symbol = $1 ORDER BY created_at DESC LIMIT $2",
			wantArgs:  []any{"ES", maxListLimit},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := appendListOpts("SELECT 1 WHERE symbol = $1", []any{"ES"}, tt.opts)
			if q != tt.wantQuery {
				t.Errorf("query = %q\nwant    %q", q, tt.wantQuery)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %v, want %v", args, tt.wantArgs)
			}
		})
	}
}
