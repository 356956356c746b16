package profile

import (
	"testing"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

func band(kind domain.EdgeZoneKind, lo, hi float64, strength int) domain.EdgeZone {
	return domain.EdgeZone{Kind: kind, PriceStart: lo, PriceEnd: hi, Strength: strength}
}

func TestBestTradeZone(t *testing.T) {
	tests := []struct {
		name  string
		zones []domain.EdgeZone
		price float64
		want  domain.EdgeZoneKind
		ok    bool
	}{
		{
			name:  "no zones",
			zones: nil,
			price: 100,
		},
		{
			name: "actionable preferred over stronger neutral",
			zones: []domain.EdgeZone{
				band(domain.ZonePointOfControl, 99, 101, 100),
				band(domain.ZoneStrongSupport, 100, 102, 60),
			},
			price: 100,
			want:  domain.ZoneStrongSupport,
			ok:    true,
		},
		{
			name: "zone exactly two away is not nearby",
			zones: []domain.EdgeZone{
				band(domain.ZoneStrongResistance, 101, 103, 90),
				band(domain.ZoneHighVolumeNode, 99, 101, 40),
			},
			price: 100,
			want:  domain.ZoneHighVolumeNode,
			ok:    true,
		},
		{
			name: "everything far away",
			zones: []domain.EdgeZone{
				band(domain.ZoneStrongSupport, 89, 91, 90),
				band(domain.ZonePointOfControl, 109, 111, 100),
			},
			price: 100,
		},
		{
			name: "strongest actionable wins",
			zones: []domain.EdgeZone{
				band(domain.ZoneStrongResistance, 100, 102, 90),
				band(domain.ZoneStrongSupport, 98, 100, 70),
			},
			price: 100,
			want:  domain.ZoneStrongResistance,
			ok:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			z, ok := BestTradeZone(domain.ProfileAnalysis{EdgeZones: tt.zones}, tt.price)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && z.Kind != tt.want {
				t.Fatalf("kind = %s, want %s", z.Kind, tt.want)
			}
		})
	}
}

func TestBestTradeZone_ReferenceWindow(t *testing.T) {
	a := Analyze(threeLevelWindow(), 100.05)
	z, ok := BestTradeZone(a, 100.05)
	if !ok || z.Kind != domain.ZoneStrongSupport {
		t.Fatalf("best zone = %+v (%v), want STRONG_SUPPORT", z, ok)
	}
	if _, ok := BestTradeZone(a, 200); ok {
		t.Fatal("expected no zone near 200")
	}
}

func TestBestTradeZone_CustomWindow(t *testing.T) {
	a := domain.ProfileAnalysis{EdgeZones: []domain.EdgeZone{band(domain.ZoneStrongSupport, 94, 96, 50)}}
	if _, ok := BestTradeZone(a, 100); ok {
		t.Fatal("default window should not reach 5 units")
	}
	if _, ok := NewAnalyzer(Config{ProximityWindow: 6}).BestTradeZone(a, 100); !ok {
		t.Fatal("widened window should reach 5 units")
	}
}

func TestBuildLadder(t *testing.T) {
	p := Aggregate(threeLevelWindow())
	a := AnalyzeProfile(p, 100.05)
	l := BuildLadder(p, a, 100.05)

	if len(l.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(l.Rows))
	}
	if l.Rows[0].Price < l.Rows[1].Price || l.Rows[1].Price < l.Rows[2].Price {
		t.Fatalf("rows not sorted descending: %+v", l.Rows)
	}
	if l.CurrentIndex != 1 {
		t.Errorf("current index = %d, want 1", l.CurrentIndex)
	}
	if l.MaxSideVolume != 12 {
		t.Errorf("max side volume = %v, want 12", l.MaxSideVolume)
	}
	if z := l.Rows[2].Zone; z == nil || *z != domain.ZoneStrongSupport {
		t.Errorf("row 100.00 zone = %v, want STRONG_SUPPORT", z)
	}
}

func TestBuildLadder_Edges(t *testing.T) {
	empty := BuildLadder(Profile{}, domain.NeutralAnalysis(10), 10)
	if len(empty.Rows) != 0 || empty.CurrentIndex != -1 || empty.MaxSideVolume != 1 {
		t.Fatalf("empty ladder = %+v", empty)
	}

	p := Aggregate([]domain.Candle{candle(domain.Footprint{"102": {}, "100": {}})})
	l := BuildLadder(p, domain.ProfileAnalysis{}, 101)
	if l.CurrentIndex != 0 {
		t.Errorf("tie should resolve to the first row, got %d", l.CurrentIndex)
	}
	if l.MaxSideVolume != 1 {
		t.Errorf("all-zero ladder max = %v, want 1", l.MaxSideVolume)
	}
	for i, r := range l.Rows {
		if r.Zone != nil {
			t.Errorf("row %d tagged without zones", i)
		}
	}
}
