package ingest

import (
	"context"
	"time"

	"github.com/couchcryptid/fireguard-alerts/internal/domain"
)

// Source is a satellite adapter.
type Source interface {
	Name() string
	FetchActiveFires(ctx context.Context, box domain.BoundingBox, lookback time.Duration) ([]domain.Detection, error)
}

// Task is one fetch in a sync run.
type Task struct {
	Name     string
	Source   Source
	Box      domain.BoundingBox
	Lookback time.Duration
}

// Region is a named circular area covered by the polar catalog.
type Region struct {
	Name     string
	Lat      float64
	Lon      float64
	RadiusKm float64
}

// DefaultLookback is the window every sync task asks for.
const DefaultLookback = 24 * time.Hour

// MTGDisc is the area the geostationary imager can see.
var MTGDisc = domain.BoundingBox{West: -20, South: -35, East: 65, North: 72}

// DefaultRegions are the polar-orbit regions synced when none are configured.
var DefaultRegions = []Region{
	{Name: "NorthAmerica", Lat: 40, Lon: -100, RadiusKm: 2500},
	{Name: "SouthAmerica", Lat: -15, Lon: -60, RadiusKm: 2500},
	{Name: "Australia", Lat: -25, Lon: 135, RadiusKm: 1500},
	{Name: "SoutheastAsia", Lat: 10, Lon: 110, RadiusKm: 1500},
	{Name: "EastAsia", Lat: 35, Lon: 120, RadiusKm: 1500},
	{Name: "Turkey", Lat: 39, Lon: 35, RadiusKm: 900},
}

// BuildTasks assembles the sync plan: one task for the geostationary disc and
// one polar task per region. Nil sources are left out.
func BuildTasks(geostationary, polar Source, regions []Region) []Task {
	var tasks []Task
	if geostationary != nil {
		tasks = append(tasks, Task{
			Name:     geostationary.Name(),
			Source:   geostationary,
			Box:      MTGDisc,
			Lookback: DefaultLookback,
		})
	}
	if polar != nil {
		for _, r := range regions {
			tasks = append(tasks, Task{
				Name:     polar.Name() + ":" + r.Name,
				Source:   polar,
				Box:      domain.BoundingBoxAround(r.Lat, r.Lon, r.RadiusKm),
				Lookback: DefaultLookback,
			})
		}
	}
	return tasks
}
