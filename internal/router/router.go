// Package router picks the lowest-latency satellite source for a coordinate.
package router

import "github.com/couchcryptid/fireguard-alerts/internal/domain"

type coverageBox struct {
	region string
	box    domain.BoundingBox
}

type sourceTable struct {
	source  domain.SourceID
	name    string
	latency int
	boxes   []coverageBox
}

// tables are ordered by preference. Within a table the first matching box
// names the region.
var tables = []sourceTable{
	{
		source:  domain.SourceMTG,
		name:    "Meteosat Third Generation (MTG)",
		latency: 15,
		boxes: []coverageBox{
			{"Europe", domain.BoundingBox{West: -15, South: 35, East: 45, North: 72}},
			{"Africa", domain.BoundingBox{West: -20, South: -35, East: 55, North: 40}},
			{"Middle East", domain.BoundingBox{West: 25, South: 12, East: 65, North: 45}},
			{"Southern Africa", domain.BoundingBox{West: 10, South: -35, East: 40, North: -10}},
		},
	},
	{
		source:  domain.SourceVIIRSRealtime,
		name:    "VIIRS (NASA FIRMS near real-time)",
		latency: 180,
		boxes: []coverageBox{
			{"North America", domain.BoundingBox{West: -170, South: 25, East: -50, North: 70}},
			{"Australia", domain.BoundingBox{West: 110, South: -45, East: 155, North: -10}},
		},
	},
}

var fallback = domain.SourceInfo{
	Source:         domain.SourceVIIRSStandard,
	Name:           "VIIRS (NASA FIRMS standard)",
	LatencyMinutes: 270,
	Region:         "Global",
}

// Select returns the fastest source covering the coordinate, or the global
// VIIRS fallback when no box matches.
func Select(lat, lon float64) domain.SourceInfo {
	for _, t := range tables {
		for _, b := range t.boxes {
			if b.box.Contains(lat, lon) {
				return domain.SourceInfo{
					Source:         t.source,
					Name:           t.name,
					LatencyMinutes: t.latency,
					Region:         b.region,
				}
			}
		}
	}
	return fallback
}

// InMTGCoverage reports whether the geostationary source sees the coordinate.
func InMTGCoverage(lat, lon float64) bool {
	return Select(lat, lon).Source == domain.SourceMTG
}
