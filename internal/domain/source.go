package domain

// SourceID names a satellite data source.
type SourceID string

const (
	SourceMTG           SourceID = "MTG"
	SourceVIIRSRealtime SourceID = "VIIRS_Realtime"
	SourceVIIRSStandard SourceID = "VIIRS_Standard"
	SourceMODIS         SourceID = "MODIS"
)

// SourceInfo describes the data source chosen for a coordinate.
type SourceInfo struct {
	Source         SourceID `json:"source"`
	Name           string   `json:"name"`
	LatencyMinutes int      `json:"latency_minutes"`
	Region         string   `json:"region"`
}
