// Package domain models satellite fire detections and the alerts derived from them.
//
// # Detections
//
// A [Detection] is one thermal anomaly reported by a satellite instrument.
// Two families of sources feed the service:
//
//	Geostationary (EUMETSAT MTG-I1 FCI): full-disc scans every 10 minutes over
//	Europe, Africa and the Middle East. Pixel confidence is an integer class
//	1..3 which is mapped to 35/60/85.
//
//	Polar orbit (NASA FIRMS, VIIRS/MODIS): global coverage with 3 to 6 hours of
//	latency, or 2 to 4 hours in the near-real-time regions. Confidence is either
//	numeric (MODIS) or a class letter: l/low=30, n/nominal=50, h/high=80.
//
// Coordinates are WGS84 decimal degrees. Confidence and risk score are always
// clamped to [0, 100].
//
// # Alerts
//
// A [FireAlert] aggregates one detection into a user-facing alert. Its
// severity is derived from detection confidence:
//
//	>= 85  Critical   radius 50 km
//	>= 70  High       radius 30 km
//	>= 55  Medium     radius 20 km
//	>= 40  Low        radius 10 km
//	else   Info       radius  5 km
//
// At most one Active or Confirmed FireAlert exists per detection. Alerts are
// never deleted; they expire 24 hours after creation.
//
// A [UserAlert] is the personalized record for one user and one FireAlert.
// The (user, fire alert) pair is unique.
//
// # Notifications
//
// Each UserAlert is fanned out as a [NotificationMessage] per delivery
// [Channel]. High and Critical alerts go to push, SMS and email; everything
// else goes to push only. Broker priority follows severity: Critical=10,
// High=7, Medium=5, Low=3, Info=1.
package domain
