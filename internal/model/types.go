package model

import "time"

// Request and response shapes shared by the API, the routing core and the store.

type TimeWindow struct {
    Start string `json:"start"`
    End   string `json:"end"`
}

type GeoPoint struct {
    Lat float64 `json:"lat"`
    Lng float64 `json:"lng"`
}

type DepotIn struct {
    Address    string      `json:"address"`
    TimeWindow *TimeWindow `json:"timeWindow,omitempty"`
}

type DeliveryIn struct {
    ID         string         `json:"id"`
    Address    string         `json:"address"`
    TimeWindow TimeWindow     `json:"timeWindow"`
    Demand     *int           `json:"demand,omitempty"`
    Metadata   map[string]any `json:"metadata,omitempty"`
}

// CustomStartTime pins the depot departure, e.g. {"date":"2025-01-15","time":"08:30"}.
type CustomStartTime struct {
    Date string `json:"date"`
    Time string `json:"time"`
}

type OptimizeRequest struct {
    Depot      DepotIn      `json:"depot"`
    Deliveries []DeliveryIn `json:"deliveries"`
    // Accepts any JSON number so that fractional capacities are reported as a
    // configuration error instead of a decode failure.
    VehicleCapacities  []float64        `json:"vehicleCapacities"`
    ServiceTimeMinutes *int             `json:"serviceTimeMinutes,omitempty"`
    CustomStartTime    *CustomStartTime `json:"customStartTime,omitempty"`
    Offset             *int             `json:"offset,omitempty"`
}

// OrderRef is one original delivery folded into a routed stop.
type OrderRef struct {
    ID         string         `json:"id"`
    Address    string         `json:"address"`
    TimeWindow TimeWindow     `json:"timeWindow"`
    Demand     int            `json:"demand"`
    Metadata   map[string]any `json:"metadata,omitempty"`
}

type StopStatus string

const (
    StopPending    StopStatus = "pending"
    StopInProgress StopStatus = "in_progress"
    StopCompleted  StopStatus = "completed"
    StopFailed     StopStatus = "failed"
)

// Valid reports whether s is one of the known stop statuses.
func (s StopStatus) Valid() bool {
    switch s {
    case StopPending, StopInProgress, StopCompleted, StopFailed:
        return true
    }
    return false
}

type RouteStop struct {
    LocationID    string     `json:"locationId"`
    Address       string     `json:"address"`
    Lat           float64    `json:"lat"`
    Lng           float64    `json:"lng"`
    ArrivalTime   string     `json:"arrivalTime"`
    DepartureTime string     `json:"departureTime"`
    ArrivalSec    int        `json:"arrivalSec"`
    DepartureSec  int        `json:"departureSec"`
    TimeWindow    TimeWindow `json:"timeWindow"`
    Demand        int        `json:"demand,omitempty"`
    IsDepot       bool       `json:"isDepot,omitempty"`
    MergedIDs     []string   `json:"mergedIds,omitempty"`
    Orders        []OrderRef `json:"orders,omitempty"`
    Status        StopStatus `json:"status,omitempty"`
}

type Route struct {
    ID                     string      `json:"routeId,omitempty"`
    VehicleID              int         `json:"vehicleId"`
    Cluster                int         `json:"cluster,omitempty"`
    Stops                  []RouteStop `json:"stops"`
    TotalDistance          int         `json:"totalDistance"`
    TotalTime              int         `json:"totalTime"`
    Load                   int         `json:"load"`
    Capacity               int         `json:"capacity"`
    TimeWindowViolations   int         `json:"timeWindowViolations"`
    TrafficDurationMinutes *int        `json:"trafficDurationMinutes,omitempty"`
    TrafficETA             string      `json:"trafficEta,omitempty"`
}

type Pagination struct {
    Offset       int  `json:"offset"`
    ClusterIndex int  `json:"clusterIndex"`
    ClusterCount int  `json:"clusterCount"`
    TotalStops   int  `json:"totalStops"`
    NextOffset   *int `json:"nextOffset,omitempty"`
    HasMore      bool `json:"hasMore"`
}

type OptimizeResult struct {
    Routes          []Route     `json:"routes"`
    TotalDistance   int         `json:"totalDistance"`
    TotalTime       int         `json:"totalTime"`
    TotalLoad       int         `json:"totalLoad"`
    NumVehiclesUsed int         `json:"numVehiclesUsed"`
    Warnings        []string    `json:"warnings"`
    Pagination      *Pagination `json:"pagination,omitempty"`
}

// StoredRoute is a persisted route with its tracking state.
type StoredRoute struct {
    Route
    CreatedAt time.Time `json:"createdAt"`
    UpdatedAt time.Time `json:"updatedAt"`
}

type VehiclePosition struct {
    RouteID    string    `json:"routeId"`
    VehicleID  int       `json:"vehicleId"`
    Lat        float64   `json:"lat"`
    Lng        float64   `json:"lng"`
    RecordedAt time.Time `json:"ts"`
}

type StopStatusUpdate struct {
    VehicleID int        `json:"vehicleId"`
    StopID    string     `json:"stopId"`
    Status    StopStatus `json:"status"`
}

type PositionUpdate struct {
    VehicleID int       `json:"vehicleId"`
    Lat       float64   `json:"lat"`
    Lng       float64   `json:"lng"`
    Timestamp time.Time `json:"ts"`
}
