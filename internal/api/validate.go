package api

import (
	"fmt"
	"strings"

	"viasync/internal/model"
)

func validateStopStatusUpdate(req *model.StopStatusUpdate) error {
	req.StopID = strings.TrimSpace(req.StopID)
	if req.StopID == "" {
		return fmt.Errorf("stopId is required")
	}
	if req.VehicleID < 0 {
		return fmt.Errorf("vehicleId must be >= 0")
	}
	if !req.Status.Valid() {
		return fmt.Errorf("invalid status: %q (allowed: pending,in_progress,completed,failed)", req.Status)
	}
	return nil
}

func validatePositionUpdate(req *model.PositionUpdate) error {
	if req.VehicleID < 0 {
		return fmt.Errorf("vehicleId must be >= 0")
	}
	if req.Lat < -90 || req.Lat > 90 {
		return fmt.Errorf("lat must be within [-90, 90]")
	}
	if req.Lng < -180 || req.Lng > 180 {
		return fmt.Errorf("lng must be within [-180, 180]")
	}
	return nil
}
