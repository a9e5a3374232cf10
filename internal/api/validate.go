package api

import (
    "fmt"

    "zonewatch/internal/model"
)

func validateGeofenceInput(in *model.GeofenceInput, patch bool) error {
    if !patch && in.Kind == "" {
        return fmt.Errorf("kind is required")
    }
    switch in.Kind {
    case "", model.KindCircle, model.KindPolygon:
    default:
        return fmt.Errorf("invalid kind: %s (allowed: circle, polygon)", in.Kind)
    }
    // In a patch radiusM 0 means "not provided"; a negative value is never
    // valid regardless of kind.
    if in.RadiusM < 0 {
        return fmt.Errorf("radiusM must be > 0")
    }
    if in.Kind == model.KindCircle {
        if in.Center == nil {
            return fmt.Errorf("circle requires center")
        }
        if in.RadiusM <= 0 {
            return fmt.Errorf("circle requires radiusM > 0")
        }
    }
    if in.Kind == model.KindPolygon && len(in.Vertices) < 3 {
        return fmt.Errorf("polygon requires at least 3 vertices")
    }
    if in.Center != nil {
        if in.Center.Lat < -90 || in.Center.Lat > 90 || in.Center.Lng < -180 || in.Center.Lng > 180 {
            return fmt.Errorf("center out of range")
        }
    }
    for i, v := range in.Vertices {
        if v.Lat < -90 || v.Lat > 90 || v.Lng < -180 || v.Lng > 180 {
            return fmt.Errorf("vertex %d out of range", i)
        }
    }
    return nil
}
