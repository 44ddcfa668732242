package telemetry

import (
	"testing"
	"time"

	"marinebms/internal/measurement"
)

func TestPackStatusPointCarriesCoreFields(t *testing.T) {
	pack := measurement.NewPackState(measurement.DefaultTopology())
	pack.PackVoltageMV = 330000
	pack.SOCHundredths = 5500
	pack.MaxCellMV = 3750

	point := packStatusPoint("pack-a", pack, time.Unix(0, 0))
	if point.Name() != "pack_status" {
		t.Errorf("measurement name = %q, want pack_status", point.Name())
	}

	tags := point.TagList()
	found := false
	for _, tag := range tags {
		if tag.Key == "pack_id" && tag.Value == "pack-a" {
			found = true
		}
	}
	if !found {
		t.Error("expected pack_id tag on the point")
	}
}
