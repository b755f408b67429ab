package influxdb

import (
	"context"
	"sort"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/portal-bridge/internal/device"
)

// MeasurementDeviceState holds one point per state field per change.
const MeasurementDeviceState = "device_state"

// StatePoints converts a state change into points tagged with the device
// key, device type and field name. States without numeric fields yield none.
func StatePoints(change device.StateChange) []*write.Point {
	fields := change.State.Fields()
	if len(fields) == 0 {
		return nil
	}

	at := change.At
	if at.IsZero() {
		at = time.Now()
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	points := make([]*write.Point, 0, len(names))
	for _, name := range names {
		points = append(points, write.NewPoint(
			MeasurementDeviceState,
			map[string]string{
				"key":         change.Key,
				"device_type": string(change.Type),
				"field":       name,
			},
			map[string]any{"value": fields[name]},
			at,
		))
	}
	return points
}

// WriteStateMetric queues the points for a state change. It does not
// block; points are sent in batches.
func (c *Client) WriteStateMetric(change device.StateChange) {
	if !c.IsConnected() {
		return
	}
	for _, p := range StatePoints(change) {
		c.writeAPI.WritePoint(p)
		c.points.Add(1)
	}
}

// OnStateChange implements device.Observer.
func (c *Client) OnStateChange(_ context.Context, change device.StateChange) {
	c.WriteStateMetric(change)
}
