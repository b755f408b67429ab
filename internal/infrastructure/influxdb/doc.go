// Package influxdb records device state changes as InfluxDB time series.
//
// Every change observed on the registry becomes one point per numeric
// state field in the device_state measurement, tagged with key,
// device_type and field:
//
//	device_state,key=Single_1_page01,device_type=Light,field=on value=1
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Async write errors are delivered to the SetOnError
// callback.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB, cfg.Bridge.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	registry.AddObserver(client)
package influxdb
