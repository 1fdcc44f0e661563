// Package influxdb implements an optional periodic exporter of the process's
// metrics.DefaultRegistry to an InfluxDB instance, mirroring geth's own
// metrics/influxdb reporter and built on the same client vendored in the
// teacher's go.mod (github.com/influxdata/influxdb).
package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb/client"

	"github.com/acunu/castlefs/log"
	"github.com/acunu/castlefs/metrics"
)

// Config describes where to push samples and how often.
type Config struct {
	URL      string
	Database string
	Username string
	Password string
	Interval time.Duration
	Tags     map[string]string
}

// Reporter periodically drains metrics.DefaultRegistry into InfluxDB.
type Reporter struct {
	reg    metrics.Registry
	cfg    Config
	client *client.Client

	quit chan struct{}
}

// New constructs a Reporter against reg (metrics.DefaultRegistry if nil).
func New(reg metrics.Registry, cfg Config) (*Reporter, error) {
	if reg == nil {
		reg = metrics.DefaultRegistry
	}
	u, err := client.ParseConnectionString(cfg.URL, false)
	if err != nil {
		return nil, fmt.Errorf("influxdb: parse url: %w", err)
	}
	c, err := client.NewClient(client.Config{
		URL:      u,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("influxdb: new client: %w", err)
	}
	return &Reporter{reg: reg, cfg: cfg, client: c, quit: make(chan struct{})}, nil
}

// Start runs the export loop until Stop is called. It is meant to be
// launched in its own goroutine by the process embedding the version
// manager; the manager itself never starts a reporter implicitly.
func (r *Reporter) Start() {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			if err := r.send(); err != nil {
				log.Warn("influxdb: failed to push metrics", "err", err)
			}
		case <-r.quit:
			return
		}
	}
}

// Stop halts the export loop.
func (r *Reporter) Stop() { close(r.quit) }

func (r *Reporter) send() error {
	now := time.Now()
	var pts []client.Point

	r.reg.Each(func(name string, i interface{}) {
		fields := map[string]interface{}{}
		switch m := i.(type) {
		case metrics.Counter:
			fields["count"] = m.Count()
		case metrics.Gauge:
			fields["value"] = m.Value()
		case metrics.Meter:
			s := m.Snapshot()
			fields["count"] = s.Count
			fields["rate1"] = s.Rate1
			fields["rate5"] = s.Rate5
			fields["rate15"] = s.Rate15
			fields["mean"] = s.RateMean
		case metrics.Timer:
			s := m.Snapshot()
			fields["count"] = s.Count
			fields["sum_ns"] = s.Sum.Nanoseconds()
			fields["max_ns"] = s.Max.Nanoseconds()
		default:
			return
		}
		pts = append(pts, client.Point{
			Measurement: name,
			Tags:        r.cfg.Tags,
			Fields:      fields,
			Time:        now,
			Precision:   "s",
		})
	})
	if len(pts) == 0 {
		return nil
	}
	_, err := r.client.Write(client.BatchPoints{
		Points:   pts,
		Database: r.cfg.Database,
	})
	return err
}
