// Package metrics keeps process counters and gauges in memory and flushes
// them periodically to an embedded tstorage time series database.
package metrics

import (
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nakabonne/tstorage"
	"github.com/pkg/errors"
)

var (
	mu      sync.RWMutex
	storage tstorage.Storage
	values  sync.Map // name -> *atomic.Int64
)

// InitMetrics opens the time series store under <workdir>/data/metrics.
func InitMetrics(workdir string) error {
	mu.Lock()
	defer mu.Unlock()
	if storage != nil {
		return nil
	}
	st, err := tstorage.NewStorage(
		tstorage.WithDataPath(filepath.Join(workdir, "data", "metrics")),
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithPartitionDuration(time.Hour),
		tstorage.WithRetention(7*24*time.Hour),
	)
	if err != nil {
		return errors.Wrap(err, "open metrics storage")
	}
	storage = st
	return nil
}

func value(name string) *atomic.Int64 {
	if v, ok := values.Load(name); ok {
		return v.(*atomic.Int64)
	}
	v, _ := values.LoadOrStore(name, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc adds one to a counter.
func Inc(name string) {
	value(name).Add(1)
}

// SetGauge overwrites a gauge.
func SetGauge(name string, v int64) {
	value(name).Store(v)
}

// Get returns the current in-memory value of name.
func Get(name string) int64 {
	if v, ok := values.Load(name); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// Names lists every metric seen so far.
func Names() []string {
	var names []string
	values.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

// Flush writes one point per metric stamped with now.
func Flush(now time.Time) error {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return nil
	}
	var rows []tstorage.Row
	values.Range(func(k, v any) bool {
		rows = append(rows, tstorage.Row{
			Metric:    k.(string),
			DataPoint: tstorage.DataPoint{Timestamp: now.Unix(), Value: float64(v.(*atomic.Int64).Load())},
		})
		return true
	})
	if len(rows) == 0 {
		return nil
	}
	return errors.Wrap(storage.InsertRows(rows), "insert metric rows")
}

// Point is one stored sample.
type Point struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Query returns the stored samples of name between start and end (unix seconds).
func Query(name string, start, end int64) ([]Point, error) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return nil, errors.New("metrics storage not initialized")
	}
	pts, err := storage.Select(name, nil, start, end)
	if errors.Is(err, tstorage.ErrNoDataPoints) {
		return []Point{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "select %s", name)
	}
	out := make([]Point, 0, len(pts))
	for _, p := range pts {
		out = append(out, Point{Timestamp: p.Timestamp, Value: p.Value})
	}
	return out, nil
}

// Close releases the store.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return nil
	}
	err := storage.Close()
	storage = nil
	return err
}
