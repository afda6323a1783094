// The export package copies post-processed solutions to InfluxDB, where
// they can be plotted against time.
package export

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	influxdb "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/goblimey/go-rtkpost/rtkpost"
)

// Measurement is the InfluxDB measurement written.
const Measurement = "solution"

// InfluxWriter writes solutions to an InfluxDB bucket.
type InfluxWriter struct {
	client   influxdb.Client
	writeAPI api.WriteAPIBlocking
	logger   *slog.Logger
}

// NewInfluxWriter creates an InfluxWriter for the server at url.
func NewInfluxWriter(url, token, org, bucket string, logger *slog.Logger) *InfluxWriter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	client := influxdb.NewClient(url, token)
	return &InfluxWriter{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		logger:   logger,
	}
}

// WriteSolutions writes one point per solution, tagged with the base name
// of the source file and the solution quality.
func (w *InfluxWriter) WriteSolutions(ctx context.Context, source string, solutions []rtkpost.Solution) error {
	if len(solutions) == 0 {
		return nil
	}
	points := make([]*write.Point, 0, len(solutions))
	for i := range solutions {
		points = append(points, point(filepath.Base(source), &solutions[i]))
	}
	if err := w.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write of %d solutions: %w", len(points), err)
	}
	w.logger.Debug("exported solutions", "source", source, "count", len(points))
	return nil
}

func point(source string, s *rtkpost.Solution) *write.Point {
	p := influxdb.NewPointWithMeasurement(Measurement).
		AddTag("source", source).
		AddTag("quality", s.Quality.String()).
		AddField("latitude", s.Latitude).
		AddField("longitude", s.Longitude).
		AddField("height", s.Height).
		AddField("ns", s.NumSatellites).
		AddField("sdn", s.SDN).
		AddField("sde", s.SDE).
		AddField("sdu", s.SDU).
		SetTime(s.Time)
	if s.Local != nil {
		p.AddField("x", s.Local.X).
			AddField("y", s.Local.Y).
			AddField("z", s.Local.Z)
	}
	return p
}

// Close releases the client.
func (w *InfluxWriter) Close() {
	w.client.Close()
}
