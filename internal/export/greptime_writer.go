package export

import (
	"context"
	"log"
	"os"

	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	ingesterContext "github.com/GreptimeTeam/greptimedb-ingester-go/context"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/interlock"
	"github.com/AI-Gruppe/ika-edge-control-API-sw/internal/telemetry"
)

// SafetyEventTableName holds the table name for safety events, overridable
// via SAFETY_EVENT_TABLE.
var SafetyEventTableName = func() string {
	if env := os.Getenv("SAFETY_EVENT_TABLE"); env != "" {
		return env
	}
	return "safety_events"
}()

// GreptimeDBWriter persists samples and safety events to GreptimeDB via the
// ingester client.
type GreptimeDBWriter struct {
	client    greptime.Client
	db        string
	sampleTbl string
	eventTbl  string
}

// NewGreptimeDBWriter creates a writer and auto-creates both tables.
func NewGreptimeDBWriter(endpoint, database string) (*GreptimeDBWriter, error) {
	ctx := ingesterContext.NewContext(context.Background())
	client, err := greptime.NewClient(ctx, &greptime.Config{
		Endpoint: endpoint,
	})
	if err != nil {
		return nil, err
	}

	sampleDDL := `
CREATE TABLE IF NOT EXISTS ` + telemetry.SampleTableName + ` (
  experiment_id STRING TAG,
  sensor_id STRING TAG,
  value DOUBLE,
  unit STRING,
  seq BIGINT,
  captured_at TIMESTAMP TIME INDEX
) WITH (ttl='90d')
`
	if _, err := client.SQL(ctx, sampleDDL); err != nil {
		return nil, err
	}

	eventDDL := `
CREATE TABLE IF NOT EXISTS ` + SafetyEventTableName + ` (
  experiment_id STRING TAG,
  rule_id BIGINT,
  sensor_id STRING,
  value DOUBLE,
  reason STRING,
  state_before STRING,
  state_after STRING,
  seq BIGINT,
  ts TIMESTAMP TIME INDEX
)
`
	if _, err := client.SQL(ctx, eventDDL); err != nil {
		return nil, err
	}

	return &GreptimeDBWriter{
		client:    client,
		db:        database,
		sampleTbl: telemetry.SampleTableName,
		eventTbl:  SafetyEventTableName,
	}, nil
}

// WriteSample inserts a single sample row.
func (w *GreptimeDBWriter) WriteSample(s telemetry.Sample) error {
	ctx := ingesterContext.NewContext(context.Background())

	tbl := table.New(w.sampleTbl)
	tbl.AddTagColumn("experiment_id", types.StringType, 0)
	tbl.AddTagColumn("sensor_id", types.StringType, 0)
	tbl.AddFieldColumn("value", types.Float64Type)
	tbl.AddFieldColumn("unit", types.StringType)
	tbl.AddFieldColumn("seq", types.Int64Type)
	tbl.SetTimeIndex("captured_at", types.TimestampType)

	tbl.AppendTagValue("experiment_id", s.ExperimentID)
	tbl.AppendTagValue("sensor_id", s.SensorID)
	tbl.AppendFieldValue("value", s.Value)
	tbl.AppendFieldValue("unit", s.Unit)
	tbl.AppendFieldValue("seq", int64(s.Seq))
	tbl.AppendTimeIndex(s.CapturedAt)

	if err := w.client.Write(ctx, w.db, []*table.Table{tbl}); err != nil {
		log.Printf("[GreptimeDBWriter] sample write failed: %v", err)
		return err
	}
	return nil
}

// WriteSafetyEvent inserts a single safety event row.
func (w *GreptimeDBWriter) WriteSafetyEvent(ev interlock.SafetyEvent) error {
	ctx := ingesterContext.NewContext(context.Background())

	tbl := table.New(w.eventTbl)
	tbl.AddTagColumn("experiment_id", types.StringType, 0)
	tbl.AddFieldColumn("rule_id", types.Int64Type)
	tbl.AddFieldColumn("sensor_id", types.StringType)
	tbl.AddFieldColumn("value", types.Float64Type)
	tbl.AddFieldColumn("reason", types.StringType)
	tbl.AddFieldColumn("state_before", types.StringType)
	tbl.AddFieldColumn("state_after", types.StringType)
	tbl.AddFieldColumn("seq", types.Int64Type)
	tbl.SetTimeIndex("ts", types.TimestampType)

	tbl.AppendTagValue("experiment_id", ev.Sample.ExperimentID)
	tbl.AppendFieldValue("rule_id", int64(ev.RuleID))
	tbl.AppendFieldValue("sensor_id", ev.Sample.SensorID)
	tbl.AppendFieldValue("value", ev.Sample.Value)
	tbl.AppendFieldValue("reason", ev.Reason)
	tbl.AppendFieldValue("state_before", ev.StateBefore)
	tbl.AppendFieldValue("state_after", ev.StateAfter)
	tbl.AppendFieldValue("seq", int64(ev.Seq))
	tbl.AppendTimeIndex(ev.Timestamp)

	if err := w.client.Write(ctx, w.db, []*table.Table{tbl}); err != nil {
		log.Printf("[GreptimeDBWriter] safety event write failed: %v", err)
		return err
	}
	return nil
}

var _ Writer = (*GreptimeDBWriter)(nil)
