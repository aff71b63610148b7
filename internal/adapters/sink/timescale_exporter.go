package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/oxyum/sigrok/internal/domain"
	"github.com/oxyum/sigrok/internal/ports"
)

const (
	rowArgs          = 6
	defaultBatchSize = 1000
	// postgres accepts at most 65535 bind parameters per statement
	maxBatchSize = 65535 / rowArgs
)

// TimescaleExporter writes the value changes of a capture into a hypertable,
// one row per edge plus the initial level of every enabled channel.
type TimescaleExporter struct {
	db        *sql.DB
	tableName string
	batchSize int
}

func NewTimescaleExporter(db *sql.DB, table string, batchSize int) *TimescaleExporter {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &TimescaleExporter{db: db, tableName: table, batchSize: min(batchSize, maxBatchSize)}
}

func (t *TimescaleExporter) Name() string { return "timescaledb" }

// EnsureTable creates the target table when it does not exist yet.
func (t *TimescaleExporter) EnsureTable(ctx context.Context) error {
	_, err := t.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS "+t.tableName+
		" (capture_id TEXT NOT NULL, channel INTEGER NOT NULL, name TEXT NOT NULL,"+
		" sample_index BIGINT NOT NULL, offset_ns BIGINT NOT NULL, value BOOLEAN NOT NULL,"+
		" PRIMARY KEY (capture_id, channel, sample_index))")
	return err
}

type edge struct {
	channel domain.Channel
	index   int
	value   bool
}

// Export runs in one transaction, so a capture is either fully exported or
// not at all. Re-exporting the same capture inserts nothing new.
func (t *TimescaleExporter) Export(ctx context.Context, info ports.CaptureInfo, buf *domain.SampleBuffer) error {
	if buf.Len() == 0 {
		return nil
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin export: %w", err)
	}
	defer tx.Rollback()

	batch := make([]edge, 0, t.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := t.writeBatch(ctx, tx, info.ID, buf, batch)
		batch = batch[:0]
		return err
	}

	for _, ch := range info.Channels {
		if !ch.Enabled || ch.Index >= buf.ChannelCount() {
			continue
		}
		for i, v := range buf.Edges(ch.Index) {
			batch = append(batch, edge{channel: ch, index: i, value: v})
			if len(batch) == t.batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *TimescaleExporter) writeBatch(ctx context.Context, tx *sql.Tx, captureID string, buf *domain.SampleBuffer, rows []edge) error {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName)
	b.WriteString(" (capture_id, channel, name, sample_index, offset_ns, value) VALUES ")

	args := make([]any, 0, len(rows)*rowArgs)
	for i, r := range rows {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6))
		args = append(args,
			captureID,
			r.channel.Index,
			r.channel.Name,
			int64(r.index),
			buf.TimeAt(r.index).Nanoseconds(),
			r.value,
		)
	}
	b.WriteString(" ON CONFLICT (capture_id, channel, sample_index) DO NOTHING")

	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("insert value changes: %w", err)
	}
	return nil
}

var _ ports.Exporter = (*TimescaleExporter)(nil)
