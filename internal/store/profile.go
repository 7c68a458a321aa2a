package store

import (
	"context"
	"database/sql/driver"
	"fmt"

	goduckdb "github.com/marcboeker/go-duckdb"
	"go.uber.org/zap"

	"github.com/inodb/isodecon/internal/bias"
	"github.com/inodb/isodecon/internal/splicegraph"
)

// SaveProfile stores p under name, replacing any profile of that name.
func (s *Store) SaveProfile(name string, p *bias.Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM bias_profiles WHERE name = ?`, name); err != nil {
		return fmt.Errorf("clear profile %s: %w", name, err)
	}

	conn, err := s.db.Conn(context.Background())
	if err != nil {
		return fmt.Errorf("get connection: %w", err)
	}
	defer conn.Close()

	var appender *goduckdb.Appender
	if err := conn.Raw(func(driverConn any) error {
		var err error
		appender, err = goduckdb.NewAppenderFromConn(driverConn.(driver.Conn), "", "bias_profiles")
		return err
	}); err != nil {
		return fmt.Errorf("create appender: %w", err)
	}
	defer appender.Close()

	for i := range p.Bins {
		b := &p.Bins[i]
		for _, d := range splicegraph.Directions {
			for c, v := range b.Track(d) {
				if err := appender.AppendRow(
					name, int32(p.Resolution), p.Cutoff, int32(i), b.Upper, int32(b.Reads),
					d.String(), int32(c), v,
				); err != nil {
					return fmt.Errorf("append profile cell: %w", err)
				}
			}
		}
	}
	return appender.Flush()
}

// LoadProfile reads the profile stored under name.
func (s *Store) LoadProfile(name string, logger *zap.Logger) (*bias.Profile, error) {
	rows, err := s.db.Query(`SELECT resolution, cutoff, bin, upper, reads, direction, cell, weight
		FROM bias_profiles WHERE name = ? ORDER BY bin, direction, cell`, name)
	if err != nil {
		return nil, fmt.Errorf("query profile %s: %w", name, err)
	}
	defer rows.Close()

	type cell struct {
		bin, cell, reads int
		upper, weight   float64
		dir             string
	}
	var (
		cells      []cell
		resolution int
		cutoff     float64
		bounds     []float64
	)
	for rows.Next() {
		var c cell
		if err := rows.Scan(&resolution, &cutoff, &c.bin, &c.upper, &c.reads, &c.dir, &c.cell, &c.weight); err != nil {
			return nil, fmt.Errorf("scan profile %s: %w", name, err)
		}
		if c.bin == len(bounds) {
			bounds = append(bounds, c.upper)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read profile %s: %w", name, err)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("profile %q not found", name)
	}

	p := bias.Uniform(bounds, resolution)
	p.Cutoff = cutoff
	if logger != nil {
		p.SetLogger(logger)
	}
	for _, c := range cells {
		if c.bin >= len(p.Bins) || c.cell >= resolution {
			return nil, fmt.Errorf("profile %q: cell %d/%d out of range", name, c.bin, c.cell)
		}
		b := &p.Bins[c.bin]
		b.Reads = c.reads
		track := b.Sense
		if c.dir == splicegraph.Antisense.String() {
			track = b.Antisense
		}
		track[c.cell] = c.weight
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
