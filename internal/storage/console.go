package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"multiwatch/internal/model"
)

// Console prints updates as colored lines.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	block *color.Color
	key   *color.Color
	value *color.Color
	args  *color.Color
}

// NewConsole writes to out. Colors follow fatih/color's terminal detection
// unless noColor is set.
func NewConsole(out io.Writer, noColor bool) *Console {
	c := &Console{
		out:   out,
		block: color.New(color.FgYellow),
		key:   color.New(color.FgCyan, color.Bold),
		value: color.New(color.FgGreen),
		args:  color.New(color.Faint),
	}
	if noColor {
		for _, col := range []*color.Color{c.block, c.key, c.value, c.args} {
			col.DisableColor()
		}
	}
	return c
}

// PutUpdates prints one line per record.
func (c *Console) PutUpdates(_ context.Context, records []model.UpdateRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range records {
		line := fmt.Sprintf("%s %s = %s",
			c.block.Sprintf("#%d", r.BlockNumber),
			c.key.Sprint(r.Key),
			c.value.Sprint(r.Value),
		)
		if len(r.Args) > 0 {
			line += " " + c.args.Sprint(r.Args)
		}
		if _, err := fmt.Fprintln(c.out, line); err != nil {
			return fmt.Errorf("write console: %w", err)
		}
	}
	return nil
}

// PrintValue prints a single key/value pair, used for one-shot output.
func (c *Console) PrintValue(block uint64, key string, value interface{}) error {
	return c.PutUpdates(context.Background(), []model.UpdateRecord{{
		BlockNumber: block,
		Key:         key,
		Value:       FormatValue(value),
	}})
}
