package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"multiwatch/internal/model"
)

// Sink receives value changes observed by a watcher.
type Sink interface {
	PutUpdates(ctx context.Context, records []model.UpdateRecord) error
}

// NewRecords converts updates observed at block into persisted records.
func NewRecords(block uint64, updates []model.Update, observedAt time.Time) []model.UpdateRecord {
	ts := observedAt.UTC().Format(time.RFC3339)
	records := make([]model.UpdateRecord, 0, len(updates))
	for _, u := range updates {
		records = append(records, model.UpdateRecord{
			BlockNumber: block,
			Key:         u.Type,
			Value:       FormatValue(u.Value),
			Args:        u.Args,
			ObservedAt:  ts,
		})
	}
	return records
}

// FormatValue renders a decoded value as text.
func FormatValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case *big.Int:
		return v.String()
	case []byte:
		return hexutil.Encode(v)
	case [32]byte:
		return hexutil.Encode(v[:])
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// Multi fans records out to every sink and joins their errors.
type Multi []Sink

// PutUpdates writes records to all sinks.
func (m Multi) PutUpdates(ctx context.Context, records []model.UpdateRecord) error {
	var errs []error
	for _, sink := range m {
		if err := sink.PutUpdates(ctx, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
