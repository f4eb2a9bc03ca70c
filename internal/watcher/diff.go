package watcher

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"multiwatch/internal/model"
)

// isNewState reports whether value differs from the stored value for key.
// Values are compared by canonical string form so that *big.Int and other
// boxed results compare by value.
func isNewState(key string, value interface{}, store map[string]interface{}) bool {
	prev, ok := store[key]
	if !ok {
		return true
	}
	return canonical(value) != canonical(prev)
}

func canonical(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return "<nil>"
	case []byte:
		return hexutil.Encode(v)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// orderedKeys lists result keys in call-declaration order, keeping the first
// position of a repeated key.
func orderedKeys(calls []model.Call) []string {
	seen := make(map[string]struct{})
	keys := make([]string, 0, len(calls))
	for _, call := range calls {
		for _, ret := range call.Returns {
			if _, ok := seen[ret.Key]; ok {
				continue
			}
			seen[ret.Key] = struct{}{}
			keys = append(keys, ret.Key)
		}
	}
	return keys
}

func argsFor(key string, keyToArgs map[string][]interface{}) []interface{} {
	if args, ok := keyToArgs[key]; ok {
		return args
	}
	return []interface{}{}
}

// diffResults returns an update for every key whose original value changed.
// Updates carry the transformed value.
func diffResults(keys []string, results model.Results, keyToArgs map[string][]interface{}, store map[string]interface{}) []model.Update {
	var updates []model.Update
	for _, key := range keys {
		value, ok := results.Original[key]
		if !ok {
			continue
		}
		if !isNewState(key, value, store) {
			continue
		}
		updates = append(updates, model.Update{
			Type:  key,
			Value: results.Transformed[key],
			Args:  argsFor(key, keyToArgs),
		})
	}
	return updates
}

// replayUpdates renders a full snapshot as updates, in key order.
func replayUpdates(keys []string, values map[string]interface{}, keyToArgs map[string][]interface{}) []model.Update {
	updates := make([]model.Update, 0, len(keys))
	for _, key := range keys {
		value, ok := values[key]
		if !ok {
			continue
		}
		updates = append(updates, model.Update{Type: key, Value: value, Args: argsFor(key, keyToArgs)})
	}
	return updates
}
