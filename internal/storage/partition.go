// Copyright 2025 James Ross
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/regulens/ingestion-engine/internal/model"
)

// partitionSuffix computes the physical child-table suffix for a record
// under cfg's partition strategy. colValue is the record's value for
// cfg.PartitionColumn (nil if the strategy doesn't need one); time
// partitioning ignores it and buckets by PartitionInterval relative to ts.
func partitionSuffix(cfg model.StorageTableConfig, colValue interface{}, ts time.Time) string {
	switch cfg.PartitionStrategy {
	case model.PartitionTime:
		switch cfg.PartitionInterval {
		case "hour":
			return ts.UTC().Format("2006010215")
		case "week":
			y, w := ts.UTC().ISOWeek()
			return fmt.Sprintf("%04dw%02d", y, w)
		case "month":
			return ts.UTC().Format("200601")
		default: // "day"
			return ts.UTC().Format("20060102")
		}
	case model.PartitionHash:
		h := fnv.New32a()
		_, _ = h.Write([]byte(fmt.Sprintf("%v", colValue)))
		return fmt.Sprintf("h%02d", h.Sum32()%16)
	case model.PartitionList:
		return listBucket(cfg, colValue)
	case model.PartitionRange:
		return rangeBucket(cfg, colValue)
	default:
		return ""
	}
}

// listBucket matches colValue against cfg's declared discrete values,
// falling back to a shared "other" bucket for anything not enumerated.
func listBucket(cfg model.StorageTableConfig, colValue interface{}) string {
	s := fmt.Sprintf("%v", colValue)
	for _, v := range cfg.PartitionValues {
		if v == s {
			return sanitizePartitionKey(v)
		}
	}
	return "other"
}

// rangeBucket matches colValue's numeric value against cfg's declared
// [Min, Max) ranges, falling back to a shared "other" bucket when colValue
// isn't numeric or falls outside every declared range.
func rangeBucket(cfg model.StorageTableConfig, colValue interface{}) string {
	n, ok := toFloat(colValue)
	if !ok {
		return "other"
	}
	for _, rg := range cfg.PartitionRanges {
		if n >= rg.Min && n < rg.Max {
			return sanitizePartitionKey(rg.Label)
		}
	}
	return "other"
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func sanitizePartitionKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return strings.ToLower(b.String())
}

// partitionTableName returns the physical table a record belonging to
// (cfg, colValue, ts) should be written to, falling back to cfg.TableName
// itself when the source isn't partitioned. colValue is the record's value
// for cfg.PartitionColumn.
func partitionTableName(cfg model.StorageTableConfig, colValue interface{}, ts time.Time) string {
	if cfg.PartitionStrategy == model.PartitionNone {
		return cfg.TableName
	}
	return cfg.TableName + "_" + partitionSuffix(cfg, colValue, ts)
}

// ensurePartition creates the physical partition table (as a freestanding
// table with the same columns as the parent, since SQLite and ClickHouse
// lack native declarative partitioning) if it doesn't already exist.
func ensurePartition(ctx context.Context, tx *sql.Tx, b Backend, cfg model.StorageTableConfig, partTable string) error {
	child := cfg
	child.TableName = partTable
	child.PartitionStrategy = model.PartitionNone
	return createTableIfAbsent(ctx, tx, b, child)
}
