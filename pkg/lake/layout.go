package lake

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// Layer names the storage tier an object belongs to.
type Layer string

const (
	Raw        Layer = "raw"
	Bronze     Layer = "bronze"
	Silver     Layer = "silver"
	Gold       Layer = "gold"
	Meta       Layer = "meta"
	DeadLetter Layer = "deadletter"
)

// Prefixes maps every layer to the key prefix it is stored under.
type Prefixes map[Layer]string

// DefaultPrefixes stores each layer under its own name.
func DefaultPrefixes() Prefixes {
	return Prefixes{
		Raw: "raw", Bronze: "bronze", Silver: "silver", Gold: "gold",
		Meta: "meta", DeadLetter: "deadletter",
	}
}

func (p Prefixes) of(l Layer) string {
	if v, ok := p[l]; ok && v != "" {
		return strings.Trim(v, "/")
	}
	return string(l)
}

const dateLayout = "2006-01-02"

// Partition is an ordered set of Hive-style key=value directory segments.
type Partition []KV

// KV is one partition segment.
type KV struct {
	Key   string
	Value string
}

// AsOf partitions by ingestion date only.
func AsOf(d time.Time) Partition {
	return Partition{{"asof", d.UTC().Format(dateLayout)}}
}

// SeasonAsOf partitions by season and ingestion date.
func SeasonAsOf(season int, d time.Time) Partition {
	return Partition{{"season", strconv.Itoa(season)}, {"asof", d.UTC().Format(dateLayout)}}
}

// SeasonDate partitions by season and the natural date of the data.
func SeasonDate(season int, date string) Partition {
	return Partition{{"season", strconv.Itoa(season)}, {"date", date}}
}

// Path renders the partition as key=value/key=value.
func (p Partition) Path() string {
	parts := make([]string, len(p))
	for i, kv := range p {
		parts[i] = kv.Key + "=" + kv.Value
	}
	return strings.Join(parts, "/")
}

// Get returns the value of key.
func (p Partition) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// Keys returns the segment names in order.
func (p Partition) Keys() []string {
	out := make([]string, len(p))
	for i, kv := range p {
		out[i] = kv.Key
	}
	return out
}

// Season returns the season segment as an int.
func (p Partition) Season() (int, bool) {
	v, ok := p.Get("season")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

// ParsePartition extracts the key=value segments of an object key, skipping other segments.
func ParsePartition(key string) Partition {
	var out Partition
	for _, seg := range strings.Split(path.Dir(key), "/") {
		if k, v, ok := strings.Cut(seg, "="); ok && k != "" {
			out = append(out, KV{k, v})
		}
	}
	return out
}

// PartFile is the file name for one write unit. hash is truncated to eight characters.
func PartFile(hash, ext string) string {
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return fmt.Sprintf("part-%s.%s", hash, ext)
}
