package catalog

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"

	domcat "github.com/ZaineBoulbahaim/Streamevents/internal/domain/catalog"
)

// Hash field names.
const (
	fieldTitle              = "title"
	fieldDescription        = "description"
	fieldCategory           = "category"
	fieldTags               = "tags"
	fieldScheduledAt        = "scheduled_at"
	fieldVector             = "__vector"
	fieldEmbeddingModel     = "embedding_model"
	fieldEmbeddingUpdatedAt = "embedding_updated_at"
)

// buildHashFields converts an Item into a flat map for HSET.
// Empty embedding fields are written too, so re-importing an item clears a stale vector.
func buildHashFields(item *domcat.Item) map[string]string {
	return map[string]string{
		fieldTitle:              item.Title(),
		fieldDescription:        item.Description(),
		fieldCategory:           item.Category(),
		fieldTags:               item.Tags(),
		fieldScheduledAt:        formatTime(item.ScheduledAt()),
		fieldVector:             vectorToBytes(item.Embedding()),
		fieldEmbeddingModel:     item.EmbeddingModel(),
		fieldEmbeddingUpdatedAt: formatTime(item.EmbeddingUpdatedAt()),
	}
}

// buildEmbeddingFields holds only the fields the backfill path writes.
func buildEmbeddingFields(vec []float32, model string, at time.Time) map[string]string {
	return map[string]string{
		fieldVector:             vectorToBytes(vec),
		fieldEmbeddingModel:     model,
		fieldEmbeddingUpdatedAt: formatTime(&at),
	}
}

// parseHashFields converts a flat hash map back into an Item.
func parseHashFields(id int64, m map[string]string) domcat.Item {
	return domcat.Reconstruct(
		id,
		m[fieldTitle],
		m[fieldDescription],
		m[fieldCategory],
		m[fieldTags],
		parseTime(m[fieldScheduledAt]),
		bytesToVector(m[fieldVector]),
		m[fieldEmbeddingModel],
		parseTime(m[fieldEmbeddingUpdatedAt]),
	)
}

func itemKey(prefix string, id int64) string {
	return prefix + "event:" + strconv.FormatInt(id, 10)
}

func keyPattern(prefix string) string {
	return prefix + "event:*"
}

// parseItemID extracts the numeric id from a hash key, reporting false for foreign keys.
func parseItemID(prefix, key string) (int64, bool) {
	raw, ok := strings.CutPrefix(key, prefix+"event:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector deserializes a binary string back to []float32. Malformed input yields nil.
func bytesToVector(s string) []float32 {
	b := []byte(s)
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
