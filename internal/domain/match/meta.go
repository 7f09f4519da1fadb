package match

import (
	"time"

	"github.com/ehgus2390/chineseapp/internal/docstore"
)

// SourceServer tags writes made by this service.
const SourceServer = "server"

// ServerMeta is stamped on every machine-initiated write.
type ServerMeta struct {
	LastOp     string
	LastWriter string
	Source     string
	UpdatedAt  time.Time
}

func ParseServerMeta(v any) ServerMeta {
	m, ok := docstore.AsMap(v)
	if !ok {
		return ServerMeta{}
	}
	ts, _ := docstore.AsTime(m["updatedAt"])
	return ServerMeta{
		LastOp:     docstore.AsString(m["lastOp"]),
		LastWriter: docstore.AsString(m["lastWriter"]),
		Source:     docstore.AsString(m["source"]),
		UpdatedAt:  ts,
	}
}

func (m ServerMeta) equal(o ServerMeta) bool {
	return m.LastOp == o.LastOp && m.LastWriter == o.LastWriter &&
		m.Source == o.Source && m.UpdatedAt.Equal(o.UpdatedAt)
}

// Stamp adds serverMeta and updatedAt to data and returns it.
func Stamp(data map[string]any, writer, op string) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	data["serverMeta"] = map[string]any{
		"lastOp":     op,
		"lastWriter": writer,
		"source":     SourceServer,
		"updatedAt":  docstore.ServerTimestamp,
	}
	data["updatedAt"] = docstore.ServerTimestamp
	return data
}

// IsOwnWrite reports whether the change between before and after was made
// by writer itself: the serverMeta changed and now names writer.
func IsOwnWrite(before, after map[string]any, writer string) bool {
	am := ParseServerMeta(after["serverMeta"])
	if am.Source != SourceServer || am.LastWriter != writer {
		return false
	}
	bm := ParseServerMeta(before["serverMeta"])
	return !am.equal(bm)
}
