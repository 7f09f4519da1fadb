// Package chatroom ends chat rooms: one participant leaving deactivates the
// room, and once every participant has left the room and its messages are
// deleted.
package chatroom

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ehgus2390/chineseapp/internal/application/oplock"
	"github.com/ehgus2390/chineseapp/internal/docstore"
	"github.com/ehgus2390/chineseapp/internal/domain/chat"
	"github.com/ehgus2390/chineseapp/internal/domain/match"
	"github.com/ehgus2390/chineseapp/internal/infra/metrics"
)

const Writer = "onChatRoomEnded"

// DefaultPageSize bounds one message deletion batch.
const DefaultPageSize = 200

type Cascade struct {
	store    docstore.Store
	log      *zap.Logger
	metrics  *metrics.Metrics
	pageSize int
}

func NewCascade(store docstore.Store, log *zap.Logger, m *metrics.Metrics, pageSize int) *Cascade {
	if log == nil {
		log = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Cascade{store: store, log: log.Named("chatroom"), metrics: m, pageSize: pageSize}
}

// HandleRoomWrite reacts to endedBy changes on chat_rooms/{id}.
func (c *Cascade) HandleRoomWrite(ctx context.Context, ch docstore.Change) error {
	coll, id := docstore.SplitPath(ch.Path)
	if coll != chat.RoomsCollection || ch.Deleted() {
		return nil
	}
	var before map[string]any
	if ch.Before != nil {
		before = ch.Before.Data
	}
	if !oplock.Changed(before, ch.After.Data, "endedBy") || match.IsOwnWrite(before, ch.After.Data, Writer) {
		return nil
	}
	room, err := chat.ParseRoom(id, ch.After.Data)
	if err != nil {
		c.log.Warn("malformed room", zap.String("roomId", id), zap.Error(err))
		return nil
	}
	if len(room.Enders()) == 0 {
		return nil
	}
	if room.EndedByAll() {
		return c.purge(ctx, id)
	}
	return c.deactivate(ctx, id)
}

func (c *Cascade) deactivate(ctx context.Context, id string) error {
	var changed bool
	err := c.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		changed = false
		d, err := tx.Get(chat.RoomPath(id))
		if err != nil {
			return err
		}
		if !d.Exists {
			return nil
		}
		room, err := chat.ParseRoom(id, d.Data)
		if err != nil || !room.IsActive {
			return nil
		}
		changed = true
		return tx.Merge(chat.RoomPath(id), match.Stamp(map[string]any{
			"isActive": false,
			"endedAt":  docstore.ServerTimestamp,
		}, Writer, "deactivate"))
	})
	if err != nil {
		c.metrics.Event(Writer, "error")
		return fmt.Errorf("chatroom: deactivate %s: %w", id, err)
	}
	if changed {
		c.log.Info("room deactivated", zap.String("roomId", id))
		c.metrics.Event(Writer, "deactivated")
	}
	return nil
}

// purge deletes messages page by page, each with its lock documents, and
// then the room. The room goes last so a failed run is redone by the next
// delivery or write.
func (c *Cascade) purge(ctx context.Context, id string) error {
	d, err := c.store.Get(ctx, chat.RoomPath(id))
	if err != nil {
		return fmt.Errorf("chatroom: read %s: %w", id, err)
	}
	if !d.Exists {
		return nil
	}
	if room, err := chat.ParseRoom(id, d.Data); err != nil || !room.EndedByAll() {
		return nil
	}

	deleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := c.store.Query(ctx, docstore.Query{
			Collection: chat.MessagesPath(id),
			Limit:      c.pageSize,
		})
		if err != nil {
			return fmt.Errorf("chatroom: list messages %s: %w", id, err)
		}
		if len(msgs) == 0 {
			break
		}
		writes := make([]docstore.Write, 0, len(msgs)*2)
		for _, m := range msgs {
			locks, err := c.store.Query(ctx, docstore.Query{Collection: docstore.Path(m.Path, oplock.Collection)})
			if err != nil {
				return fmt.Errorf("chatroom: list locks %s: %w", m.Path, err)
			}
			for _, l := range locks {
				writes = append(writes, docstore.Write{Kind: docstore.WriteDelete, Path: l.Path})
			}
			writes = append(writes, docstore.Write{Kind: docstore.WriteDelete, Path: m.Path})
		}
		if err := c.store.Batch(ctx, writes); err != nil {
			c.metrics.Event(Writer, "error")
			return fmt.Errorf("chatroom: delete messages %s: %w", id, err)
		}
		deleted += len(msgs)
		if len(msgs) < c.pageSize {
			break
		}
	}

	roomLocks, err := c.store.Query(ctx, docstore.Query{Collection: docstore.Path(chat.RoomPath(id), oplock.Collection)})
	if err != nil {
		return fmt.Errorf("chatroom: list room locks %s: %w", id, err)
	}
	writes := make([]docstore.Write, 0, len(roomLocks)+1)
	for _, l := range roomLocks {
		writes = append(writes, docstore.Write{Kind: docstore.WriteDelete, Path: l.Path})
	}
	writes = append(writes, docstore.Write{Kind: docstore.WriteDelete, Path: chat.RoomPath(id)})
	if err := c.store.Batch(ctx, writes); err != nil {
		c.metrics.Event(Writer, "error")
		return fmt.Errorf("chatroom: delete room %s: %w", id, err)
	}

	c.log.Info("room deleted", zap.String("roomId", id), zap.Int("messages", deleted))
	c.metrics.Event(Writer, "deleted")
	return nil
}
