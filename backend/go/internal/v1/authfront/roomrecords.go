// Package authfront implements AuthFront: the single-instance gatekeeper
// that authenticates incoming connect requests, resolves roomID to a
// RoomRecord, records per-connection presence, and forwards accepted
// sockets to the owning RoomCore. It also exposes the admin HTTP surface
// for room lifecycle and invalidation (C12-C14).
package authfront

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/room-sync/fabric/internal/v1/storage"
	"github.com/room-sync/fabric/internal/v1/types"
)

const roomRecordPrefix = "room/"

// ErrRoomExists is returned by Create when roomID already has a
// non-Deleted RoomRecord with a different objectID (createRoom is
// idempotent only for the identical request, §8 round-trip property).
var ErrRoomExists = errors.New("authfront: room already exists with a different objectID")

// RoomRecordStore is AuthFront's durable directory, keyed "room/<roomID>"
// (C14).
type RoomRecordStore struct {
	store storage.Store
}

// NewRoomRecordStore wraps store for RoomRecord persistence.
func NewRoomRecordStore(store storage.Store) *RoomRecordStore {
	return &RoomRecordStore{store: store}
}

func roomRecordKey(id types.RoomIDType) string { return roomRecordPrefix + string(id) }

// Get loads the RoomRecord for roomID, if any.
func (s *RoomRecordStore) Get(ctx context.Context, roomID types.RoomIDType) (*types.RoomRecord, error) {
	raw, ok, err := s.store.Get(ctx, roomRecordKey(roomID))
	if err != nil {
		return nil, fmt.Errorf("authfront: load room record %q: %w", roomID, err)
	}
	if !ok {
		return nil, nil
	}
	var rec types.RoomRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("authfront: decode room record %q: %w", roomID, err)
	}
	return &rec, nil
}

func (s *RoomRecordStore) put(ctx context.Context, rec types.RoomRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, roomRecordKey(rec.RoomID), raw); err != nil {
		return fmt.Errorf("authfront: save room record %q: %w", rec.RoomID, err)
	}
	return nil
}

// Create makes roomID Open with objectID, or returns the existing record
// unchanged if one already exists with the same objectID (idempotent per
// §8: "createRoom then createRoom for the same roomID is idempotent").
func (s *RoomRecordStore) Create(ctx context.Context, roomID types.RoomIDType, objectID string) (*types.RoomRecord, error) {
	existing, err := s.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status != types.RoomStatusDeleted && existing.ObjectID == objectID {
			return existing, nil
		}
		if existing.Status != types.RoomStatusDeleted {
			return nil, ErrRoomExists
		}
	}
	rec := types.RoomRecord{RoomID: roomID, ObjectID: objectID, Status: types.RoomStatusOpen}
	if err := s.put(ctx, rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Close transitions roomID Open->Closed: new connects are rejected, but
// the room's state and record survive.
func (s *RoomRecordStore) Close(ctx context.Context, roomID types.RoomIDType) (*types.RoomRecord, error) {
	rec, err := s.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	rec.Status = types.RoomStatusClosed
	if err := s.put(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete tombstones roomID: Status becomes Deleted. The RoomRecord itself
// is kept (as Deleted) so a later connect attempt gets a clear
// RoomNotFound/410 rather than silently resurrecting an old room under a
// reused roomID. Only the RoomRecord changes: the room's "user/",
// "client/", "connected/" and "version" keys are not deleted.
func (s *RoomRecordStore) Delete(ctx context.Context, roomID types.RoomIDType) (*types.RoomRecord, error) {
	rec, err := s.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	rec.Status = types.RoomStatusDeleted
	if err := s.put(ctx, *rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns every RoomRecord currently on file, for admin/diagnostic use.
func (s *RoomRecordStore) List(ctx context.Context) ([]types.RoomRecord, error) {
	entries, err := s.store.List(ctx, roomRecordPrefix, "", "")
	if err != nil {
		return nil, fmt.Errorf("authfront: list room records: %w", err)
	}
	out := make([]types.RoomRecord, 0, len(entries))
	for _, e := range entries {
		if !strings.HasPrefix(e.Key, roomRecordPrefix) {
			continue
		}
		var rec types.RoomRecord
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
