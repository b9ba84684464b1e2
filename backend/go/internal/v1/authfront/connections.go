package authfront

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/room-sync/fabric/internal/v1/storage"
	"github.com/room-sync/fabric/internal/v1/types"
)

const connectionPrefix = "connection/"

// ConnectionRecordStore is AuthFront's durable presence directory, keyed
// "connection/<enc(userID)>/<enc(roomID)>/<enc(clientID)>/" (§6).
type ConnectionRecordStore struct {
	store storage.Store
}

// NewConnectionRecordStore wraps store for ConnectionRecord persistence.
func NewConnectionRecordStore(store storage.Store) *ConnectionRecordStore {
	return &ConnectionRecordStore{store: store}
}

func connectionKey(userID types.UserIDType, roomID types.RoomIDType, clientID types.ClientIDType) string {
	return fmt.Sprintf("%s%s/%s/%s/", connectionPrefix, url.PathEscape(string(userID)), url.PathEscape(string(roomID)), url.PathEscape(string(clientID)))
}

func userPrefix(userID types.UserIDType) string {
	return connectionPrefix + url.PathEscape(string(userID)) + "/"
}

// ConnectionKey identifies one live (user, room, client) presence record.
type ConnectionKey struct {
	UserID   types.UserIDType
	RoomID   types.RoomIDType
	ClientID types.ClientIDType
}

// Put records that clientID connected as userID to roomID at nowMs. Per
// open question (a), this is written before the upgrade is forwarded to
// RoomCore, matching the source's behavior: a failed upgrade leaves a
// stale record that revalidation cleans up.
func (s *ConnectionRecordStore) Put(ctx context.Context, userID types.UserIDType, roomID types.RoomIDType, clientID types.ClientIDType, nowMs int64) error {
	raw, err := json.Marshal(types.ConnectionRecord{ConnectTimestamp: nowMs})
	if err != nil {
		return err
	}
	if err := s.store.Put(ctx, connectionKey(userID, roomID, clientID), raw); err != nil {
		return fmt.Errorf("authfront: save connection record: %w", err)
	}
	return nil
}

// Delete removes one connection record.
func (s *ConnectionRecordStore) Delete(ctx context.Context, userID types.UserIDType, roomID types.RoomIDType, clientID types.ClientIDType) error {
	if err := s.store.Delete(ctx, connectionKey(userID, roomID, clientID)); err != nil {
		return fmt.Errorf("authfront: delete connection record: %w", err)
	}
	return nil
}

// ListByUser returns every live connection for userID, used by
// invalidateForUser to derive the affected room set.
func (s *ConnectionRecordStore) ListByUser(ctx context.Context, userID types.UserIDType) ([]ConnectionKey, error) {
	entries, err := s.store.List(ctx, userPrefix(userID), "", "")
	if err != nil {
		return nil, fmt.Errorf("authfront: list connections for user: %w", err)
	}
	return parseConnectionKeys(entries, userPrefix(userID), userID)
}

// ListAll returns every live connection record, used by invalidateAll and
// revalidateConnections to enumerate rooms with live presence.
func (s *ConnectionRecordStore) ListAll(ctx context.Context) ([]ConnectionKey, error) {
	entries, err := s.store.List(ctx, connectionPrefix, "", "")
	if err != nil {
		return nil, fmt.Errorf("authfront: list all connections: %w", err)
	}
	return parseConnectionKeys(entries, "", "")
}

// parseConnectionKeys decodes "connection/<user>/<room>/<client>/" keys. If
// fixedUserID is non-empty, entries were already scoped to that user's
// prefix and it is used directly rather than re-decoded.
func parseConnectionKeys(entries []storage.Entry, scopedPrefix string, fixedUserID types.UserIDType) ([]ConnectionKey, error) {
	out := make([]ConnectionKey, 0, len(entries))
	for _, e := range entries {
		rest := strings.TrimPrefix(e.Key, connectionPrefix)
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		if len(parts) != 3 {
			continue
		}
		userID := fixedUserID
		if scopedPrefix == "" {
			decoded, err := url.PathUnescape(parts[0])
			if err != nil {
				continue
			}
			userID = types.UserIDType(decoded)
		}
		roomID, err := url.PathUnescape(parts[1])
		if err != nil {
			continue
		}
		clientID, err := url.PathUnescape(parts[2])
		if err != nil {
			continue
		}
		out = append(out, ConnectionKey{UserID: userID, RoomID: types.RoomIDType(roomID), ClientID: types.ClientIDType(clientID)})
	}
	return out, nil
}

// roomsOf dedups the roomIDs present in keys, preserving first-seen order.
func roomsOf(keys []ConnectionKey) []types.RoomIDType {
	seen := make(map[types.RoomIDType]struct{}, len(keys))
	var rooms []types.RoomIDType
	for _, k := range keys {
		if _, ok := seen[k.RoomID]; ok {
			continue
		}
		seen[k.RoomID] = struct{}{}
		rooms = append(rooms, k.RoomID)
	}
	return rooms
}

// byRoom groups keys by roomID, keeping their input order within each room.
func byRoom(keys []ConnectionKey) map[types.RoomIDType][]ConnectionKey {
	out := make(map[types.RoomIDType][]ConnectionKey)
	for _, k := range keys {
		out[k.RoomID] = append(out[k.RoomID], k)
	}
	return out
}
