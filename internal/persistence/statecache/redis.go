// Package statecache mirrors the latest floor frame into Redis so dashboards
// can read robot and station state without talking to the server.
package statecache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"swarmsim/internal/observerproto"
)

type RedisStore struct {
	client  *redis.Client
	floorID string
}

func NewRedisStore(client *redis.Client, floorID string) *RedisStore {
	return &RedisStore{client: client, floorID: floorID}
}

func frameKey(floorID string) string { return fmt.Sprintf("swarmsim:floor:%s:frame", floorID) }
func tickKey(floorID string) string  { return fmt.Sprintf("swarmsim:floor:%s:tick", floorID) }
func robotsKey(floorID string) string {
	return fmt.Sprintf("swarmsim:floor:%s:robots", floorID)
}
func robotKey(floorID string, id uint32) string {
	return fmt.Sprintf("swarmsim:floor:%s:robot:%d", floorID, id)
}
func stationKey(floorID string, id uint32) string {
	return fmt.Sprintf("swarmsim:floor:%s:station:%d", floorID, id)
}

// WriteFrame stores the whole frame plus one key per robot and station in a
// single pipeline.
func (r *RedisStore) WriteFrame(ctx context.Context, f observerproto.FrameMsg) error {
	whole, err := json.Marshal(f)
	if err != nil {
		return err
	}
	pipe := r.client.Pipeline()
	pipe.Set(ctx, frameKey(r.floorID), whole, 0)
	pipe.Set(ctx, tickKey(r.floorID), f.Tick, 0)
	for _, rb := range f.Robots {
		b, err := json.Marshal(rb)
		if err != nil {
			return err
		}
		pipe.Set(ctx, robotKey(r.floorID, rb.ID), b, 0)
		pipe.SAdd(ctx, robotsKey(r.floorID), rb.ID)
	}
	for _, st := range f.Stations {
		b, err := json.Marshal(st)
		if err != nil {
			return err
		}
		pipe.Set(ctx, stationKey(r.floorID, st.ID), b, 0)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetRobot(ctx context.Context, id uint32) (*observerproto.RobotState, error) {
	data, err := r.client.Get(ctx, robotKey(r.floorID, id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rb observerproto.RobotState
	return &rb, json.Unmarshal(data, &rb)
}

func (r *RedisStore) GetTick(ctx context.Context) (uint64, error) {
	v, err := r.client.Get(ctx, tickKey(r.floorID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

func (r *RedisStore) GetRobotIDs(ctx context.Context) ([]uint32, error) {
	members, err := r.client.SMembers(ctx, robotsKey(r.floorID)).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uint32, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 32)
		if err != nil {
			continue
		}
		ids = append(ids, uint32(id))
	}
	return ids, nil
}
