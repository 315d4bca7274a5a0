package rca

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeQueueClient struct {
	items []string
}

func (f *fakeQueueClient) RPush(ctx context.Context, _ string, values ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	for _, v := range values {
		f.items = append(f.items, string(v.([]byte)))
	}
	cmd.SetVal(int64(len(f.items)))
	return cmd
}

func (f *fakeQueueClient) BLPop(ctx context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	if len(f.items) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	head := f.items[0]
	f.items = f.items[1:]
	cmd.SetVal([]string{keys[0], head})
	return cmd
}

func TestQueueRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := &Queue{rdb: &fakeQueueClient{}}

	in := &Task{
		UserID:         "user-1",
		IncidentID:     "inc-1",
		InitialMessage: "investigate the latency breach",
		Trigger:        map[string]string{"alert": "p99>500ms"},
	}
	if err := q.Enqueue(ctx, in); err != nil {
		t.Fatal(err)
	}

	out, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out == nil || out.IncidentID != "inc-1" || out.Trigger["alert"] != "p99>500ms" {
		t.Errorf("task = %+v", out)
	}

	// An empty queue times out quietly so the worker can loop.
	out, err = q.Dequeue(ctx)
	if err != nil || out != nil {
		t.Errorf("empty dequeue: task = %v err = %v", out, err)
	}
}
