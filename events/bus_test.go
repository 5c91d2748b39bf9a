// Copyright (C) 2025 Nirman AI (deveshjha247@gmail.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deveshjha247/Nirman/datatypes"
	"github.com/deveshjha247/Nirman/storage/badgerstore"
)

func TestBus_PublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	s1 := bus.Subscribe("job-1")
	s2 := bus.Subscribe("job-1")
	other := bus.Subscribe("job-2")
	defer bus.Unsubscribe(other)

	bus.Publish(datatypes.BuildEvent{JobID: "job-1", Seq: 1, Type: datatypes.EventInfo})

	for _, sub := range []*Subscription{s1, s2} {
		select {
		case ev := <-sub.Ch:
			assert.Equal(t, int64(1), ev.Seq)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case <-other.Ch:
		t.Fatal("subscriber of another job received event")
	default:
	}
}

func TestBus_SubscriberOnlySeesEventsAfterAttach(t *testing.T) {
	bus := NewBus()
	bus.Publish(datatypes.BuildEvent{JobID: "job-1", Seq: 1, Type: datatypes.EventInfo})

	sub := bus.Subscribe("job-1")
	defer bus.Unsubscribe(sub)

	bus.Publish(datatypes.BuildEvent{JobID: "job-1", Seq: 2, Type: datatypes.EventInfo})

	ev := <-sub.Ch
	assert.Equal(t, int64(2), ev.Seq, "pre-attach events are history, not live")
}

func TestBus_CloseJobClosesChannels(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe("job-1")

	bus.CloseJob("job-1")

	_, open := <-sub.Ch
	assert.False(t, open)
	assert.False(t, sub.Lagged())
	assert.Zero(t, bus.SubscriberCount("job-1"))

	// Idempotent.
	bus.CloseJob("job-1")
	bus.Unsubscribe(sub)
}

func TestBus_SlowSubscriberIsDropped(t *testing.T) {
	bus := NewBus(WithBufferSize(1))
	sub := bus.Subscribe("job-1")

	bus.Publish(datatypes.BuildEvent{JobID: "job-1", Seq: 1, Type: datatypes.EventInfo})
	bus.Publish(datatypes.BuildEvent{JobID: "job-1", Seq: 2, Type: datatypes.EventInfo})

	ev, open := <-sub.Ch
	require.True(t, open)
	assert.Equal(t, int64(1), ev.Seq)

	_, open = <-sub.Ch
	assert.False(t, open, "overflowing subscriber must be closed")
	assert.True(t, sub.Lagged())
}

func TestEmitter_AppendsThenPublishes(t *testing.T) {
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()
	store := badgerstore.NewStore(db)

	bus := NewBus()
	emitter := NewEmitter(store, bus)
	ctx := context.Background()

	sub := bus.Subscribe("job-1")
	defer bus.Unsubscribe(sub)

	stored, err := emitter.Emit(ctx, datatypes.BuildEvent{
		JobID: "job-1", Type: datatypes.EventJobStarted, Message: "build started",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Seq)

	live := <-sub.Ch
	assert.Equal(t, stored.Seq, live.Seq)
	assert.Equal(t, datatypes.EventJobStarted, live.Type)

	history, err := emitter.History(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(1), history[0].Seq)
}

func TestEmitter_InvalidTypeNotPublished(t *testing.T) {
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	bus := NewBus()
	emitter := NewEmitter(badgerstore.NewStore(db), bus)

	sub := bus.Subscribe("job-1")
	defer bus.Unsubscribe(sub)

	_, err = emitter.Emit(context.Background(), datatypes.BuildEvent{
		JobID: "job-1", Type: datatypes.EventType("NOPE"),
	})
	assert.Error(t, err)

	select {
	case <-sub.Ch:
		t.Fatal("rejected event must not reach subscribers")
	default:
	}
}

func TestEmitter_ConcurrentEmitsPublishInSequenceOrder(t *testing.T) {
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	bus := NewBus(WithBufferSize(256))
	emitter := NewEmitter(badgerstore.NewStore(db), bus)
	ctx := context.Background()

	sub := bus.Subscribe("job-1")
	defer bus.Unsubscribe(sub)

	const writers = 4
	const perWriter = 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := emitter.Emit(ctx, datatypes.BuildEvent{
					JobID: "job-1", Type: datatypes.EventCodegenProgress,
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for want := int64(1); want <= int64(writers*perWriter); want++ {
		select {
		case ev := <-sub.Ch:
			require.Equal(t, want, ev.Seq, "lower sequences must be delivered first")
		case <-time.After(time.Second):
			t.Fatalf("missing event seq %d", want)
		}
	}
	assert.False(t, sub.Lagged())
}
