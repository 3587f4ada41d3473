// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/livekit/srt-abr/pkg/service"
)

func testStreamState(id string) *service.StreamState {
	return &service.StreamState{
		ID:               id,
		NodeID:           "node1",
		URL:              "srt://127.0.0.1:6000?streamid=" + id,
		Input:            "-",
		Status:           service.StreamStatusPublishing,
		Verdict:          "KEEP",
		CurrentBitrate:   1_000_000,
		ReferenceBitrate: 1_000_000,
		UpdatedAt:        time.Unix(1700000000, 0).UTC(),
	}
}

func testStore(t *testing.T, store service.StreamStore) {
	ctx := context.Background()

	_, err := store.LoadStream(ctx, "missing")
	require.ErrorIs(t, err, service.ErrStreamNotFound)

	require.NoError(t, store.StoreStream(ctx, testStreamState("b")))
	require.NoError(t, store.StoreStream(ctx, testStreamState("a")))

	st := testStreamState("a")
	st.CurrentBitrate = 1_080_000
	st.Verdict = "INCREASE"
	require.NoError(t, store.StoreStream(ctx, st))

	loaded, err := store.LoadStream(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int64(1_080_000), loaded.CurrentBitrate)
	require.Equal(t, "INCREASE", loaded.Verdict)
	require.True(t, st.UpdatedAt.Equal(loaded.UpdatedAt))

	list, err := store.ListStreams(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "a", list[0].ID)
	require.Equal(t, "b", list[1].ID)

	require.NoError(t, store.DeleteStream(ctx, "a"))
	_, err = store.LoadStream(ctx, "a")
	require.ErrorIs(t, err, service.ErrStreamNotFound)

	list, err = store.ListStreams(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestLocalStreamStore(t *testing.T) {
	testStore(t, service.NewLocalStreamStore())
}

func TestLocalStreamStoreCopies(t *testing.T) {
	ctx := context.Background()
	store := service.NewLocalStreamStore()

	st := testStreamState("a")
	require.NoError(t, store.StoreStream(ctx, st))
	st.CurrentBitrate = 1

	loaded, err := store.LoadStream(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), loaded.CurrentBitrate)
}
