package main

import (
	"bytes"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/posemat/internal/monitoring"
	"github.com/banshee-data/posemat/internal/posemat/l3classify"
	"github.com/banshee-data/posemat/internal/posemat/session"
	"github.com/banshee-data/posemat/internal/testutil"
	"github.com/banshee-data/posemat/internal/visualiser"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFormatFrame(t *testing.T) {
	f := visualiser.Frame{
		Seq:        7,
		Time:       time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC),
		Label:      "hand_pressed",
		Confidence: 0.875,
		Reading:    testutil.Ramp(0),
	}
	assert.Equal(t, "03:04:05.006 #7 Pose: hand_pressed | Confidence: 87.50%\n", formatFrame(f, false))

	f.Rejected = true
	f.Label = "unknown"
	out := formatFrame(f, true)
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 9)
	assert.True(t, strings.HasSuffix(lines[0], "(rejected)"))
	assert.Equal(t, "    0    1    2    3    4    5", lines[1])
	assert.Equal(t, "   42   43   44   45   46   47", lines[8])
}

func TestSplitLabels(t *testing.T) {
	assert.Nil(t, splitLabels(""))
	assert.Equal(t, []string{"empty", "hand_pressed"}, splitLabels(" empty, ,hand_pressed "))
}

func TestWatch(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	pub := visualiser.NewPublisher(visualiser.Config{})
	require.NoError(t, pub.Serve(lis))
	defer pub.Stop()

	c, err := visualiser.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer c.Close()

	var out syncBuffer
	done := make(chan struct{})
	var n int
	var watchErr error
	go func() {
		defer close(done)
		n, watchErr = watch(context.Background(), c, visualiser.WatchRequest{Labels: []string{"empty"}}, false, &out)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for pub.Stats().ClientCount != 1 {
		require.False(t, time.Now().After(deadline), "client never subscribed")
		time.Sleep(5 * time.Millisecond)
	}

	for i, label := range []string{"empty", "hand_pressed", "empty"} {
		require.NoError(t, pub.Consume(session.Event{
			Seq:     uint64(i + 1),
			Time:    time.Unix(0, 0),
			Reading: testutil.Constant(i),
			Result:  l3classify.Result{Label: label, Confidence: 1},
		}))
	}
	// Two frames pass the filter; wait for both before stopping.
	for strings.Count(out.String(), "\n") < 2 {
		require.False(t, time.Now().After(deadline), "frames never arrived")
		time.Sleep(5 * time.Millisecond)
	}
	pub.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after publisher stopped")
	}
	require.NoError(t, watchErr)
	assert.Equal(t, 2, n)
	assert.Contains(t, out.String(), "#1 Pose: empty")
	assert.Contains(t, out.String(), "#3 Pose: empty")
}
