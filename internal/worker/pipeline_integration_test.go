package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finsight/features/job"
	"finsight/features/snapshot"
	"finsight/internal/chunk"
	"finsight/internal/config"
	"finsight/internal/format"
	"finsight/internal/testutils"
	"finsight/internal/text"
	"finsight/internal/worker"
)

type constEmbedder struct{}

func (constEmbedder) Embed(ctx context.Context, s string) ([]float32, error) {
	return []float32{float32(len(s)%7) + 1, 1, 0.5}, nil
}

func TestSnapshotPipeline_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	snapRepo := snapshot.NewPostgresRepo(s.DB)
	chunks := chunk.NewPostgresRepo(s.DB)
	jobs := job.NewService(job.NewPostgresRepo(s.DB), s.NSQ, nil)
	svc := snapshot.NewService(snapRepo, chunks, constEmbedder{}, s.NSQ, jobs, format.New("₹", "en-IN"), snapshot.Options{
		Chunking: text.DefaultOptions(),
	})

	consumer, err := nsq.NewConsumer(config.TopicSnapshotProcess, config.ChannelSnapshotWorker, nsq.NewConfig())
	require.NoError(t, err)
	done := make(chan struct{}, 1)
	process := worker.NewProcessConsumer(svc, time.Minute, time.Second)
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		err := process.HandleMessage(m)
		done <- struct{}{}
		return err
	}))
	require.NoError(t, consumer.ConnectToNSQD(s.NSQDAddr))
	defer consumer.Stop()

	snap := &snapshot.Snapshot{
		EventName: "Durga Puja",
		Year:      2023,
		Entries: []snapshot.Entry{
			{Category: "income", ID: "INC-1", Name: "Ravi", Amount: 1000, Status: "paid"},
			{Category: "expense", ID: "EXP-1", Name: "Tent", Amount: 400, Status: "paid"},
		},
	}
	require.NoError(t, svc.Create(ctx, snap))

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("timeout waiting for process task")
	}

	stored, err := snapRepo.Get(ctx, "durga-puja-2023")
	require.NoError(t, err)
	assert.Equal(t, snapshot.StatusReady, stored.Status)
	assert.Equal(t, 1, stored.ChunkCount)

	ready, err := chunks.FindByStatus(ctx, chunk.StatusReady, chunk.Filter{Year: 2023})
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Len(t, ready[0].Metadata.Entries, 2)
}
