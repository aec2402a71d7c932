package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.CreateTopic(ctx, "search-runs")
	require.NoError(t, err)
	return client, srv
}

func TestPublishUsesDefaultTopic(t *testing.T) {
	t.Parallel()

	client, srv := newFakeClient(t)
	pub, err := New(client, "search-runs")
	require.NoError(t, err)

	id, err := pub.Publish(context.Background(), "", map[string]any{"run_id": "r1", "pages": 2})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, pub.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "r1", got["run_id"])
	require.InDelta(t, 2, got["pages"], 0)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	var nilPub *Publisher
	_, err := nilPub.Publish(context.Background(), "t", "x")
	require.Error(t, err)

	_, err = New(nil, "t")
	require.Error(t, err)

	client, _ := newFakeClient(t)
	pub, err := New(client, "")
	require.NoError(t, err)
	_, err = pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")
	_, err = pub.Publish(context.Background(), "search-runs", func() {})
	require.ErrorContains(t, err, "marshal payload")

	_, err = Open(context.Background(), "", "t")
	require.ErrorContains(t, err, "project_id")
}
