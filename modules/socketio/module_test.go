package socketio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vk/migwave/internal/progress"
)

func TestNewForwarder_BadURL(t *testing.T) {
	_, err := NewForwarder(context.Background(), Options{URL: "://not-a-url"})
	assert.ErrorContains(t, err, "failed to parse URL")
}

func TestPublish_DropsWhileDisconnected(t *testing.T) {
	// A zero-value forwarder is never connected; Publish must be a no-op
	// rather than blocking or panicking.
	f := &Forwarder{event: "migration_progress"}
	f.Publish(context.Background(), progress.Event{Kind: progress.KindStageStarted})
}
