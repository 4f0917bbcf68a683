package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAccessors(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, CallerID(ctx))
	assert.Empty(t, RequestID(ctx))
	assert.WithinDuration(t, time.Now(), Now(ctx), time.Second)

	pinned := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx = WithCaller(ctx, "pat-1", "hosp-a", "patient")
	ctx = WithClientMetadata(ctx, "10.0.0.7", "ward-tablet/2.1")
	ctx = WithRequestID(ctx, "req-42")
	ctx = WithTime(ctx, pinned)

	assert.Equal(t, "pat-1", CallerID(ctx))
	assert.Equal(t, "hosp-a", HospitalID(ctx))
	assert.Equal(t, "patient", Role(ctx))
	assert.Equal(t, "10.0.0.7", ClientIP(ctx))
	assert.Equal(t, "ward-tablet/2.1", UserAgent(ctx))
	assert.Equal(t, "req-42", RequestID(ctx))
	assert.Equal(t, pinned, Now(ctx))
}
